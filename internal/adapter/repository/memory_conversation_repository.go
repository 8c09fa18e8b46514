package repository

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"rosterchat/internal/domain/entity"
	"rosterchat/internal/domain/repository"
	"rosterchat/pkg/errors"
)

// memoryConversationRepository keeps conversations in process. Every Update is
// applied atomically per document and every mutation wakes the live iterators,
// which is the same contract the Firestore backend offers.
type memoryConversationRepository struct {
	mu            sync.Mutex
	conversations map[string]*entity.Conversation
	messages      map[string][]*entity.Message
	lastStamp     time.Time
	watchers      map[*memoryWatch]struct{}
}

func NewMemoryConversationRepository() repository.ConversationRepository {
	return &memoryConversationRepository{
		conversations: make(map[string]*entity.Conversation),
		messages:      make(map[string][]*entity.Message),
		watchers:      make(map[*memoryWatch]struct{}),
	}
}

// serverTime hands out strictly increasing timestamps at Firestore precision.
// Caller holds r.mu.
func (r *memoryConversationRepository) serverTime() time.Time {
	now := time.Now().UTC().Truncate(time.Microsecond)
	if !now.After(r.lastStamp) {
		now = r.lastStamp.Add(time.Microsecond)
	}
	r.lastStamp = now
	return now
}

func (r *memoryConversationRepository) Create(ctx context.Context, conversation *entity.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conversation.ID == "" {
		conversation.ID = uuid.New().String()
	}
	if _, exists := r.conversations[conversation.ID]; exists {
		return errors.Conflict("Conversation already exists")
	}

	now := r.serverTime()
	conversation.CreatedAt = now
	if conversation.LastMessageTime.IsZero() {
		conversation.LastMessageTime = now
	}
	if conversation.UnreadCounts == nil {
		conversation.UnreadCounts = make(map[string]int)
	}
	conversation.Pending = false

	r.conversations[conversation.ID] = conversation.Clone()
	r.notifyLocked()
	return nil
}

func (r *memoryConversationRepository) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conversation, ok := r.conversations[id]
	if !ok {
		return nil, errors.NotFound("Conversation", nil)
	}
	return conversation.Clone(), nil
}

func (r *memoryConversationRepository) Update(ctx context.Context, id string, updates ...repository.FieldUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.conversations[id]
	if !ok {
		return errors.NotFound("Conversation", nil)
	}

	next := current.Clone()
	for _, update := range updates {
		if err := r.apply(next, update); err != nil {
			return err
		}
	}

	r.conversations[id] = next
	r.notifyLocked()
	return nil
}

func (r *memoryConversationRepository) apply(c *entity.Conversation, u repository.FieldUpdate) error {
	if field, key, isMap := repository.SplitMapPath(u.Path); isMap {
		switch field {
		case repository.FieldUnreadCounts:
			if c.UnreadCounts == nil {
				c.UnreadCounts = make(map[string]int)
			}
			switch u.Op {
			case repository.OpSet:
				n, ok := u.Value.(int)
				if !ok {
					return errors.BadRequest(fmt.Sprintf("%s expects an int", u.Path), nil)
				}
				c.UnreadCounts[key] = n
			case repository.OpIncrement:
				n, _ := u.Value.(int)
				c.UnreadCounts[key] += n
			case repository.OpDelete:
				delete(c.UnreadCounts, key)
			default:
				return unsupportedOp(u)
			}
			return nil
		case repository.FieldHiddenHistory:
			if c.HiddenHistory == nil {
				c.HiddenHistory = make(map[string]time.Time)
			}
			switch u.Op {
			case repository.OpSet:
				t, ok := u.Value.(time.Time)
				if !ok {
					return errors.BadRequest(fmt.Sprintf("%s expects a time", u.Path), nil)
				}
				c.HiddenHistory[key] = t
			case repository.OpServerTimestamp:
				c.HiddenHistory[key] = r.serverTime()
			case repository.OpDelete:
				delete(c.HiddenHistory, key)
			default:
				return unsupportedOp(u)
			}
			return nil
		}
		return unsupportedOp(u)
	}

	switch u.Path {
	case repository.FieldParticipants:
		return applyStringArray(&c.Participants, u)
	case repository.FieldVisibleTo:
		return applyStringArray(&c.VisibleTo, u)
	case repository.FieldParticipantDetails:
		return applySummaryArray(&c.ParticipantDetails, u)
	case repository.FieldName:
		return applyString(&c.Name, u)
	case repository.FieldLastMessage:
		return applyString(&c.LastMessage, u)
	case repository.FieldPhotoURL:
		return applyString(&c.PhotoURL, u)
	case repository.FieldLastMessageTime:
		switch u.Op {
		case repository.OpServerTimestamp:
			c.LastMessageTime = r.serverTime()
		case repository.OpSet:
			t, ok := u.Value.(time.Time)
			if !ok {
				return errors.BadRequest("lastMessageTime expects a time", nil)
			}
			c.LastMessageTime = t
		default:
			return unsupportedOp(u)
		}
		return nil
	case repository.FieldType:
		if u.Op != repository.OpSet {
			return unsupportedOp(u)
		}
		switch v := u.Value.(type) {
		case entity.ConversationKind:
			c.Type = v
		case string:
			c.Type = entity.ConversationKind(v)
		default:
			return errors.BadRequest("type expects a string", nil)
		}
		return nil
	}
	return unsupportedOp(u)
}

func applyString(target *string, u repository.FieldUpdate) error {
	switch u.Op {
	case repository.OpSet:
		s, ok := u.Value.(string)
		if !ok {
			return errors.BadRequest(fmt.Sprintf("%s expects a string", u.Path), nil)
		}
		*target = s
	case repository.OpDelete:
		*target = ""
	default:
		return unsupportedOp(u)
	}
	return nil
}

func applyStringArray(target *[]string, u repository.FieldUpdate) error {
	switch u.Op {
	case repository.OpSet:
		ids, ok := u.Value.([]string)
		if !ok {
			return errors.BadRequest(fmt.Sprintf("%s expects a string list", u.Path), nil)
		}
		*target = append([]string(nil), ids...)
	case repository.OpArrayUnion:
		for _, v := range u.Values {
			id, ok := v.(string)
			if !ok {
				return errors.BadRequest(fmt.Sprintf("%s expects string elements", u.Path), nil)
			}
			if !containsString(*target, id) {
				*target = append(*target, id)
			}
		}
	case repository.OpArrayRemove:
		kept := (*target)[:0:0]
		for _, existing := range *target {
			if !containsValue(u.Values, existing) {
				kept = append(kept, existing)
			}
		}
		*target = kept
	default:
		return unsupportedOp(u)
	}
	return nil
}

func applySummaryArray(target *[]entity.ParticipantSummary, u repository.FieldUpdate) error {
	switch u.Op {
	case repository.OpSet:
		summaries, ok := u.Value.([]entity.ParticipantSummary)
		if !ok {
			return errors.BadRequest("participantDetails expects summaries", nil)
		}
		*target = append([]entity.ParticipantSummary(nil), summaries...)
	case repository.OpArrayUnion:
		for _, v := range u.Values {
			s, ok := v.(entity.ParticipantSummary)
			if !ok {
				return errors.BadRequest("participantDetails expects summary elements", nil)
			}
			if !containsSummary(*target, s) {
				*target = append(*target, s)
			}
		}
	case repository.OpArrayRemove:
		kept := (*target)[:0:0]
		for _, existing := range *target {
			if !containsValue(u.Values, existing) {
				kept = append(kept, existing)
			}
		}
		*target = kept
	default:
		return unsupportedOp(u)
	}
	return nil
}

func unsupportedOp(u repository.FieldUpdate) error {
	return errors.BadRequest(fmt.Sprintf("unsupported update %d on %s", u.Op, u.Path), nil)
}

func containsString(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func containsSummary(slice []entity.ParticipantSummary, item entity.ParticipantSummary) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func containsValue(values []interface{}, item interface{}) bool {
	for _, v := range values {
		if v == item {
			return true
		}
	}
	return false
}

func (r *memoryConversationRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.conversations, id)
	delete(r.messages, id)
	r.notifyLocked()
	return nil
}

func (r *memoryConversationRepository) ListByParticipant(ctx context.Context, userID string) ([]*entity.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.collectLocked(func(c *entity.Conversation) bool { return c.HasParticipant(userID) }), nil
}

func (r *memoryConversationRepository) ListVisibleTo(ctx context.Context, userID string) ([]*entity.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.visibleToLocked(userID), nil
}

func (r *memoryConversationRepository) visibleToLocked(userID string) []*entity.Conversation {
	return r.collectLocked(func(c *entity.Conversation) bool { return c.IsVisibleTo(userID) })
}

func (r *memoryConversationRepository) collectLocked(match func(*entity.Conversation) bool) []*entity.Conversation {
	var out []*entity.Conversation
	for _, c := range r.conversations {
		if match(c) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastMessageTime.Equal(out[j].LastMessageTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastMessageTime.After(out[j].LastMessageTime)
	})
	return out
}

func (r *memoryConversationRepository) CreateMessage(ctx context.Context, message *entity.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conversations[message.ConversationID]; !ok {
		return errors.NotFound("Conversation", nil)
	}
	if message.ID == "" {
		message.ID = newMessageID()
	}
	message.CreatedAt = r.serverTime()

	stored := *message
	r.messages[message.ConversationID] = append(r.messages[message.ConversationID], &stored)
	r.notifyLocked()
	return nil
}

func (r *memoryConversationRepository) ListMessages(ctx context.Context, conversationID string, query repository.MessageQuery) ([]*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.messagesLocked(conversationID, query), nil
}

func (r *memoryConversationRepository) messagesLocked(conversationID string, query repository.MessageQuery) []*entity.Message {
	var window []*entity.Message
	for _, m := range r.messages[conversationID] {
		if !query.Since.IsZero() && m.CreatedAt.Before(query.Since) {
			continue
		}
		copied := *m
		window = append(window, &copied)
	}
	if query.Limit > 0 && len(window) > query.Limit {
		window = window[len(window)-query.Limit:]
	}
	return window
}

func (r *memoryConversationRepository) WatchVisibleTo(ctx context.Context, userID string) (repository.ConversationIterator, error) {
	w := r.newWatch(ctx)
	return &memoryConversationIterator{
		watch: w,
		load: func() []*entity.Conversation {
			r.mu.Lock()
			defer r.mu.Unlock()
			return r.visibleToLocked(userID)
		},
	}, nil
}

func (r *memoryConversationRepository) WatchMessages(ctx context.Context, conversationID string, query repository.MessageQuery) (repository.MessageIterator, error) {
	w := r.newWatch(ctx)
	return &memoryMessageIterator{
		watch: w,
		load: func() []*entity.Message {
			r.mu.Lock()
			defer r.mu.Unlock()
			return r.messagesLocked(conversationID, query)
		},
	}, nil
}

func (r *memoryConversationRepository) newWatch(ctx context.Context) *memoryWatch {
	w := &memoryWatch{
		ctx:     ctx,
		changed: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	w.release = func() {
		r.mu.Lock()
		delete(r.watchers, w)
		r.mu.Unlock()
	}

	r.mu.Lock()
	r.watchers[w] = struct{}{}
	r.mu.Unlock()
	return w
}

func (r *memoryConversationRepository) notifyLocked() {
	for w := range r.watchers {
		w.signal()
	}
}

// memoryWatch coalesces change signals: a burst of writes between two Next
// calls produces a single snapshot of the latest state.
type memoryWatch struct {
	ctx      context.Context
	changed  chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	release  func()
	started  bool
}

func (w *memoryWatch) signal() {
	select {
	case w.changed <- struct{}{}:
	default:
	}
}

func (w *memoryWatch) wait() error {
	select {
	case <-w.done:
		return iterator.Done
	case <-w.ctx.Done():
		return w.ctx.Err()
	default:
	}

	if !w.started {
		w.started = true
		return nil
	}

	select {
	case <-w.changed:
		return nil
	case <-w.done:
		return iterator.Done
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
}

func (w *memoryWatch) stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.release()
	})
}

type memoryConversationIterator struct {
	watch *memoryWatch
	load  func() []*entity.Conversation
	last  []*entity.Conversation
	sent  bool
}

func (it *memoryConversationIterator) Next() ([]*entity.Conversation, error) {
	for {
		if err := it.watch.wait(); err != nil {
			return nil, err
		}
		snapshot := it.load()
		if it.sent && reflect.DeepEqual(snapshot, it.last) {
			continue
		}
		it.last, it.sent = snapshot, true
		out := make([]*entity.Conversation, len(snapshot))
		for i, c := range snapshot {
			out[i] = c.Clone()
		}
		return out, nil
	}
}

func (it *memoryConversationIterator) Stop() {
	it.watch.stop()
}

type memoryMessageIterator struct {
	watch *memoryWatch
	load  func() []*entity.Message
	last  []*entity.Message
	sent  bool
}

func (it *memoryMessageIterator) Next() ([]*entity.Message, error) {
	for {
		if err := it.watch.wait(); err != nil {
			return nil, err
		}
		snapshot := it.load()
		if it.sent && reflect.DeepEqual(snapshot, it.last) {
			continue
		}
		it.last, it.sent = snapshot, true
		out := make([]*entity.Message, len(snapshot))
		for i, m := range snapshot {
			copied := *m
			out[i] = &copied
		}
		return out, nil
	}
}

func (it *memoryMessageIterator) Stop() {
	it.watch.stop()
}
