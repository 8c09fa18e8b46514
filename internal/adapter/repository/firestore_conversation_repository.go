package repository

import (
	"context"
	"log"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"rosterchat/internal/domain/entity"
	"rosterchat/internal/domain/repository"
	"rosterchat/pkg/errors"
)

const (
	conversationsCollection = "chats"
	messagesCollection      = "messages"
)

type firestoreConversationRepository struct {
	client *firestore.Client
}

func NewFirestoreConversationRepository(client *firestore.Client) repository.ConversationRepository {
	return &firestoreConversationRepository{
		client: client,
	}
}

func (r *firestoreConversationRepository) conversations() *firestore.CollectionRef {
	return r.client.Collection(conversationsCollection)
}

func (r *firestoreConversationRepository) messages(conversationID string) *firestore.CollectionRef {
	return r.conversations().Doc(conversationID).Collection(messagesCollection)
}

func (r *firestoreConversationRepository) Create(ctx context.Context, conversation *entity.Conversation) error {
	if conversation.ID == "" {
		conversation.ID = uuid.New().String()
	}
	if conversation.UnreadCounts == nil {
		conversation.UnreadCounts = make(map[string]int)
	}

	wr, err := r.conversations().Doc(conversation.ID).Create(ctx, conversation)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return errors.Conflict("Conversation already exists")
		}
		return errors.Internal("Failed to create conversation", err)
	}

	conversation.CreatedAt = wr.UpdateTime
	if conversation.LastMessageTime.IsZero() {
		conversation.LastMessageTime = wr.UpdateTime
	}
	conversation.Pending = false
	return nil
}

func (r *firestoreConversationRepository) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	doc, err := r.conversations().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Conversation", err)
		}
		return nil, errors.Internal("Failed to get conversation", err)
	}

	return decodeConversation(doc)
}

func (r *firestoreConversationRepository) Update(ctx context.Context, id string, updates ...repository.FieldUpdate) error {
	fsUpdates, err := toFirestoreUpdates(updates)
	if err != nil {
		return err
	}

	_, err = r.conversations().Doc(id).Update(ctx, fsUpdates)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return errors.NotFound("Conversation", err)
		}
		return errors.Internal("Failed to update conversation", err)
	}

	return nil
}

// Delete removes the message sub-collection before the parent document, since
// Firestore does not cascade.
func (r *firestoreConversationRepository) Delete(ctx context.Context, id string) error {
	refs, err := r.messages(id).DocumentRefs(ctx).GetAll()
	if err != nil {
		return errors.Internal("Failed to list conversation messages", err)
	}

	if len(refs) > 0 {
		bw := r.client.BulkWriter(ctx)
		for _, ref := range refs {
			if _, err := bw.Delete(ref); err != nil {
				log.Printf("Delete conversation %s: failed to enqueue message %s: %v", id, ref.ID, err)
			}
		}
		bw.End()
	}

	if _, err := r.conversations().Doc(id).Delete(ctx); err != nil {
		return errors.Internal("Failed to delete conversation", err)
	}

	return nil
}

func (r *firestoreConversationRepository) ListByParticipant(ctx context.Context, userID string) ([]*entity.Conversation, error) {
	docs, err := r.conversations().Where(repository.FieldParticipants, "array-contains", userID).Documents(ctx).GetAll()
	if err != nil {
		log.Printf("Firestore error while fetching conversations for participant %s: %v", userID, err)
		return nil, errors.Internal("Failed to fetch conversations", err)
	}

	return decodeConversations(docs), nil
}

func (r *firestoreConversationRepository) visibleToQuery(userID string) firestore.Query {
	return r.conversations().
		Where(repository.FieldVisibleTo, "array-contains", userID).
		OrderBy(repository.FieldLastMessageTime, firestore.Desc)
}

func (r *firestoreConversationRepository) ListVisibleTo(ctx context.Context, userID string) ([]*entity.Conversation, error) {
	docs, err := r.visibleToQuery(userID).Documents(ctx).GetAll()
	if err != nil {
		log.Printf("Firestore error while fetching conversation list for user %s: %v", userID, err)
		return nil, errors.Internal("Failed to fetch conversations", err)
	}

	return decodeConversations(docs), nil
}

// newMessageID returns a time-ordered id. Ties on createdAt are ordered by
// document id, so messages sharing a commit time keep their assignment order.
func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

func (r *firestoreConversationRepository) CreateMessage(ctx context.Context, message *entity.Message) error {
	if message.ID == "" {
		message.ID = newMessageID()
	}

	wr, err := r.messages(message.ConversationID).Doc(message.ID).Create(ctx, message)
	if err != nil {
		return errors.Internal("Failed to create message", err)
	}

	message.CreatedAt = wr.UpdateTime
	return nil
}

// messageQuery selects the newest messages first; callers reverse the result.
func (r *firestoreConversationRepository) messageQuery(conversationID string, q repository.MessageQuery) firestore.Query {
	query := r.messages(conversationID).Query
	if !q.Since.IsZero() {
		query = query.Where("createdAt", ">=", q.Since)
	}
	query = query.OrderBy("createdAt", firestore.Desc)
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	return query
}

func (r *firestoreConversationRepository) ListMessages(ctx context.Context, conversationID string, q repository.MessageQuery) ([]*entity.Message, error) {
	docs, err := r.messageQuery(conversationID, q).Documents(ctx).GetAll()
	if err != nil {
		log.Printf("Firestore error while fetching messages for conversation %s: %v", conversationID, err)
		return nil, errors.Internal("Failed to fetch messages", err)
	}

	return decodeMessages(conversationID, docs), nil
}

func (r *firestoreConversationRepository) WatchVisibleTo(ctx context.Context, userID string) (repository.ConversationIterator, error) {
	return &firestoreConversationIterator{it: r.visibleToQuery(userID).Snapshots(ctx)}, nil
}

func (r *firestoreConversationRepository) WatchMessages(ctx context.Context, conversationID string, q repository.MessageQuery) (repository.MessageIterator, error) {
	return &firestoreMessageIterator{
		conversationID: conversationID,
		it:             r.messageQuery(conversationID, q).Snapshots(ctx),
	}, nil
}

type firestoreConversationIterator struct {
	it *firestore.QuerySnapshotIterator
}

func (i *firestoreConversationIterator) Next() ([]*entity.Conversation, error) {
	snap, err := i.it.Next()
	if err != nil {
		return nil, err
	}
	docs, err := snap.Documents.GetAll()
	if err != nil {
		return nil, err
	}
	return decodeConversations(docs), nil
}

func (i *firestoreConversationIterator) Stop() {
	i.it.Stop()
}

type firestoreMessageIterator struct {
	conversationID string
	it             *firestore.QuerySnapshotIterator
}

func (i *firestoreMessageIterator) Next() ([]*entity.Message, error) {
	snap, err := i.it.Next()
	if err != nil {
		return nil, err
	}
	docs, err := snap.Documents.GetAll()
	if err != nil {
		return nil, err
	}
	return decodeMessages(i.conversationID, docs), nil
}

func (i *firestoreMessageIterator) Stop() {
	i.it.Stop()
}

func decodeConversation(doc *firestore.DocumentSnapshot) (*entity.Conversation, error) {
	var conversation entity.Conversation
	if err := doc.DataTo(&conversation); err != nil {
		return nil, errors.Internal("Failed to parse conversation data", err)
	}
	conversation.ID = doc.Ref.ID
	if conversation.UnreadCounts == nil {
		conversation.UnreadCounts = make(map[string]int)
	}
	return &conversation, nil
}

func decodeConversations(docs []*firestore.DocumentSnapshot) []*entity.Conversation {
	conversations := make([]*entity.Conversation, 0, len(docs))
	for _, doc := range docs {
		conversation, err := decodeConversation(doc)
		if err != nil {
			log.Printf("Skipping malformed conversation %s: %v", doc.Ref.ID, err)
			continue
		}
		conversations = append(conversations, conversation)
	}
	return conversations
}

// decodeMessages turns a newest-first result into the oldest-first window.
func decodeMessages(conversationID string, docs []*firestore.DocumentSnapshot) []*entity.Message {
	messages := make([]*entity.Message, 0, len(docs))
	for i := len(docs) - 1; i >= 0; i-- {
		var message entity.Message
		if err := docs[i].DataTo(&message); err != nil {
			log.Printf("Skipping malformed message %s in conversation %s: %v", docs[i].Ref.ID, conversationID, err)
			continue
		}
		message.ID = docs[i].Ref.ID
		message.ConversationID = conversationID
		messages = append(messages, &message)
	}
	return messages
}

func toFirestoreUpdates(updates []repository.FieldUpdate) ([]firestore.Update, error) {
	out := make([]firestore.Update, 0, len(updates))
	for _, u := range updates {
		fu := firestore.Update{}
		if field, key, isMap := repository.SplitMapPath(u.Path); isMap {
			fu.FieldPath = firestore.FieldPath{field, key}
		} else {
			fu.Path = u.Path
		}

		switch u.Op {
		case repository.OpSet:
			fu.Value = u.Value
		case repository.OpIncrement:
			fu.Value = firestore.Increment(u.Value)
		case repository.OpArrayUnion:
			fu.Value = firestore.ArrayUnion(u.Values...)
		case repository.OpArrayRemove:
			fu.Value = firestore.ArrayRemove(u.Values...)
		case repository.OpDelete:
			fu.Value = firestore.Delete
		case repository.OpServerTimestamp:
			fu.Value = firestore.ServerTimestamp
		default:
			return nil, unsupportedOp(u)
		}
		out = append(out, fu)
	}
	return out, nil
}
