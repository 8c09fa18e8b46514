package entity

import (
	"sort"
	"time"
)

type ConversationKind string

const (
	ConversationDirect ConversationKind = "dm"
	ConversationGroup  ConversationKind = "group"
	ConversationRoster ConversationKind = "roster"
)

func (k ConversationKind) Valid() bool {
	switch k {
	case ConversationDirect, ConversationGroup, ConversationRoster:
		return true
	}
	return false
}

// ParticipantSummary is a denormalized snapshot of a Directory record taken when
// the participant joined. It is a display cache, not the source of identity.
type ParticipantSummary struct {
	ID       string `json:"id" firestore:"id"`
	Name     string `json:"name" firestore:"name"`
	Email    string `json:"email" firestore:"email"`
	PhotoURL string `json:"photo_url,omitempty" firestore:"photoURL"`
}

type Conversation struct {
	ID                 string               `json:"id" firestore:"id"`
	Type               ConversationKind     `json:"type" firestore:"type"`
	Name               string               `json:"name,omitempty" firestore:"name,omitempty"`
	Participants       []string             `json:"participants" firestore:"participants"`
	VisibleTo          []string             `json:"visible_to" firestore:"visibleTo"`
	ParticipantDetails []ParticipantSummary `json:"participant_details" firestore:"participantDetails"`
	UnreadCounts       map[string]int       `json:"unread_counts" firestore:"unreadCounts"`
	HiddenHistory      map[string]time.Time `json:"hidden_history,omitempty" firestore:"hiddenHistory,omitempty"`
	LastMessage        string               `json:"last_message" firestore:"lastMessage"`
	LastMessageTime    time.Time            `json:"last_message_time" firestore:"lastMessageTime,serverTimestamp"`
	PhotoURL           string               `json:"photo_url,omitempty" firestore:"photoURL,omitempty"`
	RosterID           string               `json:"roster_id,omitempty" firestore:"rosterId,omitempty"`
	CreatedAt          time.Time            `json:"created_at" firestore:"createdAt,serverTimestamp"`

	// Pending marks a locally drafted conversation that has not been persisted yet.
	// It is replaced by the authoritative snapshot once the store reports it.
	Pending bool `json:"pending,omitempty" firestore:"-"`
}

func (c *Conversation) HasParticipant(userID string) bool {
	return containsString(c.Participants, userID)
}

func (c *Conversation) IsVisibleTo(userID string) bool {
	return containsString(c.VisibleTo, userID)
}

func (c *Conversation) UnreadFor(userID string) int {
	if c.UnreadCounts == nil {
		return 0
	}
	return c.UnreadCounts[userID]
}

// HistoryCutoff returns the instant before which userID must not see messages.
func (c *Conversation) HistoryCutoff(userID string) (time.Time, bool) {
	if c.HiddenHistory == nil {
		return time.Time{}, false
	}
	cutoff, ok := c.HiddenHistory[userID]
	return cutoff, ok
}

func (c *Conversation) Summary(userID string) (ParticipantSummary, bool) {
	for _, s := range c.ParticipantDetails {
		if s.ID == userID {
			return s, true
		}
	}
	return ParticipantSummary{}, false
}

// DisplayName derives the list title. Direct conversations are named after the
// other participant rather than a stored name.
func (c *Conversation) DisplayName(viewerID string) string {
	if c.Type != ConversationDirect {
		return c.Name
	}
	for _, s := range c.ParticipantDetails {
		if s.ID != viewerID {
			return s.Name
		}
	}
	return c.Name
}

// Clone returns a deep copy so callers can hand snapshots to other goroutines.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	out.VisibleTo = append([]string(nil), c.VisibleTo...)
	out.ParticipantDetails = append([]ParticipantSummary(nil), c.ParticipantDetails...)
	if c.UnreadCounts != nil {
		out.UnreadCounts = make(map[string]int, len(c.UnreadCounts))
		for k, v := range c.UnreadCounts {
			out.UnreadCounts[k] = v
		}
	}
	if c.HiddenHistory != nil {
		out.HiddenHistory = make(map[string]time.Time, len(c.HiddenHistory))
		for k, v := range c.HiddenHistory {
			out.HiddenHistory[k] = v
		}
	}
	return &out
}

// SameParticipants reports whether two id lists describe the same set, ignoring order and duplicates.
func SameParticipants(a, b []string) bool {
	as, bs := UniqueSorted(a), UniqueSorted(b)
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func UniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func containsString(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
