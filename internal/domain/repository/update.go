package repository

import "strings"

type UpdateOp int

const (
	OpSet UpdateOp = iota
	OpIncrement
	OpArrayUnion
	OpArrayRemove
	OpDelete
	OpServerTimestamp
)

// FieldUpdate is one atomic change to a single field path of a conversation
// document. Shared collection fields are only ever changed through
// OpIncrement, OpArrayUnion, OpArrayRemove, OpDelete, or a single map key
// OpSet, so concurrent writers touching different keys do not clobber each
// other.
type FieldUpdate struct {
	Path   string
	Op     UpdateOp
	Value  interface{}
	Values []interface{}
}

func Set(path string, value interface{}) FieldUpdate {
	return FieldUpdate{Path: path, Op: OpSet, Value: value}
}

func Increment(path string, n int) FieldUpdate {
	return FieldUpdate{Path: path, Op: OpIncrement, Value: n}
}

func ArrayUnion(path string, values ...interface{}) FieldUpdate {
	return FieldUpdate{Path: path, Op: OpArrayUnion, Values: values}
}

func ArrayRemove(path string, values ...interface{}) FieldUpdate {
	return FieldUpdate{Path: path, Op: OpArrayRemove, Values: values}
}

func DeleteField(path string) FieldUpdate {
	return FieldUpdate{Path: path, Op: OpDelete}
}

func ServerTimestamp(path string) FieldUpdate {
	return FieldUpdate{Path: path, Op: OpServerTimestamp}
}

// Field paths of the persisted conversation document.
const (
	FieldType               = "type"
	FieldName               = "name"
	FieldParticipants       = "participants"
	FieldVisibleTo          = "visibleTo"
	FieldParticipantDetails = "participantDetails"
	FieldUnreadCounts       = "unreadCounts"
	FieldHiddenHistory      = "hiddenHistory"
	FieldLastMessage        = "lastMessage"
	FieldLastMessageTime    = "lastMessageTime"
	FieldPhotoURL           = "photoURL"
)

func UnreadCountPath(userID string) string {
	return FieldUnreadCounts + "." + userID
}

func HiddenHistoryPath(userID string) string {
	return FieldHiddenHistory + "." + userID
}

// SplitMapPath splits "unreadCounts.<uid>" into its field and key.
func SplitMapPath(path string) (field, key string, ok bool) {
	idx := strings.Index(path, ".")
	if idx <= 0 || idx == len(path)-1 {
		return path, "", false
	}
	return path[:idx], path[idx+1:], true
}

// StringValues converts ids into ArrayUnion/ArrayRemove operands.
func StringValues(ids ...string) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
