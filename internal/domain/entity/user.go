package entity

// User is the Directory record the chat core reads. Profile storage itself is
// owned elsewhere.
type User struct {
	ID          string `json:"id" firestore:"id"`
	DisplayName string `json:"display_name" firestore:"displayName"`
	Email       string `json:"email" firestore:"email"`
	PhotoURL    string `json:"photo_url,omitempty" firestore:"photoURL,omitempty"`
}

func (u *User) Summary() ParticipantSummary {
	return ParticipantSummary{
		ID:       u.ID,
		Name:     u.DisplayName,
		Email:    u.Email,
		PhotoURL: u.PhotoURL,
	}
}
