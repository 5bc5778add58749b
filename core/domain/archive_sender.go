package domain

// Sender links an email address to an optional external identity.
type Sender struct {
	Address string // lowercase email, primary key
	Name    string // latest seen display name
	UserID  string // external identity UUID, empty until enriched
}

// User is an external identity that may own several sender addresses.
type User struct {
	ID string // UUID
}

// ParticipantCount is one row of a top-participants aggregation.
type ParticipantCount struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Count   int    `json:"count"`
}
