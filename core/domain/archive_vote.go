package domain

// Vote values; zero cancels an existing vote and deletes the row.
const (
	VoteDislike = -1
	VoteCancel  = 0
	VoteLike    = 1
)

// ValidVoteValue reports whether v is an accepted vote value.
func ValidVoteValue(v int) bool {
	return v == VoteDislike || v == VoteCancel || v == VoteLike
}

// Vote is one user's vote on a message.
type Vote struct {
	ListName  string
	MessageID string
	UserID    string
	Value     int
}

// VoteTally is a likes/dislikes pair.
type VoteTally struct {
	Likes    int `json:"likes"`
	Dislikes int `json:"dislikes"`
}
