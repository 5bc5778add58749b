package out

import (
	"context"
	"time"
)

// SearchDoc is one email as indexed for full-text search.
type SearchDoc struct {
	ListName    string    `json:"list_name"`
	MessageID   string    `json:"message_id"`
	Sender      string    `json:"sender"` // "name address"
	UserID      string    `json:"user_id,omitempty"`
	Subject     string    `json:"subject"`
	Content     string    `json:"content"`
	Date        time.Time `json:"date"`
	Attachments string    `json:"attachments,omitempty"` // space-joined names
	Tags        string    `json:"tags,omitempty"`        // comma-separated
	PrivateList bool      `json:"private_list"`
}

// SearchResult is a page of matches.
type SearchResult struct {
	Total   uint64      `json:"total"`
	Results []SearchDoc `json:"results"`
}

// SearchIndex is the full-text index over archived emails. Searches not
// scoped to a list see public lists only.
type SearchIndex interface {
	Add(ctx context.Context, doc *SearchDoc) error
	Search(ctx context.Context, query, listName string, page, limit int) (*SearchResult, error)
	// Flush commits buffered adds; a no-op for immediate-commit indexes.
	Flush(ctx context.Context) error
	Close() error
}

// IdentityResolver maps a sender address to an external identity UUID.
// A nil uuid with nil error means "no such user".
type IdentityResolver interface {
	Resolve(ctx context.Context, address string) (string, error)
}
