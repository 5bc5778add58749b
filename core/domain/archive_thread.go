package domain

import "time"

// Thread is a conversation inside one list, identified by
// (list_name, thread_id) where thread_id is the message-id hash of the
// starting email.
type Thread struct {
	ListName   string
	ThreadID   string
	DateActive time.Time // max(email.Date) over the thread's emails
	Category   string    // optional named tag, empty when unset
	Subject    string    // cached from the starting email
}

// Category is a named thread tag, created on demand.
type Category struct {
	ID   int64
	Name string
}
