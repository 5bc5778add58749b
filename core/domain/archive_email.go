package domain

import (
	"time"
	"unicode/utf8"
)

// Limits driven by the schema column widths. The truncation points must
// match between the write and read paths.
const (
	MaxMessageIDLen = 254
	MaxSubjectLen   = 2000
)

// TruncateMessageID cuts a Message-ID to the persisted width so that joins
// against over-long parent references stay valid.
func TruncateMessageID(id string) string {
	return truncate(id, MaxMessageIDLen)
}

// TruncateSubject limits subjects to the persisted width.
func TruncateSubject(s string) string {
	return truncate(s, MaxSubjectLen)
}

// truncate cuts at most max bytes, backing off to a rune boundary so the
// stored value stays valid UTF-8.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Email is an archived message, identified by (list_name, message_id).
type Email struct {
	ListName      string
	MessageID     string
	SenderAddress string
	Subject       string
	Content       string // canonical scrubbed text, UTF-8
	Date          time.Time
	// Timezone is the signed minutes offset from UTC at the source;
	// Date itself is UTC-normalized.
	Timezone      int
	InReplyTo     string // parent message-id, empty when the email starts a thread
	MessageIDHash string // 32-char uppercase base32 of SHA1(message_id)
	ThreadID      string
	ArchivedDate  time.Time
	ThreadDepth   int
	ThreadOrder   int

	// Denormalized sender fields, populated on reads that join sender.
	SenderName string `json:"sender_name,omitempty"`
	UserID     string `json:"user_id,omitempty"`
}

// EmailFull holds the raw original bytes, split from Email so the hot rows
// stay narrow.
type EmailFull struct {
	ListName  string
	MessageID string
	Full      []byte
}

// Attachment is a detached MIME part. Counter is the MIME-walk ordinal.
type Attachment struct {
	ListName    string
	MessageID   string
	Counter     int
	Name        string
	ContentType string
	Encoding    string // empty when the part carried no charset
	Size        int
	Content     []byte
}

// LikeStatus summarizes a like/dislike balance.
func LikeStatus(likes, dislikes int) string {
	switch {
	case likes-dislikes >= 10:
		return "likealot"
	case likes-dislikes > 0:
		return "like"
	default:
		return "neutral"
	}
}
