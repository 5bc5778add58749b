package domain

import "time"

// ArchivePolicy gates whether a list's messages are persisted and whether
// cross-list searches may see them.
type ArchivePolicy int

const (
	ArchiveNever   ArchivePolicy = iota // drop before persistence
	ArchivePrivate                      // archived, hidden from cross-list search
	ArchivePublic                       // archived and searchable
)

func (p ArchivePolicy) String() string {
	switch p {
	case ArchiveNever:
		return "never"
	case ArchivePrivate:
		return "private"
	case ArchivePublic:
		return "public"
	default:
		return "unknown"
	}
}

// ParseArchivePolicy converts a policy name; unknown names default to public,
// matching the behavior of lists that predate the policy setting.
func ParseArchivePolicy(s string) ArchivePolicy {
	switch s {
	case "never":
		return ArchiveNever
	case "private":
		return ArchivePrivate
	default:
		return ArchivePublic
	}
}

// List is an archived mailing-list. Its properties are mirrored from the
// Mailman-side list object on every incoming message, latest wins.
type List struct {
	Name          string // fully-qualified list address, primary key
	DisplayName   string
	Description   string
	SubjectPrefix string
	ArchivePolicy ArchivePolicy
	CreatedAt     time.Time
}

// MonthActivity is the cached per-month aggregate for a list.
type MonthActivity struct {
	Year              int `json:"year"`
	Month             int `json:"month"`
	ParticipantsCount int `json:"participants_count"`
	ThreadsCount      int `json:"threads_count"`
}
