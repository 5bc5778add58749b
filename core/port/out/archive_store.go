package out

import (
	"context"
	"time"

	"archive_server/core/domain"
)

// ThreadPosition is one email's computed place in its thread's reply tree.
type ThreadPosition struct {
	MessageID string
	Order     int
	Depth     int
}

// MessageRecord bundles everything persisted for one incoming email. The
// insert is one transaction: thread row (when NewThread), email row, raw
// bytes, attachments, thread date_active update.
type MessageRecord struct {
	Email       *domain.Email
	Full        []byte
	Attachments []domain.Attachment
	NewThread   bool
}

// ListRepository mirrors and reads archived-list rows.
type ListRepository interface {
	UpsertList(ctx context.Context, list *domain.List) error
	GetList(ctx context.Context, name string) (*domain.List, error)
	GetLists(ctx context.Context) ([]*domain.List, error)
	GetListNames(ctx context.Context) ([]string, error)
	GetListSize(ctx context.Context, name string) (int, error)
}

// EmailRepository persists and queries archived emails.
type EmailRepository interface {
	InsertMessage(ctx context.Context, rec *MessageRecord) error
	IsMessageInList(ctx context.Context, listName, messageID string) (bool, error)
	GetMessageByHash(ctx context.Context, listName, hash string) (*domain.Email, error)
	GetMessageByID(ctx context.Context, listName, messageID string) (*domain.Email, error)
	GetMessages(ctx context.Context, listName string, start, end time.Time) ([]*domain.Email, error)
	GetMessageDates(ctx context.Context, listName string, start, end time.Time) ([]time.Time, error)
	GetMessageByNumber(ctx context.Context, listName string, num int) (*domain.Email, error)
	GetStartDate(ctx context.Context, listName string) (time.Time, error)
	GetLastDate(ctx context.Context, listName string) (time.Time, error)
	GetRawMessage(ctx context.Context, listName, messageID string) ([]byte, error)
	// DeleteMessage cascades to attachments and votes and removes the
	// thread when it becomes empty. Missing messages fail with
	// MESSAGE_NOT_FOUND.
	DeleteMessage(ctx context.Context, listName, messageID string) error
	// ForEachMessage streams every archived email in archived_date order,
	// loading batchSize rows at a time.
	ForEachMessage(ctx context.Context, batchSize int, fn func(*domain.Email) error) error
}

// ThreadRepository reads and maintains conversation threads.
type ThreadRepository interface {
	GetThread(ctx context.Context, listName, threadID string) (*domain.Thread, error)
	GetThreads(ctx context.Context, listName string, start, end time.Time) ([]*domain.Thread, error)
	GetThreadNeighbors(ctx context.Context, listName, threadID string) (prev, next *domain.Thread, err error)
	// GetThreadEmails returns the thread's emails ordered by date then
	// insertion, the order the thread engine walks them in.
	GetThreadEmails(ctx context.Context, listName, threadID string) ([]*domain.Email, error)
	// GetThreadEmailsByOrder returns them in computed thread_order.
	GetThreadEmailsByOrder(ctx context.Context, listName, threadID string) ([]*domain.Email, error)
	GetStartingEmail(ctx context.Context, listName, threadID string) (*domain.Email, error)
	UpdateThreadPositions(ctx context.Context, listName, threadID string, positions []ThreadPosition) error
	CountThreadEmails(ctx context.Context, listName, threadID string) (int, error)
	CountThreadParticipants(ctx context.Context, listName, threadID string) (int, error)
	GetThreadParticipants(ctx context.Context, listName, threadID string) ([]*domain.Sender, error)
	SetThreadCategory(ctx context.Context, listName, threadID, category string) error
	GetCategories(ctx context.Context) ([]string, error)
}

// ActivityRepository computes the per-list aggregates behind the cache layer.
type ActivityRepository interface {
	CountParticipantsBetween(ctx context.Context, listName string, start, end time.Time) (int, error)
	CountThreadsBetween(ctx context.Context, listName string, start, end time.Time) (int, error)
	GetTopParticipants(ctx context.Context, listName string, start, end time.Time, limit int) ([]domain.ParticipantCount, error)
}

// VoteRepository stores user votes on messages.
type VoteRepository interface {
	GetVote(ctx context.Context, listName, messageID, userID string) (*domain.Vote, error)
	SetVote(ctx context.Context, vote *domain.Vote) error
	DeleteVote(ctx context.Context, listName, messageID, userID string) error
	CountMessageVotes(ctx context.Context, listName, messageID string) (domain.VoteTally, error)
	CountThreadVotes(ctx context.Context, listName, threadID string) (domain.VoteTally, error)
	CountUserVotesInList(ctx context.Context, userID, listName string) (domain.VoteTally, error)
}

// SenderRepository manages sender rows and their external identities.
type SenderRepository interface {
	UpsertSender(ctx context.Context, sender *domain.Sender) error
	GetSender(ctx context.Context, address string) (*domain.Sender, error)
	SetSenderUser(ctx context.Context, address, userID string) error
	GetSendersWithoutUser(ctx context.Context, limit int) ([]*domain.Sender, error)
	CountSendersWithoutUser(ctx context.Context) (int, error)
	CreateUser(ctx context.Context, userID, address, name string) error
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	GetUsersCount(ctx context.Context) (int, error)
	GetFirstPost(ctx context.Context, listName, userID string) (*domain.Email, error)
	GetMessagesByUserID(ctx context.Context, userID, listName string) ([]*domain.Email, error)
	GetMessageCountByUserID(ctx context.Context, userID, listName string) (int, error)
	GetMessageHashesByUserID(ctx context.Context, userID, listName string) ([]string, error)
	GetThreadsUserPostedTo(ctx context.Context, userID, listName string) ([]*domain.Thread, error)
}

// AttachmentRepository reads detached MIME parts.
type AttachmentRepository interface {
	GetAttachments(ctx context.Context, listName, messageID string) ([]*domain.Attachment, error)
	GetAttachmentByCounter(ctx context.Context, listName, messageID string, counter int) (*domain.Attachment, error)
}

// Store is the full persistence contract.
type Store interface {
	ListRepository
	EmailRepository
	ThreadRepository
	ActivityRepository
	VoteRepository
	SenderRepository
	AttachmentRepository
}
