package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"archive_server/core/domain"
	"archive_server/core/port/out"
	"archive_server/pkg/apperr"
)

// =============================================================================
// Thread Rows
// =============================================================================

type threadRow struct {
	ListName   string         `db:"list_name"`
	ThreadID   string         `db:"thread_id"`
	DateActive time.Time      `db:"date_active"`
	Subject    sql.NullString `db:"subject"`
	Category   sql.NullString `db:"category"`
}

func (r *threadRow) toEntity() *domain.Thread {
	return &domain.Thread{
		ListName:   r.ListName,
		ThreadID:   r.ThreadID,
		DateActive: r.DateActive.UTC(),
		Subject:    r.Subject.String,
		Category:   r.Category.String,
	}
}

const threadColumns = `t.list_name, t.thread_id, t.date_active, t.subject,
	c.name AS category`

const threadFrom = ` FROM thread t LEFT JOIN category c ON c.id = t.category_id `

// =============================================================================
// ThreadRepository
// =============================================================================

func (s *Store) GetThread(ctx context.Context, listName, threadID string) (*domain.Thread, error) {
	var row threadRow
	query := s.rebind(`SELECT ` + threadColumns + threadFrom +
		`WHERE t.list_name = ? AND t.thread_id = ?`)
	if err := s.db.GetContext(ctx, &row, query, listName, threadID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get thread: %w", err)
	}
	return row.toEntity(), nil
}

func (s *Store) GetThreads(ctx context.Context, listName string, start, end time.Time) ([]*domain.Thread, error) {
	var rows []threadRow
	query := s.rebind(`SELECT ` + threadColumns + threadFrom +
		`WHERE t.list_name = ? AND t.date_active >= ? AND t.date_active < ?
		ORDER BY t.date_active DESC`)
	if err := s.db.SelectContext(ctx, &rows, query, listName, start, end); err != nil {
		return nil, fmt.Errorf("get threads: %w", err)
	}
	threads := make([]*domain.Thread, len(rows))
	for i := range rows {
		threads[i] = rows[i].toEntity()
	}
	return threads, nil
}

// GetThreadNeighbors returns the threads directly before and after this one
// in the list's date_active ordering.
func (s *Store) GetThreadNeighbors(ctx context.Context, listName, threadID string) (prev, next *domain.Thread, err error) {
	thread, err := s.GetThread(ctx, listName, threadID)
	if err != nil {
		return nil, nil, err
	}
	if thread == nil {
		return nil, nil, nil
	}

	var prevRow threadRow
	query := s.rebind(`SELECT ` + threadColumns + threadFrom +
		`WHERE t.list_name = ? AND t.date_active < ? AND t.thread_id != ?
		ORDER BY t.date_active DESC LIMIT 1`)
	switch err := s.db.GetContext(ctx, &prevRow, query, listName, thread.DateActive, threadID); err {
	case nil:
		prev = prevRow.toEntity()
	case sql.ErrNoRows:
	default:
		return nil, nil, fmt.Errorf("get prev thread: %w", err)
	}

	var nextRow threadRow
	query = s.rebind(`SELECT ` + threadColumns + threadFrom +
		`WHERE t.list_name = ? AND t.date_active > ? AND t.thread_id != ?
		ORDER BY t.date_active ASC LIMIT 1`)
	switch err := s.db.GetContext(ctx, &nextRow, query, listName, thread.DateActive, threadID); err {
	case nil:
		next = nextRow.toEntity()
	case sql.ErrNoRows:
	default:
		return nil, nil, fmt.Errorf("get next thread: %w", err)
	}
	return prev, next, nil
}

// GetThreadEmails returns the thread's emails in canonical order: date,
// then message_id for a stable tie-break. The reply-tree walker consumes
// this order.
func (s *Store) GetThreadEmails(ctx context.Context, listName, threadID string) ([]*domain.Email, error) {
	var rows []emailRow
	query := s.rebind(`SELECT ` + emailColumns + emailFrom +
		`WHERE e.list_name = ? AND e.thread_id = ?
		ORDER BY e.date, e.archived_date, e.message_id`)
	if err := s.db.SelectContext(ctx, &rows, query, listName, threadID); err != nil {
		return nil, fmt.Errorf("get thread emails: %w", err)
	}
	return toEmails(rows), nil
}

func (s *Store) GetThreadEmailsByOrder(ctx context.Context, listName, threadID string) ([]*domain.Email, error) {
	var rows []emailRow
	query := s.rebind(`SELECT ` + emailColumns + emailFrom +
		`WHERE e.list_name = ? AND e.thread_id = ?
		ORDER BY e.thread_order`)
	if err := s.db.SelectContext(ctx, &rows, query, listName, threadID); err != nil {
		return nil, fmt.Errorf("get thread emails by order: %w", err)
	}
	return toEmails(rows), nil
}

// GetStartingEmail prefers the email with no reply link, else the earliest.
func (s *Store) GetStartingEmail(ctx context.Context, listName, threadID string) (*domain.Email, error) {
	var row emailRow
	query := s.rebind(`SELECT ` + emailColumns + emailFrom +
		`WHERE e.list_name = ? AND e.thread_id = ? AND e.in_reply_to IS NULL
		ORDER BY e.date LIMIT 1`)
	err := s.db.GetContext(ctx, &row, query, listName, threadID)
	if err == sql.ErrNoRows {
		query = s.rebind(`SELECT ` + emailColumns + emailFrom +
			`WHERE e.list_name = ? AND e.thread_id = ?
			ORDER BY e.date LIMIT 1`)
		err = s.db.GetContext(ctx, &row, query, listName, threadID)
	}
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get starting email: %w", err)
	}
	return row.toEntity(), nil
}

// UpdateThreadPositions writes recomputed order/depth pairs in one
// transaction.
func (s *Store) UpdateThreadPositions(ctx context.Context, listName, threadID string, positions []out.ThreadPosition) error {
	if len(positions) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		query := s.rebind(`
			UPDATE email SET thread_order = ?, thread_depth = ?
			WHERE list_name = ? AND thread_id = ? AND message_id = ?`)
		for _, p := range positions {
			if _, err := tx.ExecContext(ctx, query,
				p.Order, p.Depth, listName, threadID, p.MessageID); err != nil {
				return fmt.Errorf("update thread position: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) CountThreadEmails(ctx context.Context, listName, threadID string) (int, error) {
	var count int
	query := s.rebind(`SELECT COUNT(*) FROM email WHERE list_name = ? AND thread_id = ?`)
	if err := s.db.GetContext(ctx, &count, query, listName, threadID); err != nil {
		return 0, fmt.Errorf("count thread emails: %w", err)
	}
	return count, nil
}

func (s *Store) CountThreadParticipants(ctx context.Context, listName, threadID string) (int, error) {
	var count int
	query := s.rebind(`
		SELECT COUNT(DISTINCT sender_email) FROM email
		WHERE list_name = ? AND thread_id = ?`)
	if err := s.db.GetContext(ctx, &count, query, listName, threadID); err != nil {
		return 0, fmt.Errorf("count thread participants: %w", err)
	}
	return count, nil
}

func (s *Store) GetThreadParticipants(ctx context.Context, listName, threadID string) ([]*domain.Sender, error) {
	var rows []senderRow
	query := s.rebind(`
		SELECT DISTINCT s.email, s.name, s.user_id
		FROM sender s JOIN email e ON e.sender_email = s.email
		WHERE e.list_name = ? AND e.thread_id = ?
		ORDER BY s.email`)
	if err := s.db.SelectContext(ctx, &rows, query, listName, threadID); err != nil {
		return nil, fmt.Errorf("get thread participants: %w", err)
	}
	senders := make([]*domain.Sender, len(rows))
	for i := range rows {
		senders[i] = rows[i].toEntity()
	}
	return senders, nil
}

// SetThreadCategory tags the thread, creating the category on demand. An
// empty category clears the tag.
func (s *Store) SetThreadCategory(ctx context.Context, listName, threadID, category string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if category == "" {
			_, err := tx.ExecContext(ctx, s.rebind(`
				UPDATE thread SET category_id = NULL
				WHERE list_name = ? AND thread_id = ?`), listName, threadID)
			return err
		}
		_, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO category (name) VALUES (?) ON CONFLICT (name) DO NOTHING`),
			category)
		if err != nil {
			return fmt.Errorf("insert category: %w", err)
		}
		var categoryID int64
		if err := tx.GetContext(ctx, &categoryID,
			s.rebind(`SELECT id FROM category WHERE name = ?`), category); err != nil {
			return fmt.Errorf("get category: %w", err)
		}
		result, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE thread SET category_id = ?
			WHERE list_name = ? AND thread_id = ?`), categoryID, listName, threadID)
		if err != nil {
			return fmt.Errorf("set thread category: %w", err)
		}
		if n, err := result.RowsAffected(); err == nil && n == 0 {
			return apperr.ErrThreadNotFound.WithDetail("thread_id", threadID)
		}
		return nil
	})
}

func (s *Store) GetCategories(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.db.SelectContext(ctx, &names, `SELECT name FROM category ORDER BY name`); err != nil {
		return nil, fmt.Errorf("get categories: %w", err)
	}
	return names, nil
}
