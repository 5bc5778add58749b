package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"archive_server/core/domain"
)

// =============================================================================
// Sender Rows
// =============================================================================

type senderRow struct {
	Email  string         `db:"email"`
	Name   sql.NullString `db:"name"`
	UserID sql.NullString `db:"user_id"`
}

func (r *senderRow) toEntity() *domain.Sender {
	return &domain.Sender{
		Address: r.Email,
		Name:    r.Name.String,
		UserID:  r.UserID.String,
	}
}

// =============================================================================
// SenderRepository
// =============================================================================

// UpsertSender creates the sender or refreshes its display name. An already
// assigned user_id is never overwritten here.
func (s *Store) UpsertSender(ctx context.Context, sender *domain.Sender) error {
	query := s.rebind(`
		INSERT INTO sender (email, name, user_id) VALUES (?, ?, ?)
		ON CONFLICT (email) DO UPDATE SET name = excluded.name`)
	_, err := s.db.ExecContext(ctx, query,
		sender.Address, sender.Name, nullable(sender.UserID))
	if err != nil {
		return fmt.Errorf("upsert sender: %w", err)
	}
	return nil
}

func (s *Store) GetSender(ctx context.Context, address string) (*domain.Sender, error) {
	var row senderRow
	query := s.rebind(`SELECT email, name, user_id FROM sender WHERE email = ?`)
	if err := s.db.GetContext(ctx, &row, query, address); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get sender: %w", err)
	}
	return row.toEntity(), nil
}

func (s *Store) SetSenderUser(ctx context.Context, address, userID string) error {
	query := s.rebind(`UPDATE sender SET user_id = ? WHERE email = ?`)
	if _, err := s.db.ExecContext(ctx, query, nullable(userID), address); err != nil {
		return fmt.Errorf("set sender user: %w", err)
	}
	return nil
}

func (s *Store) GetSendersWithoutUser(ctx context.Context, limit int) ([]*domain.Sender, error) {
	if limit <= 0 {
		limit = 1000
	}
	var rows []senderRow
	query := s.rebind(`
		SELECT email, name, user_id FROM sender
		WHERE user_id IS NULL ORDER BY email LIMIT ?`)
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("get senders without user: %w", err)
	}
	senders := make([]*domain.Sender, len(rows))
	for i := range rows {
		senders[i] = rows[i].toEntity()
	}
	return senders, nil
}

func (s *Store) CountSendersWithoutUser(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM sender WHERE user_id IS NULL`); err != nil {
		return 0, fmt.Errorf("count senders without user: %w", err)
	}
	return count, nil
}

// CreateUser records the external identity and claims the sender address in
// one transaction. Re-creating an existing user is a no-op.
func (s *Store) CreateUser(ctx context.Context, userID, address, name string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO "user" (id, created_at) VALUES (?, ?)
			ON CONFLICT (id) DO NOTHING`), userID, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		if address == "" {
			return nil
		}
		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO sender (email, name, user_id) VALUES (?, ?, ?)
			ON CONFLICT (email) DO UPDATE SET user_id = excluded.user_id`),
			address, name, userID)
		if err != nil {
			return fmt.Errorf("claim sender: %w", err)
		}
		return nil
	})
}

func (s *Store) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	var id string
	query := s.rebind(`SELECT id FROM "user" WHERE id = ?`)
	if err := s.db.GetContext(ctx, &id, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &domain.User{ID: id}, nil
}

func (s *Store) GetUsersCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM "user"`); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func (s *Store) GetFirstPost(ctx context.Context, listName, userID string) (*domain.Email, error) {
	var row emailRow
	query := s.rebind(`SELECT ` + emailColumns + emailFrom +
		`WHERE e.list_name = ? AND s.user_id = ?
		ORDER BY e.date LIMIT 1`)
	if err := s.db.GetContext(ctx, &row, query, listName, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get first post: %w", err)
	}
	return row.toEntity(), nil
}

func (s *Store) GetMessagesByUserID(ctx context.Context, userID, listName string) ([]*domain.Email, error) {
	var rows []emailRow
	query := s.rebind(`SELECT ` + emailColumns + emailFrom +
		`WHERE e.list_name = ? AND s.user_id = ?
		ORDER BY e.date DESC`)
	if err := s.db.SelectContext(ctx, &rows, query, listName, userID); err != nil {
		return nil, fmt.Errorf("get messages by user: %w", err)
	}
	return toEmails(rows), nil
}

func (s *Store) GetMessageCountByUserID(ctx context.Context, userID, listName string) (int, error) {
	var count int
	query := s.rebind(`
		SELECT COUNT(*) FROM email e JOIN sender s ON s.email = e.sender_email
		WHERE e.list_name = ? AND s.user_id = ?`)
	if err := s.db.GetContext(ctx, &count, query, listName, userID); err != nil {
		return 0, fmt.Errorf("count messages by user: %w", err)
	}
	return count, nil
}

func (s *Store) GetMessageHashesByUserID(ctx context.Context, userID, listName string) ([]string, error) {
	var hashes []string
	query := s.rebind(`
		SELECT e.message_id_hash FROM email e JOIN sender s ON s.email = e.sender_email
		WHERE e.list_name = ? AND s.user_id = ?
		ORDER BY e.date`)
	if err := s.db.SelectContext(ctx, &hashes, query, listName, userID); err != nil {
		return nil, fmt.Errorf("get message hashes by user: %w", err)
	}
	return hashes, nil
}

func (s *Store) GetThreadsUserPostedTo(ctx context.Context, userID, listName string) ([]*domain.Thread, error) {
	var rows []threadRow
	query := s.rebind(`
		SELECT DISTINCT ` + threadColumns + threadFrom + `
		JOIN email e ON e.list_name = t.list_name AND e.thread_id = t.thread_id
		JOIN sender s ON s.email = e.sender_email
		WHERE t.list_name = ? AND s.user_id = ?
		ORDER BY t.date_active DESC`)
	if err := s.db.SelectContext(ctx, &rows, query, listName, userID); err != nil {
		return nil, fmt.Errorf("get threads user posted to: %w", err)
	}
	threads := make([]*domain.Thread, len(rows))
	for i := range rows {
		threads[i] = rows[i].toEntity()
	}
	return threads, nil
}
