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
// Email Rows
// =============================================================================

type emailRow struct {
	ListName      string         `db:"list_name"`
	MessageID     string         `db:"message_id"`
	SenderEmail   string         `db:"sender_email"`
	Subject       sql.NullString `db:"subject"`
	Content       sql.NullString `db:"content"`
	Date          time.Time      `db:"date"`
	Timezone      int            `db:"timezone"`
	InReplyTo     sql.NullString `db:"in_reply_to"`
	MessageIDHash string         `db:"message_id_hash"`
	ThreadID      string         `db:"thread_id"`
	ArchivedDate  time.Time      `db:"archived_date"`
	ThreadDepth   int            `db:"thread_depth"`
	ThreadOrder   int            `db:"thread_order"`
	SenderName    sql.NullString `db:"sender_name"`
	UserID        sql.NullString `db:"user_id"`
}

func (r *emailRow) toEntity() *domain.Email {
	return &domain.Email{
		ListName:      r.ListName,
		MessageID:     r.MessageID,
		SenderAddress: r.SenderEmail,
		Subject:       r.Subject.String,
		Content:       r.Content.String,
		Date:          r.Date.UTC(),
		Timezone:      r.Timezone,
		InReplyTo:     r.InReplyTo.String,
		MessageIDHash: r.MessageIDHash,
		ThreadID:      r.ThreadID,
		ArchivedDate:  r.ArchivedDate.UTC(),
		ThreadDepth:   r.ThreadDepth,
		ThreadOrder:   r.ThreadOrder,
		SenderName:    r.SenderName.String,
		UserID:        r.UserID.String,
	}
}

const emailColumns = `e.list_name, e.message_id, e.sender_email, e.subject, e.content,
	e.date, e.timezone, e.in_reply_to, e.message_id_hash, e.thread_id,
	e.archived_date, e.thread_depth, e.thread_order,
	s.name AS sender_name, s.user_id AS user_id`

const emailFrom = ` FROM email e JOIN sender s ON s.email = e.sender_email `

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// =============================================================================
// EmailRepository
// =============================================================================

// InsertMessage writes the email row, its raw bytes and attachments in one
// transaction and bumps the thread's date_active. A foreign-key failure on
// the attachment rows rolls the whole insert back; withTx retries once.
func (s *Store) InsertMessage(ctx context.Context, rec *out.MessageRecord) error {
	e := rec.Email
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if rec.NewThread {
			_, err := tx.ExecContext(ctx, s.rebind(`
				INSERT INTO thread (list_name, thread_id, date_active, subject)
				VALUES (?, ?, ?, ?)`),
				e.ListName, e.ThreadID, e.Date, e.Subject)
			if err != nil {
				return fmt.Errorf("insert thread: %w", err)
			}
		}

		_, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO email (list_name, message_id, sender_email, subject, content,
				date, timezone, in_reply_to, message_id_hash, thread_id,
				archived_date, thread_depth, thread_order)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			e.ListName, e.MessageID, e.SenderAddress, e.Subject, e.Content,
			e.Date, e.Timezone, nullable(e.InReplyTo), e.MessageIDHash, e.ThreadID,
			e.ArchivedDate, e.ThreadDepth, e.ThreadOrder)
		if err != nil {
			if isUniqueViolation(err) {
				return apperr.ErrDuplicateMessage.WithError(err)
			}
			return fmt.Errorf("insert email: %w", err)
		}

		if len(rec.Full) > 0 {
			_, err = tx.ExecContext(ctx, s.rebind(`
				INSERT INTO email_full (list_name, message_id, "full") VALUES (?, ?, ?)`),
				e.ListName, e.MessageID, rec.Full)
			if err != nil {
				return fmt.Errorf("insert email_full: %w", err)
			}
		}

		for _, att := range rec.Attachments {
			_, err = tx.ExecContext(ctx, s.rebind(`
				INSERT INTO attachment (list_name, message_id, counter, name,
					content_type, encoding, size, content)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
				e.ListName, e.MessageID, att.Counter, att.Name,
				att.ContentType, nullable(att.Encoding), att.Size, att.Content)
			if err != nil {
				return fmt.Errorf("insert attachment %d: %w", att.Counter, err)
			}
		}

		_, err = tx.ExecContext(ctx, s.rebind(`
			UPDATE thread SET date_active = ?
			WHERE list_name = ? AND thread_id = ? AND date_active < ?`),
			e.Date, e.ListName, e.ThreadID, e.Date)
		if err != nil {
			return fmt.Errorf("update thread date_active: %w", err)
		}
		return nil
	})
}

func (s *Store) IsMessageInList(ctx context.Context, listName, messageID string) (bool, error) {
	var count int
	query := s.rebind(`SELECT COUNT(*) FROM email WHERE list_name = ? AND message_id = ?`)
	if err := s.db.GetContext(ctx, &count, query, listName, domain.TruncateMessageID(messageID)); err != nil {
		return false, fmt.Errorf("is message in list: %w", err)
	}
	return count > 0, nil
}

func (s *Store) GetMessageByHash(ctx context.Context, listName, hash string) (*domain.Email, error) {
	var row emailRow
	query := s.rebind(`SELECT ` + emailColumns + emailFrom +
		`WHERE e.list_name = ? AND e.message_id_hash = ?`)
	if err := s.db.GetContext(ctx, &row, query, listName, hash); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get message by hash: %w", err)
	}
	return row.toEntity(), nil
}

// GetMessageByID truncates oversize ids transparently, matching the write
// path.
func (s *Store) GetMessageByID(ctx context.Context, listName, messageID string) (*domain.Email, error) {
	var row emailRow
	query := s.rebind(`SELECT ` + emailColumns + emailFrom +
		`WHERE e.list_name = ? AND e.message_id = ?`)
	if err := s.db.GetContext(ctx, &row, query, listName, domain.TruncateMessageID(messageID)); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get message by id: %w", err)
	}
	return row.toEntity(), nil
}

func (s *Store) GetMessages(ctx context.Context, listName string, start, end time.Time) ([]*domain.Email, error) {
	var rows []emailRow
	query := s.rebind(`SELECT ` + emailColumns + emailFrom +
		`WHERE e.list_name = ? AND e.date >= ? AND e.date < ?
		ORDER BY e.date DESC`)
	if err := s.db.SelectContext(ctx, &rows, query, listName, start, end); err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	return toEmails(rows), nil
}

func (s *Store) GetMessageDates(ctx context.Context, listName string, start, end time.Time) ([]time.Time, error) {
	var dates []time.Time
	query := s.rebind(`
		SELECT date FROM email
		WHERE list_name = ? AND date >= ? AND date < ?
		ORDER BY date`)
	if err := s.db.SelectContext(ctx, &dates, query, listName, start, end); err != nil {
		return nil, fmt.Errorf("get message dates: %w", err)
	}
	for i := range dates {
		dates[i] = dates[i].UTC()
	}
	return dates, nil
}

// GetMessageByNumber returns the num-th message of the list in archival
// order, zero-based.
func (s *Store) GetMessageByNumber(ctx context.Context, listName string, num int) (*domain.Email, error) {
	var row emailRow
	query := s.rebind(`SELECT ` + emailColumns + emailFrom +
		`WHERE e.list_name = ?
		ORDER BY e.archived_date, e.message_id
		LIMIT 1 OFFSET ?`)
	if err := s.db.GetContext(ctx, &row, query, listName, num); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get message by number: %w", err)
	}
	return row.toEntity(), nil
}

func (s *Store) GetStartDate(ctx context.Context, listName string) (time.Time, error) {
	return s.boundaryDate(ctx, listName, "MIN")
}

func (s *Store) GetLastDate(ctx context.Context, listName string) (time.Time, error) {
	return s.boundaryDate(ctx, listName, "MAX")
}

func (s *Store) boundaryDate(ctx context.Context, listName, agg string) (time.Time, error) {
	var date sql.NullTime
	query := s.rebind(`SELECT ` + agg + `(date) FROM email WHERE list_name = ?`)
	if err := s.db.GetContext(ctx, &date, query, listName); err != nil {
		return time.Time{}, fmt.Errorf("get %s date: %w", agg, err)
	}
	if !date.Valid {
		return time.Time{}, nil
	}
	return date.Time.UTC(), nil
}

func (s *Store) GetRawMessage(ctx context.Context, listName, messageID string) ([]byte, error) {
	var full []byte
	query := s.rebind(`SELECT "full" FROM email_full WHERE list_name = ? AND message_id = ?`)
	if err := s.db.GetContext(ctx, &full, query, listName, domain.TruncateMessageID(messageID)); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get raw message: %w", err)
	}
	return full, nil
}

// DeleteMessage removes the email; attachments, raw bytes and votes go with
// it via cascade, and an emptied thread is removed too.
func (s *Store) DeleteMessage(ctx context.Context, listName, messageID string) error {
	messageID = domain.TruncateMessageID(messageID)
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var threadID string
		err := tx.GetContext(ctx, &threadID, s.rebind(`
			SELECT thread_id FROM email WHERE list_name = ? AND message_id = ?`),
			listName, messageID)
		if err == sql.ErrNoRows {
			return apperr.ErrMessageNotFound.WithDetail("message_id", messageID)
		}
		if err != nil {
			return fmt.Errorf("find message thread: %w", err)
		}

		if _, err := tx.ExecContext(ctx, s.rebind(`
			DELETE FROM email WHERE list_name = ? AND message_id = ?`),
			listName, messageID); err != nil {
			return fmt.Errorf("delete email: %w", err)
		}

		var remaining int
		if err := tx.GetContext(ctx, &remaining, s.rebind(`
			SELECT COUNT(*) FROM email WHERE list_name = ? AND thread_id = ?`),
			listName, threadID); err != nil {
			return fmt.Errorf("count thread emails: %w", err)
		}
		if remaining == 0 {
			if _, err := tx.ExecContext(ctx, s.rebind(`
				DELETE FROM thread WHERE list_name = ? AND thread_id = ?`),
				listName, threadID); err != nil {
				return fmt.Errorf("delete empty thread: %w", err)
			}
		}
		return nil
	})
}

// ForEachMessage streams all emails in archived_date order, batchSize rows
// at a time. Used by index rebuilds.
func (s *Store) ForEachMessage(ctx context.Context, batchSize int, fn func(*domain.Email) error) error {
	if batchSize <= 0 {
		batchSize = 1000
	}
	offset := 0
	for {
		var rows []emailRow
		query := s.rebind(`SELECT ` + emailColumns + emailFrom +
			`ORDER BY e.archived_date, e.list_name, e.message_id
			LIMIT ? OFFSET ?`)
		if err := s.db.SelectContext(ctx, &rows, query, batchSize, offset); err != nil {
			return fmt.Errorf("scan messages: %w", err)
		}
		for i := range rows {
			if err := fn(rows[i].toEntity()); err != nil {
				return err
			}
		}
		if len(rows) < batchSize {
			return nil
		}
		offset += batchSize
	}
}

func toEmails(rows []emailRow) []*domain.Email {
	emails := make([]*domain.Email, len(rows))
	for i := range rows {
		emails[i] = rows[i].toEntity()
	}
	return emails
}
