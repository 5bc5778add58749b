package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"archive_server/core/domain"
)

// =============================================================================
// Attachment Rows
// =============================================================================

type attachmentRow struct {
	ListName    string         `db:"list_name"`
	MessageID   string         `db:"message_id"`
	Counter     int            `db:"counter"`
	Name        sql.NullString `db:"name"`
	ContentType sql.NullString `db:"content_type"`
	Encoding    sql.NullString `db:"encoding"`
	Size        int            `db:"size"`
	Content     []byte         `db:"content"`
}

func (r *attachmentRow) toEntity() *domain.Attachment {
	return &domain.Attachment{
		ListName:    r.ListName,
		MessageID:   r.MessageID,
		Counter:     r.Counter,
		Name:        r.Name.String,
		ContentType: r.ContentType.String,
		Encoding:    r.Encoding.String,
		Size:        r.Size,
		Content:     r.Content,
	}
}

const attachmentColumns = `list_name, message_id, counter, name, content_type, encoding, size, content`

// =============================================================================
// AttachmentRepository
// =============================================================================

func (s *Store) GetAttachments(ctx context.Context, listName, messageID string) ([]*domain.Attachment, error) {
	var rows []attachmentRow
	query := s.rebind(`
		SELECT ` + attachmentColumns + ` FROM attachment
		WHERE list_name = ? AND message_id = ?
		ORDER BY counter`)
	if err := s.db.SelectContext(ctx, &rows, query, listName, domain.TruncateMessageID(messageID)); err != nil {
		return nil, fmt.Errorf("get attachments: %w", err)
	}
	attachments := make([]*domain.Attachment, len(rows))
	for i := range rows {
		attachments[i] = rows[i].toEntity()
	}
	return attachments, nil
}

func (s *Store) GetAttachmentByCounter(ctx context.Context, listName, messageID string, counter int) (*domain.Attachment, error) {
	var row attachmentRow
	query := s.rebind(`
		SELECT ` + attachmentColumns + ` FROM attachment
		WHERE list_name = ? AND message_id = ? AND counter = ?`)
	if err := s.db.GetContext(ctx, &row, query, listName, domain.TruncateMessageID(messageID), counter); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get attachment: %w", err)
	}
	return row.toEntity(), nil
}
