package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"archive_server/core/domain"
)

// =============================================================================
// List Rows
// =============================================================================

type listRow struct {
	Name          string         `db:"name"`
	DisplayName   sql.NullString `db:"display_name"`
	Description   sql.NullString `db:"description"`
	SubjectPrefix sql.NullString `db:"subject_prefix"`
	ArchivePolicy int            `db:"archive_policy"`
	CreatedAt     sql.NullTime   `db:"created_at"`
}

func (r *listRow) toEntity() *domain.List {
	return &domain.List{
		Name:          r.Name,
		DisplayName:   r.DisplayName.String,
		Description:   r.Description.String,
		SubjectPrefix: r.SubjectPrefix.String,
		ArchivePolicy: domain.ArchivePolicy(r.ArchivePolicy),
		CreatedAt:     r.CreatedAt.Time,
	}
}

const listColumns = `name, display_name, description, subject_prefix, archive_policy, created_at`

// =============================================================================
// ListRepository
// =============================================================================

// UpsertList mirrors the Mailman-side list properties, latest wins.
func (s *Store) UpsertList(ctx context.Context, list *domain.List) error {
	createdAt := list.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	query := s.rebind(`
		INSERT INTO list (name, display_name, description, subject_prefix, archive_policy, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			display_name = excluded.display_name,
			description = excluded.description,
			subject_prefix = excluded.subject_prefix,
			archive_policy = excluded.archive_policy`)
	_, err := s.db.ExecContext(ctx, query,
		list.Name, list.DisplayName, list.Description, list.SubjectPrefix,
		int(list.ArchivePolicy), createdAt)
	if err != nil {
		return fmt.Errorf("upsert list: %w", err)
	}
	return nil
}

func (s *Store) GetList(ctx context.Context, name string) (*domain.List, error) {
	var row listRow
	query := s.rebind(`SELECT ` + listColumns + ` FROM list WHERE name = ?`)
	if err := s.db.GetContext(ctx, &row, query, name); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get list: %w", err)
	}
	return row.toEntity(), nil
}

func (s *Store) GetLists(ctx context.Context) ([]*domain.List, error) {
	var rows []listRow
	query := `SELECT ` + listColumns + ` FROM list ORDER BY name`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("get lists: %w", err)
	}
	lists := make([]*domain.List, len(rows))
	for i := range rows {
		lists[i] = rows[i].toEntity()
	}
	return lists, nil
}

func (s *Store) GetListNames(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.db.SelectContext(ctx, &names, `SELECT name FROM list ORDER BY name`); err != nil {
		return nil, fmt.Errorf("get list names: %w", err)
	}
	return names, nil
}

func (s *Store) GetListSize(ctx context.Context, name string) (int, error) {
	var count int
	query := s.rebind(`SELECT COUNT(*) FROM email WHERE list_name = ?`)
	if err := s.db.GetContext(ctx, &count, query, name); err != nil {
		return 0, fmt.Errorf("get list size: %w", err)
	}
	return count, nil
}
