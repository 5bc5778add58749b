package persistence

import (
	"context"
	"fmt"
	"time"

	"archive_server/core/domain"
)

// =============================================================================
// ActivityRepository
// =============================================================================

// CountParticipantsBetween counts distinct senders posting in [start, end).
func (s *Store) CountParticipantsBetween(ctx context.Context, listName string, start, end time.Time) (int, error) {
	var count int
	query := s.rebind(`
		SELECT COUNT(DISTINCT sender_email) FROM email
		WHERE list_name = ? AND date >= ? AND date < ?`)
	if err := s.db.GetContext(ctx, &count, query, listName, start, end); err != nil {
		return 0, fmt.Errorf("count participants: %w", err)
	}
	return count, nil
}

// CountThreadsBetween counts threads whose last activity falls in
// [start, end). A thread spanning two months is counted once, in the month
// of its date_active.
func (s *Store) CountThreadsBetween(ctx context.Context, listName string, start, end time.Time) (int, error) {
	var count int
	query := s.rebind(`
		SELECT COUNT(*) FROM thread
		WHERE list_name = ? AND date_active >= ? AND date_active < ?`)
	if err := s.db.GetContext(ctx, &count, query, listName, start, end); err != nil {
		return 0, fmt.Errorf("count threads: %w", err)
	}
	return count, nil
}

func (s *Store) GetTopParticipants(ctx context.Context, listName string, start, end time.Time, limit int) ([]domain.ParticipantCount, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []struct {
		Name    string `db:"name"`
		Address string `db:"address"`
		Count   int    `db:"count"`
	}
	query := s.rebind(`
		SELECT COALESCE(s.name, '') AS name, e.sender_email AS address, COUNT(*) AS count
		FROM email e JOIN sender s ON s.email = e.sender_email
		WHERE e.list_name = ? AND e.date >= ? AND e.date < ?
		GROUP BY e.sender_email, s.name
		ORDER BY count DESC, address
		LIMIT ?`)
	if err := s.db.SelectContext(ctx, &rows, query, listName, start, end, limit); err != nil {
		return nil, fmt.Errorf("get top participants: %w", err)
	}
	participants := make([]domain.ParticipantCount, len(rows))
	for i, r := range rows {
		participants[i] = domain.ParticipantCount{Name: r.Name, Address: r.Address, Count: r.Count}
	}
	return participants, nil
}
