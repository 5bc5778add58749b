package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"archive_server/core/domain"
)

// =============================================================================
// VoteRepository
// =============================================================================

func (s *Store) GetVote(ctx context.Context, listName, messageID, userID string) (*domain.Vote, error) {
	var value int
	query := s.rebind(`
		SELECT value FROM vote
		WHERE list_name = ? AND message_id = ? AND user_id = ?`)
	if err := s.db.GetContext(ctx, &value, query, listName, messageID, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get vote: %w", err)
	}
	return &domain.Vote{ListName: listName, MessageID: messageID, UserID: userID, Value: value}, nil
}

func (s *Store) SetVote(ctx context.Context, vote *domain.Vote) error {
	query := s.rebind(`
		INSERT INTO vote (list_name, message_id, user_id, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (list_name, message_id, user_id) DO UPDATE SET value = excluded.value`)
	_, err := s.db.ExecContext(ctx, query,
		vote.ListName, vote.MessageID, vote.UserID, vote.Value)
	if err != nil {
		return fmt.Errorf("set vote: %w", err)
	}
	return nil
}

func (s *Store) DeleteVote(ctx context.Context, listName, messageID, userID string) error {
	query := s.rebind(`
		DELETE FROM vote WHERE list_name = ? AND message_id = ? AND user_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, listName, messageID, userID); err != nil {
		return fmt.Errorf("delete vote: %w", err)
	}
	return nil
}

func (s *Store) CountMessageVotes(ctx context.Context, listName, messageID string) (domain.VoteTally, error) {
	query := s.rebind(`
		SELECT
			COALESCE(SUM(CASE WHEN value = 1 THEN 1 ELSE 0 END), 0) AS likes,
			COALESCE(SUM(CASE WHEN value = -1 THEN 1 ELSE 0 END), 0) AS dislikes
		FROM vote WHERE list_name = ? AND message_id = ?`)
	return s.tally(ctx, query, listName, messageID)
}

func (s *Store) CountThreadVotes(ctx context.Context, listName, threadID string) (domain.VoteTally, error) {
	query := s.rebind(`
		SELECT
			COALESCE(SUM(CASE WHEN v.value = 1 THEN 1 ELSE 0 END), 0) AS likes,
			COALESCE(SUM(CASE WHEN v.value = -1 THEN 1 ELSE 0 END), 0) AS dislikes
		FROM vote v JOIN email e
			ON e.list_name = v.list_name AND e.message_id = v.message_id
		WHERE e.list_name = ? AND e.thread_id = ?`)
	return s.tally(ctx, query, listName, threadID)
}

func (s *Store) CountUserVotesInList(ctx context.Context, userID, listName string) (domain.VoteTally, error) {
	// Votes received by the user's messages, not votes cast.
	query := s.rebind(`
		SELECT
			COALESCE(SUM(CASE WHEN v.value = 1 THEN 1 ELSE 0 END), 0) AS likes,
			COALESCE(SUM(CASE WHEN v.value = -1 THEN 1 ELSE 0 END), 0) AS dislikes
		FROM vote v
		JOIN email e ON e.list_name = v.list_name AND e.message_id = v.message_id
		JOIN sender s ON s.email = e.sender_email
		WHERE s.user_id = ? AND e.list_name = ?`)
	return s.tally(ctx, query, userID, listName)
}

func (s *Store) tally(ctx context.Context, query string, args ...any) (domain.VoteTally, error) {
	var row struct {
		Likes    int `db:"likes"`
		Dislikes int `db:"dislikes"`
	}
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		return domain.VoteTally{}, fmt.Errorf("count votes: %w", err)
	}
	return domain.VoteTally{Likes: row.Likes, Dislikes: row.Dislikes}, nil
}
