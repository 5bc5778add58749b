// Package aggregate serves the cached per-list and per-thread aggregates
// and keeps them fresh through archive events and votes.
package aggregate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"archive_server/core/domain"
	"archive_server/core/port/out"
	"archive_server/pkg/apperr"
	"archive_server/pkg/eventbus"
)

// The recent-activity window spans 32 days and ends at the start of
// tomorrow (UTC), so today's traffic is always included. Recent counters
// expire after a day; everything else is invalidation-driven.
const (
	RecentWindowDays = 32
	RecentTTL        = 24 * time.Hour
)

// =============================================================================
// Cache Keys
// =============================================================================

func recentParticipantsKey(list string) string {
	return fmt.Sprintf("list:%s:recent_participants_count", list)
}

func recentThreadsKey(list string) string {
	return fmt.Sprintf("list:%s:recent_threads_count", list)
}

func monthParticipantsKey(list string, year, month int) string {
	return fmt.Sprintf("list:%s:participants_count:%d:%d", list, year, month)
}

func monthThreadsKey(list string, year, month int) string {
	return fmt.Sprintf("list:%s:threads_count:%d:%d", list, year, month)
}

func threadKey(list, threadID, stat string) string {
	return fmt.Sprintf("list:%s:thread:%s:%s", list, threadID, stat)
}

func emailKey(list, messageID, stat string) string {
	return fmt.Sprintf("list:%s:email:%s:%s", list, messageID, stat)
}

func userVotesKey(userID, list string) string {
	return fmt.Sprintf("user:%s:list:%s:votes", userID, list)
}

// =============================================================================
// Service
// =============================================================================

type Service struct {
	store out.Store
	cache out.Cache
	log   zerolog.Logger
	now   func() time.Time
}

func NewService(store out.Store, cache out.Cache, log zerolog.Logger) *Service {
	return &Service{store: store, cache: cache, log: log, now: time.Now}
}

// Register wires the invalidation subscribers onto the bus.
func (s *Service) Register(bus *eventbus.Bus) {
	bus.SubscribeNewMessage(s.OnNewMessage)
	bus.SubscribeNewThread(s.OnNewThread)
}

// RecentWindow returns the [start, end) interval of the recent-activity
// counters.
func (s *Service) RecentWindow() (start, end time.Time) {
	today := s.now().UTC().Truncate(24 * time.Hour)
	end = today.Add(24 * time.Hour)
	start = end.AddDate(0, 0, -RecentWindowDays)
	return start, end
}

func (s *Service) cachedInt(ctx context.Context, key string, ttl time.Duration, produce func(ctx context.Context) (int, error)) (int, error) {
	value, err := s.cache.GetOrCreate(ctx, key, ttl, func(ctx context.Context) (string, error) {
		n, err := produce(ctx)
		if err != nil {
			return "", err
		}
		return strconv.Itoa(n), nil
	})
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(value)
}

// =============================================================================
// Per-List Aggregates
// =============================================================================

func (s *Service) GetRecentParticipantsCount(ctx context.Context, list string) (int, error) {
	return s.cachedInt(ctx, recentParticipantsKey(list), RecentTTL, func(ctx context.Context) (int, error) {
		start, end := s.RecentWindow()
		return s.store.CountParticipantsBetween(ctx, list, start, end)
	})
}

func (s *Service) GetRecentThreadsCount(ctx context.Context, list string) (int, error) {
	return s.cachedInt(ctx, recentThreadsKey(list), RecentTTL, func(ctx context.Context) (int, error) {
		start, end := s.RecentWindow()
		return s.store.CountThreadsBetween(ctx, list, start, end)
	})
}

func monthBounds(year, month int) (start, end time.Time) {
	start = time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

func (s *Service) GetMonthActivity(ctx context.Context, list string, year, month int) (*domain.MonthActivity, error) {
	participants, err := s.cachedInt(ctx, monthParticipantsKey(list, year, month), 0, func(ctx context.Context) (int, error) {
		start, end := monthBounds(year, month)
		return s.store.CountParticipantsBetween(ctx, list, start, end)
	})
	if err != nil {
		return nil, err
	}
	threads, err := s.cachedInt(ctx, monthThreadsKey(list, year, month), 0, func(ctx context.Context) (int, error) {
		start, end := monthBounds(year, month)
		return s.store.CountThreadsBetween(ctx, list, start, end)
	})
	if err != nil {
		return nil, err
	}
	return &domain.MonthActivity{
		Year: year, Month: month,
		ParticipantsCount: participants,
		ThreadsCount:      threads,
	}, nil
}

// =============================================================================
// Per-Thread Aggregates
// =============================================================================

func (s *Service) GetThreadEmailsCount(ctx context.Context, list, threadID string) (int, error) {
	return s.cachedInt(ctx, threadKey(list, threadID, "emails_count"), 0, func(ctx context.Context) (int, error) {
		return s.store.CountThreadEmails(ctx, list, threadID)
	})
}

func (s *Service) GetThreadParticipantsCount(ctx context.Context, list, threadID string) (int, error) {
	return s.cachedInt(ctx, threadKey(list, threadID, "participants_count"), 0, func(ctx context.Context) (int, error) {
		return s.store.CountThreadParticipants(ctx, list, threadID)
	})
}

func (s *Service) GetThreadSubject(ctx context.Context, list, threadID string) (string, error) {
	return s.cache.GetOrCreate(ctx, threadKey(list, threadID, "subject"), 0, func(ctx context.Context) (string, error) {
		starting, err := s.store.GetStartingEmail(ctx, list, threadID)
		if err != nil {
			return "", err
		}
		if starting == nil {
			return "", nil
		}
		return starting.Subject, nil
	})
}

// GetThreadVotes caches likes and dislikes under their own keys so either
// side can be dropped or repopulated independently.
func (s *Service) GetThreadVotes(ctx context.Context, list, threadID string) (domain.VoteTally, error) {
	likes, err := s.cachedInt(ctx, threadKey(list, threadID, "likes"), 0, func(ctx context.Context) (int, error) {
		tally, err := s.store.CountThreadVotes(ctx, list, threadID)
		return tally.Likes, err
	})
	if err != nil {
		return domain.VoteTally{}, err
	}
	dislikes, err := s.cachedInt(ctx, threadKey(list, threadID, "dislikes"), 0, func(ctx context.Context) (int, error) {
		tally, err := s.store.CountThreadVotes(ctx, list, threadID)
		return tally.Dislikes, err
	})
	if err != nil {
		return domain.VoteTally{}, err
	}
	return domain.VoteTally{Likes: likes, Dislikes: dislikes}, nil
}

func (s *Service) GetMessageVotes(ctx context.Context, list, messageID string) (domain.VoteTally, error) {
	messageID = domain.TruncateMessageID(messageID)
	likes, err := s.cachedInt(ctx, emailKey(list, messageID, "likes"), 0, func(ctx context.Context) (int, error) {
		tally, err := s.store.CountMessageVotes(ctx, list, messageID)
		return tally.Likes, err
	})
	if err != nil {
		return domain.VoteTally{}, err
	}
	dislikes, err := s.cachedInt(ctx, emailKey(list, messageID, "dislikes"), 0, func(ctx context.Context) (int, error) {
		tally, err := s.store.CountMessageVotes(ctx, list, messageID)
		return tally.Dislikes, err
	})
	if err != nil {
		return domain.VoteTally{}, err
	}
	return domain.VoteTally{Likes: likes, Dislikes: dislikes}, nil
}

// GetUserVotes tallies the votes received by a user's messages in a list.
func (s *Service) GetUserVotes(ctx context.Context, userID, list string) (domain.VoteTally, error) {
	value, err := s.cache.GetOrCreate(ctx, userVotesKey(userID, list), 0, func(ctx context.Context) (string, error) {
		tally, err := s.store.CountUserVotesInList(ctx, userID, list)
		if err != nil {
			return "", err
		}
		encoded, err := json.Marshal(tally)
		if err != nil {
			return "", err
		}
		return string(encoded), nil
	})
	if err != nil {
		return domain.VoteTally{}, err
	}
	var tally domain.VoteTally
	if err := json.Unmarshal([]byte(value), &tally); err != nil {
		return domain.VoteTally{}, err
	}
	return tally, nil
}

// =============================================================================
// Voting
// =============================================================================

// Vote records a user's vote on a message. Re-casting the same value is a
// no-op and triggers no invalidation; zero cancels and deletes the row.
// Unknown voters get a user row on first vote.
func (s *Service) Vote(ctx context.Context, list, messageID, userID string, value int) error {
	if !domain.ValidVoteValue(value) {
		return apperr.ErrInvalidVote.WithDetail("value", value)
	}
	messageID = domain.TruncateMessageID(messageID)

	email, err := s.store.GetMessageByID(ctx, list, messageID)
	if err != nil {
		return err
	}
	if email == nil {
		return apperr.ErrMessageNotFound.WithDetail("message_id", messageID)
	}

	existing, err := s.store.GetVote(ctx, list, messageID, userID)
	if err != nil {
		return err
	}
	switch {
	case value == domain.VoteCancel:
		if existing == nil {
			return nil
		}
		if err := s.store.DeleteVote(ctx, list, messageID, userID); err != nil {
			return err
		}
	case existing != nil && existing.Value == value:
		return nil
	default:
		user, err := s.store.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			if err := s.store.CreateUser(ctx, userID, "", ""); err != nil {
				return err
			}
		}
		if err := s.store.SetVote(ctx, &domain.Vote{
			ListName: list, MessageID: messageID, UserID: userID, Value: value,
		}); err != nil {
			return err
		}
	}

	keys := []string{
		emailKey(list, messageID, "likes"),
		emailKey(list, messageID, "dislikes"),
		threadKey(list, email.ThreadID, "likes"),
		threadKey(list, email.ThreadID, "dislikes"),
		userVotesKey(userID, list),
	}
	// The message author's received-votes tally changes too.
	if email.UserID != "" && email.UserID != userID {
		keys = append(keys, userVotesKey(email.UserID, list))
	}
	return s.cache.DeleteMulti(ctx, keys)
}

// =============================================================================
// Event Subscribers
// =============================================================================

// OnNewMessage drops the counters the new email touched. Recent counters
// are only dropped when the email's date falls inside the window, so bulk
// imports of old archives do not thrash them.
func (s *Service) OnNewMessage(ctx context.Context, ev eventbus.NewMessage) error {
	e := ev.Email
	keys := []string{
		monthParticipantsKey(e.ListName, e.Date.Year(), int(e.Date.Month())),
		monthThreadsKey(e.ListName, e.Date.Year(), int(e.Date.Month())),
		threadKey(e.ListName, e.ThreadID, "emails_count"),
		threadKey(e.ListName, e.ThreadID, "participants_count"),
	}
	start, end := s.RecentWindow()
	if !e.Date.Before(start) && e.Date.Before(end) {
		keys = append(keys,
			recentParticipantsKey(e.ListName),
			recentThreadsKey(e.ListName))
	}
	return s.cache.DeleteMulti(ctx, keys)
}

// OnNewThread seeds the thread subject instead of waiting for the first
// read: the starting email's subject is already known here.
func (s *Service) OnNewThread(ctx context.Context, ev eventbus.NewThread) error {
	t := ev.Thread
	return s.cache.Set(ctx, threadKey(t.ListName, t.ThreadID, "subject"), t.Subject, 0)
}
