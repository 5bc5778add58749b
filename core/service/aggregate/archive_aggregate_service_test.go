package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"archive_server/core/domain"
	"archive_server/core/port/out"
	"archive_server/pkg/apperr"
	"archive_server/pkg/cache"
	"archive_server/pkg/eventbus"
	"archive_server/pkg/logger"
)

// fakeStore stubs the handful of store calls the aggregate service makes.
// Untouched methods come from the embedded nil interface and panic if hit.
type fakeStore struct {
	out.Store

	participantCalls int
	threadCalls      int
	emails           map[string]*domain.Email
	votes            map[string]*domain.Vote
	users            map[string]bool
	createdUsers     []string
	deletedVotes     []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		emails: map[string]*domain.Email{},
		votes:  map[string]*domain.Vote{},
		users:  map[string]bool{},
	}
}

func (f *fakeStore) CountParticipantsBetween(ctx context.Context, list string, start, end time.Time) (int, error) {
	f.participantCalls++
	return 7, nil
}

func (f *fakeStore) CountThreadsBetween(ctx context.Context, list string, start, end time.Time) (int, error) {
	f.threadCalls++
	return 3, nil
}

func (f *fakeStore) GetMessageByID(ctx context.Context, list, messageID string) (*domain.Email, error) {
	return f.emails[messageID], nil
}

func (f *fakeStore) GetVote(ctx context.Context, list, messageID, userID string) (*domain.Vote, error) {
	return f.votes[messageID+"/"+userID], nil
}

func (f *fakeStore) SetVote(ctx context.Context, v *domain.Vote) error {
	f.votes[v.MessageID+"/"+v.UserID] = v
	return nil
}

func (f *fakeStore) DeleteVote(ctx context.Context, list, messageID, userID string) error {
	delete(f.votes, messageID+"/"+userID)
	f.deletedVotes = append(f.deletedVotes, messageID+"/"+userID)
	return nil
}

func (f *fakeStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	if f.users[userID] {
		return &domain.User{ID: userID}, nil
	}
	return nil, nil
}

func (f *fakeStore) CreateUser(ctx context.Context, userID, address, name string) error {
	f.users[userID] = true
	f.createdUsers = append(f.createdUsers, userID)
	return nil
}

func (f *fakeStore) CountMessageVotes(ctx context.Context, list, messageID string) (domain.VoteTally, error) {
	tally := domain.VoteTally{}
	for _, v := range f.votes {
		switch v.Value {
		case domain.VoteLike:
			tally.Likes++
		case domain.VoteDislike:
			tally.Dislikes++
		}
	}
	return tally, nil
}

// countingCache tracks invalidations.
type countingCache struct {
	out.Cache
	deletes int
}

func (c *countingCache) DeleteMulti(ctx context.Context, keys []string) error {
	c.deletes++
	return c.Cache.DeleteMulti(ctx, keys)
}

func newTestService(store out.Store) (*Service, *countingCache) {
	c := &countingCache{Cache: cache.NewMemoryCache()}
	return NewService(store, c, logger.Nop()), c
}

func TestRecentCountsAreCached(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	svc, _ := newTestService(store)

	for i := 0; i < 3; i++ {
		n, err := svc.GetRecentParticipantsCount(ctx, "devel@x")
		if err != nil || n != 7 {
			t.Fatalf("GetRecentParticipantsCount = (%d, %v), want 7", n, err)
		}
	}
	if store.participantCalls != 1 {
		t.Errorf("store hit %d times, want 1", store.participantCalls)
	}
}

func TestRecentWindowSpans32Days(t *testing.T) {
	svc, _ := newTestService(newFakeStore())
	svc.now = func() time.Time {
		return time.Date(2012, 11, 2, 15, 30, 0, 0, time.UTC)
	}
	start, end := svc.RecentWindow()
	if !end.Equal(time.Date(2012, 11, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("end = %v, want tomorrow midnight", end)
	}
	if !start.Equal(end.AddDate(0, 0, -RecentWindowDays)) {
		t.Errorf("start = %v", start)
	}
}

func TestMonthActivity(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	svc, _ := newTestService(store)

	activity, err := svc.GetMonthActivity(ctx, "devel@x", 2012, 11)
	if err != nil {
		t.Fatal(err)
	}
	if activity.ParticipantsCount != 7 || activity.ThreadsCount != 3 {
		t.Errorf("activity = %+v", activity)
	}
	if _, err := svc.GetMonthActivity(ctx, "devel@x", 2012, 11); err != nil {
		t.Fatal(err)
	}
	if store.participantCalls != 1 || store.threadCalls != 1 {
		t.Errorf("store hits = (%d, %d), want cached", store.participantCalls, store.threadCalls)
	}
}

func TestVote_InvalidValue(t *testing.T) {
	svc, _ := newTestService(newFakeStore())
	err := svc.Vote(context.Background(), "devel@x", "m1", "u1", 5)
	if !errors.Is(err, apperr.ErrInvalidVote) {
		t.Errorf("Vote(5) = %v, want INVALID_VOTE_VALUE", err)
	}
}

func TestVote_MissingMessage(t *testing.T) {
	svc, _ := newTestService(newFakeStore())
	err := svc.Vote(context.Background(), "devel@x", "m1", "u1", domain.VoteLike)
	if !errors.Is(err, apperr.ErrMessageNotFound) {
		t.Errorf("Vote on missing message = %v, want MESSAGE_NOT_FOUND", err)
	}
}

func TestVote_IdempotentRevote(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.emails["m1"] = &domain.Email{ListName: "devel@x", MessageID: "m1", ThreadID: "t1"}
	svc, cc := newTestService(store)

	if err := svc.Vote(ctx, "devel@x", "m1", "u1", domain.VoteLike); err != nil {
		t.Fatal(err)
	}
	if cc.deletes != 1 {
		t.Fatalf("invalidations after first vote = %d, want 1", cc.deletes)
	}
	// Same value again: one row, no extra invalidation.
	if err := svc.Vote(ctx, "devel@x", "m1", "u1", domain.VoteLike); err != nil {
		t.Fatal(err)
	}
	if cc.deletes != 1 {
		t.Errorf("invalidations after revote = %d, want 1", cc.deletes)
	}
	if len(store.votes) != 1 {
		t.Errorf("vote rows = %d, want 1", len(store.votes))
	}
}

func TestVote_ZeroCancels(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.emails["m1"] = &domain.Email{ListName: "devel@x", MessageID: "m1", ThreadID: "t1"}
	svc, _ := newTestService(store)

	if err := svc.Vote(ctx, "devel@x", "m1", "u1", domain.VoteLike); err != nil {
		t.Fatal(err)
	}
	if err := svc.Vote(ctx, "devel@x", "m1", "u1", domain.VoteCancel); err != nil {
		t.Fatal(err)
	}
	if len(store.votes) != 0 {
		t.Errorf("vote rows after cancel = %d, want 0", len(store.votes))
	}
	// Cancelling again is a no-op.
	if err := svc.Vote(ctx, "devel@x", "m1", "u1", domain.VoteCancel); err != nil {
		t.Fatal(err)
	}
	if len(store.deletedVotes) != 1 {
		t.Errorf("delete calls = %d, want 1", len(store.deletedVotes))
	}
}

func TestVote_AutoCreatesUser(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.emails["m1"] = &domain.Email{ListName: "devel@x", MessageID: "m1", ThreadID: "t1"}
	svc, _ := newTestService(store)

	if err := svc.Vote(ctx, "devel@x", "m1", "u1", domain.VoteLike); err != nil {
		t.Fatal(err)
	}
	if len(store.createdUsers) != 1 || store.createdUsers[0] != "u1" {
		t.Errorf("createdUsers = %v", store.createdUsers)
	}
	// A known user is not re-created.
	if err := svc.Vote(ctx, "devel@x", "m1", "u1", domain.VoteDislike); err != nil {
		t.Fatal(err)
	}
	if len(store.createdUsers) != 1 {
		t.Errorf("createdUsers after second vote = %v", store.createdUsers)
	}
}

func TestOnNewMessage_RecentKeysOnlyInsideWindow(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	svc, cc := newTestService(store)
	svc.now = func() time.Time {
		return time.Date(2012, 11, 2, 12, 0, 0, 0, time.UTC)
	}

	// Warm the recent counter.
	if _, err := svc.GetRecentParticipantsCount(ctx, "devel@x"); err != nil {
		t.Fatal(err)
	}

	// An email dated years back must not drop the recent counter.
	old := eventbus.NewMessage{Email: &domain.Email{
		ListName: "devel@x", ThreadID: "t1",
		Date: time.Date(2002, 1, 1, 0, 0, 0, 0, time.UTC),
	}}
	if err := svc.OnNewMessage(ctx, old); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := cc.Get(ctx, recentParticipantsKey("devel@x")); !ok {
		t.Error("recent counter dropped by an out-of-window email")
	}

	fresh := eventbus.NewMessage{Email: &domain.Email{
		ListName: "devel@x", ThreadID: "t1",
		Date: time.Date(2012, 11, 1, 0, 0, 0, 0, time.UTC),
	}}
	if err := svc.OnNewMessage(ctx, fresh); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := cc.Get(ctx, recentParticipantsKey("devel@x")); ok {
		t.Error("recent counter survived an in-window email")
	}
}

func TestOnNewThread_SeedsSubject(t *testing.T) {
	ctx := context.Background()
	svc, cc := newTestService(newFakeStore())

	ev := eventbus.NewThread{Thread: &domain.Thread{
		ListName: "devel@x", ThreadID: "t1", Subject: "hello world",
	}}
	if err := svc.OnNewThread(ctx, ev); err != nil {
		t.Fatal(err)
	}
	subject, err := svc.GetThreadSubject(ctx, "devel@x", "t1")
	if err != nil || subject != "hello world" {
		t.Errorf("GetThreadSubject = (%q, %v)", subject, err)
	}
	if value, ok, _ := cc.Get(ctx, threadKey("devel@x", "t1", "subject")); !ok || value != "hello world" {
		t.Errorf("cached subject = (%q, %v)", value, ok)
	}
}
