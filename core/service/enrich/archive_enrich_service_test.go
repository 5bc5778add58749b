package enrich

import (
	"context"
	"errors"
	"testing"

	"archive_server/core/domain"
	"archive_server/core/port/out"
	"archive_server/pkg/apperr"
	"archive_server/pkg/eventbus"
	"archive_server/pkg/logger"
)

type fakeStore struct {
	out.Store

	senders map[string]*domain.Sender
	claimed []string
}

func newFakeStore(addresses ...string) *fakeStore {
	f := &fakeStore{senders: map[string]*domain.Sender{}}
	for _, a := range addresses {
		f.senders[a] = &domain.Sender{Address: a}
	}
	return f
}

func (f *fakeStore) GetSender(ctx context.Context, address string) (*domain.Sender, error) {
	return f.senders[address], nil
}

func (f *fakeStore) GetSendersWithoutUser(ctx context.Context, limit int) ([]*domain.Sender, error) {
	var pending []*domain.Sender
	for _, s := range f.senders {
		if s.UserID == "" {
			pending = append(pending, s)
		}
		if len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (f *fakeStore) CreateUser(ctx context.Context, userID, address, name string) error {
	f.senders[address].UserID = userID
	f.claimed = append(f.claimed, address)
	return nil
}

type fakeResolver struct {
	known map[string]string
	err   error
	calls int
}

func (f *fakeResolver) Resolve(ctx context.Context, address string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.known[address], nil
}

func TestOnNewMessage_EnrichesUnknownSender(t *testing.T) {
	store := newFakeStore("a@x")
	resolver := &fakeResolver{known: map[string]string{"a@x": "uuid-a"}}
	svc := NewService(store, resolver, logger.Nop())

	ev := eventbus.NewMessage{Email: &domain.Email{SenderAddress: "a@x"}}
	if err := svc.OnNewMessage(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if store.senders["a@x"].UserID != "uuid-a" {
		t.Errorf("sender not enriched: %+v", store.senders["a@x"])
	}
}

func TestOnNewMessage_SkipsAlreadyEnriched(t *testing.T) {
	store := newFakeStore("a@x")
	store.senders["a@x"].UserID = "uuid-a"
	resolver := &fakeResolver{}
	svc := NewService(store, resolver, logger.Nop())

	ev := eventbus.NewMessage{Email: &domain.Email{SenderAddress: "a@x"}}
	if err := svc.OnNewMessage(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if resolver.calls != 0 {
		t.Errorf("resolver called %d times for an enriched sender", resolver.calls)
	}
}

func TestOnNewMessage_SwallowsResolverFailure(t *testing.T) {
	store := newFakeStore("a@x")
	resolver := &fakeResolver{err: apperr.ErrIdentityDown}
	svc := NewService(store, resolver, logger.Nop())

	ev := eventbus.NewMessage{Email: &domain.Email{SenderAddress: "a@x"}}
	if err := svc.OnNewMessage(context.Background(), ev); err != nil {
		t.Errorf("OnNewMessage = %v, enrichment must never abort ingestion", err)
	}
}

func TestSyncAllSenders_StopsWhenNoImprovement(t *testing.T) {
	store := newFakeStore("a@x", "b@x", "gone@x")
	resolver := &fakeResolver{known: map[string]string{"a@x": "uuid-a", "b@x": "uuid-b"}}
	svc := NewService(store, resolver, logger.Nop())

	enriched, err := svc.SyncAllSenders(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if enriched != 2 {
		t.Errorf("enriched = %d, want 2", enriched)
	}
	if store.senders["gone@x"].UserID != "" {
		t.Errorf("departed sender gained an identity")
	}
}

func TestSyncAllSenders_StopsOnDeadUpstream(t *testing.T) {
	store := newFakeStore("a@x")
	resolver := &fakeResolver{err: apperr.ErrIdentityDown}
	svc := NewService(store, resolver, logger.Nop())

	_, err := svc.SyncAllSenders(context.Background())
	if !errors.Is(err, apperr.ErrIdentityDown) {
		t.Errorf("SyncAllSenders = %v, want IDENTITY_UNAVAILABLE", err)
	}
	if resolver.calls != 1 {
		t.Errorf("resolver called %d times, want 1", resolver.calls)
	}
}
