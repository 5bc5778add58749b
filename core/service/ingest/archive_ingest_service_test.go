package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"archive_server/adapter/out/persistence"
	"archive_server/core/domain"
	"archive_server/core/service/scrub"
	"archive_server/core/service/thread"
	"archive_server/infra/database"
	"archive_server/pkg/apperr"
	"archive_server/pkg/eventbus"
	"archive_server/pkg/logger"
)

func newTestService(t *testing.T) (*Service, *persistence.Store, *eventbus.Bus) {
	t.Helper()
	db, err := database.OpenStore("sqlite://" + filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	store := persistence.NewStoreUnchecked(db, logger.Nop())
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}

	bus := eventbus.New()
	scrubber := scrub.NewScrubber(scrub.Options{}, logger.Nop())
	svc := NewService(store, scrubber, bus, nil, logger.Nop())
	return svc, store, bus
}

func publicList(name string) *domain.List {
	return &domain.List{Name: name, DisplayName: "Test", ArchivePolicy: domain.ArchivePublic}
}

func rawMessage(id, inReplyTo, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: Alice <alice@example.com>\r\n")
	b.WriteString("Message-ID: <" + id + ">\r\n")
	if inReplyTo != "" {
		b.WriteString("In-Reply-To: <" + inReplyTo + ">\r\n")
	}
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("Date: Fri, 02 Nov 2012 16:07:54 +0100\r\n")
	b.WriteString("Content-Type: text/plain\r\n\r\n")
	b.WriteString(body + "\r\n")
	return []byte(b.String())
}

func TestAddToList_ArchivesMessage(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	hash, err := svc.AddToList(ctx, publicList("devel@x"), rawMessage("m1@x", "", "hello", "the body"))
	if err != nil {
		t.Fatal(err)
	}
	if len(hash) != 32 {
		t.Fatalf("hash = %q, want 32 chars", hash)
	}

	email, err := store.GetMessageByHash(ctx, "devel@x", hash)
	if err != nil || email == nil {
		t.Fatalf("GetMessageByHash = %v, %v", email, err)
	}
	if email.MessageID != "m1@x" {
		t.Errorf("MessageID = %q, brackets must be stripped", email.MessageID)
	}
	if email.Subject != "hello" || !strings.Contains(email.Content, "the body") {
		t.Errorf("scrubbed email = %q / %q", email.Subject, email.Content)
	}
	if email.ThreadID != hash {
		t.Errorf("ThreadID = %q, want own hash for a new thread", email.ThreadID)
	}
	if email.Timezone != 60 {
		t.Errorf("Timezone = %d, want 60", email.Timezone)
	}
	if email.SenderName != "Alice" {
		t.Errorf("SenderName = %q", email.SenderName)
	}

	raw, err := store.GetRawMessage(ctx, "devel@x", "m1@x")
	if err != nil || len(raw) == 0 {
		t.Errorf("raw bytes not stored: %v", err)
	}
}

func TestAddToList_NeverPolicyDrops(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	list := &domain.List{Name: "secret@x", ArchivePolicy: domain.ArchiveNever}
	hash, err := svc.AddToList(ctx, list, rawMessage("m1@x", "", "s", "b"))
	if err != nil {
		t.Fatal(err)
	}
	if hash != "" {
		t.Errorf("hash = %q, want empty for a never-archived list", hash)
	}

	// The list row itself is still mirrored.
	stored, err := store.GetList(ctx, "secret@x")
	if err != nil || stored == nil {
		t.Fatalf("GetList = %v, %v", stored, err)
	}
	if n, _ := store.GetListSize(ctx, "secret@x"); n != 0 {
		t.Errorf("list size = %d, want 0", n)
	}
}

func TestAddToList_MissingMessageID(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	raw := []byte("From: a@x\r\nSubject: s\r\n\r\nbody\r\n")
	_, err := svc.AddToList(ctx, publicList("devel@x"), raw)
	if !errors.Is(err, apperr.ErrInvalidMessage) {
		t.Errorf("AddToList = %v, want INVALID_MESSAGE", err)
	}
}

func TestAddToList_DuplicateReturnsExistingHash(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	list := publicList("devel@x")

	first, err := svc.AddToList(ctx, list, rawMessage("m1@x", "", "original", "one"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.AddToList(ctx, list, rawMessage("m1@x", "", "changed", "two"))
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Errorf("duplicate hash = %q, want %q", second, first)
	}
	if n, _ := store.GetListSize(ctx, "devel@x"); n != 1 {
		t.Errorf("list size = %d, want 1", n)
	}
	email, _ := store.GetMessageByHash(ctx, "devel@x", first)
	if email.Subject != "original" {
		t.Errorf("Subject = %q, duplicate must not overwrite", email.Subject)
	}
}

func TestAddToList_SameMessageOnTwoLists(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	raw := rawMessage("m1@x", "", "crosspost", "body")

	h1, err := svc.AddToList(ctx, publicList("devel@x"), raw)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := svc.AddToList(ctx, publicList("users@x"), raw)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("hashes differ across lists: %q vs %q", h1, h2)
	}
	for _, list := range []string{"devel@x", "users@x"} {
		if n, _ := store.GetListSize(ctx, list); n != 1 {
			t.Errorf("%s size = %d, want 1", list, n)
		}
	}
}

func TestAddToList_ReplyJoinsThread(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	list := publicList("devel@x")

	rootHash, err := svc.AddToList(ctx, list, rawMessage("m1@x", "", "topic", "root"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AddToList(ctx, list, rawMessage("m2@x", "m1@x", "Re: topic", "reply")); err != nil {
		t.Fatal(err)
	}

	reply, _ := store.GetMessageByID(ctx, "devel@x", "m2@x")
	if reply.ThreadID != rootHash {
		t.Errorf("reply ThreadID = %q, want %q", reply.ThreadID, rootHash)
	}
	if reply.InReplyTo != "m1@x" {
		t.Errorf("InReplyTo = %q", reply.InReplyTo)
	}
	if reply.ThreadOrder != 1 || reply.ThreadDepth != 1 {
		t.Errorf("reply position = (%d, %d), want (1, 1)", reply.ThreadOrder, reply.ThreadDepth)
	}
	root, _ := store.GetMessageByID(ctx, "devel@x", "m1@x")
	if root.ThreadOrder != 0 || root.ThreadDepth != 0 {
		t.Errorf("root position = (%d, %d), want (0, 0)", root.ThreadOrder, root.ThreadDepth)
	}
}

func TestAddToList_OrphanReplyStartsThreadKeepingLink(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	hash, err := svc.AddToList(ctx, publicList("devel@x"),
		rawMessage("m2@x", "missing@x", "Re: lost", "orphan"))
	if err != nil {
		t.Fatal(err)
	}
	email, _ := store.GetMessageByID(ctx, "devel@x", "m2@x")
	if email.ThreadID != hash {
		t.Errorf("ThreadID = %q, orphan reply must start its own thread", email.ThreadID)
	}
	if email.InReplyTo != "missing@x" {
		t.Errorf("InReplyTo = %q, reply link must survive a missing parent", email.InReplyTo)
	}
}

func TestAddToList_SelfReplyDropsParentLink(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	hash, err := svc.AddToList(ctx, publicList("devel@x"),
		rawMessage("m1@x", "m1@x", "loop", "body"))
	if err != nil {
		t.Fatal(err)
	}
	email, _ := store.GetMessageByID(ctx, "devel@x", "m1@x")
	if email.InReplyTo != "" {
		t.Errorf("InReplyTo = %q, want empty for a message replying to itself", email.InReplyTo)
	}
	if email.ThreadID != hash {
		t.Errorf("ThreadID = %q, self-reply must start its own thread", email.ThreadID)
	}
	if email.ThreadOrder != 0 || email.ThreadDepth != 0 {
		t.Errorf("position = (%d, %d), want (0, 0)", email.ThreadOrder, email.ThreadDepth)
	}

	starting, err := store.GetStartingEmail(ctx, "devel@x", hash)
	if err != nil || starting == nil || starting.MessageID != "m1@x" {
		t.Errorf("GetStartingEmail = (%+v, %v)", starting, err)
	}
}

func TestAddToList_OversizeMessageIDStillThreads(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	list := publicList("devel@x")

	longID := strings.Repeat("x", 300) + "@example.com"
	rootHash, err := svc.AddToList(ctx, list, rawMessage(longID, "", "long", "root"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AddToList(ctx, list, rawMessage("m2@x", longID, "Re: long", "reply")); err != nil {
		t.Fatal(err)
	}
	reply, _ := store.GetMessageByID(ctx, "devel@x", "m2@x")
	if reply.ThreadID != rootHash {
		t.Errorf("reply to an oversize parent id did not join the thread: %q", reply.ThreadID)
	}
}

func TestAddToList_UnparseableDateFallsBack(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	raw := []byte("From: a@x\r\nMessage-ID: <m1@x>\r\nSubject: s\r\n" +
		"Date: not a date\r\nContent-Type: text/plain\r\n\r\nbody\r\n")
	if _, err := svc.AddToList(ctx, publicList("devel@x"), raw); err != nil {
		t.Fatal(err)
	}
	email, _ := store.GetMessageByID(ctx, "devel@x", "m1@x")
	if email.Date.IsZero() {
		t.Error("Date is zero, want now-UTC fallback")
	}
	if email.Timezone != 0 {
		t.Errorf("Timezone = %d, want 0 on fallback", email.Timezone)
	}
}

func TestAddToList_FiresEventsInOrder(t *testing.T) {
	ctx := context.Background()
	svc, _, bus := newTestService(t)
	list := publicList("devel@x")

	var seen []string
	bus.SubscribeNewMessage(func(ctx context.Context, ev eventbus.NewMessage) error {
		seen = append(seen, "message:"+ev.Email.MessageID)
		return nil
	})
	bus.SubscribeNewThread(func(ctx context.Context, ev eventbus.NewThread) error {
		seen = append(seen, "thread:"+ev.Thread.ThreadID)
		return nil
	})

	rootHash, err := svc.AddToList(ctx, list, rawMessage("m1@x", "", "topic", "root"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AddToList(ctx, list, rawMessage("m2@x", "m1@x", "Re: topic", "reply")); err != nil {
		t.Fatal(err)
	}

	want := []string{"message:m1@x", "thread:" + rootHash, "message:m2@x"}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", seen, want)
	}
}

func TestAddToList_SubscriberErrorAborts(t *testing.T) {
	ctx := context.Background()
	svc, _, bus := newTestService(t)

	boom := errors.New("subscriber down")
	bus.SubscribeNewMessage(func(ctx context.Context, ev eventbus.NewMessage) error {
		return boom
	})
	_, err := svc.AddToList(ctx, publicList("devel@x"), rawMessage("m1@x", "", "s", "b"))
	if !errors.Is(err, boom) {
		t.Errorf("AddToList = %v, want subscriber error", err)
	}
}

func TestDeleteMessage_RenumbersThread(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	list := publicList("devel@x")

	rootHash, err := svc.AddToList(ctx, list, rawMessage("m1@x", "", "topic", "root"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AddToList(ctx, list, rawMessage("m2@x", "m1@x", "Re: topic", "first reply")); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AddToList(ctx, list, rawMessage("m3@x", "m2@x", "Re: topic", "second reply")); err != nil {
		t.Fatal(err)
	}

	if err := svc.DeleteMessage(ctx, "devel@x", "<m2@x>"); err != nil {
		t.Fatal(err)
	}
	remaining, err := store.GetThreadEmailsByOrder(ctx, "devel@x", rootHash)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 2 {
		t.Fatalf("thread has %d emails, want 2", len(remaining))
	}
	if remaining[1].MessageID != "m3@x" || remaining[1].ThreadOrder != 1 {
		t.Errorf("survivor not renumbered: %q order %d", remaining[1].MessageID, remaining[1].ThreadOrder)
	}

	if err := svc.DeleteMessage(ctx, "devel@x", "m2@x"); !errors.Is(err, apperr.ErrMessageNotFound) {
		t.Errorf("second delete = %v, want MESSAGE_NOT_FOUND", err)
	}
}

func TestAddToList_ThreadDateActiveFollowsReplies(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	list := publicList("devel@x")

	rootHash, err := svc.AddToList(ctx, list, rawMessage("m1@x", "", "topic", "root"))
	if err != nil {
		t.Fatal(err)
	}
	later := []byte("From: b@x\r\nMessage-ID: <m2@x>\r\nIn-Reply-To: <m1@x>\r\n" +
		"Subject: Re: topic\r\nDate: Sat, 03 Nov 2012 10:00:00 +0000\r\n" +
		"Content-Type: text/plain\r\n\r\nreply\r\n")
	if _, err := svc.AddToList(ctx, list, later); err != nil {
		t.Fatal(err)
	}

	th, err := store.GetThread(ctx, "devel@x", rootHash)
	if err != nil {
		t.Fatal(err)
	}
	if th.DateActive.Day() != 3 {
		t.Errorf("DateActive = %v, want the reply's date", th.DateActive)
	}

	emails, _ := store.GetThreadEmails(ctx, "devel@x", rootHash)
	if root := thread.StartingEmail(emails); root == nil || root.MessageID != "m1@x" {
		t.Errorf("starting email = %v", root)
	}
}
