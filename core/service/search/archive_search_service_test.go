package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"archive_server/core/domain"
	"archive_server/core/port/out"
	"archive_server/pkg/apperr"
	"archive_server/pkg/logger"
)

type fakeIndex struct {
	docs    []*out.SearchDoc
	flushes int
}

func (f *fakeIndex) Add(ctx context.Context, doc *out.SearchDoc) error {
	f.docs = append(f.docs, doc)
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, query, listName string, page, limit int) (*out.SearchResult, error) {
	return &out.SearchResult{Total: uint64(len(f.docs))}, nil
}

func (f *fakeIndex) Flush(ctx context.Context) error {
	f.flushes++
	return nil
}

func (f *fakeIndex) Close() error { return nil }

func TestBuildDoc(t *testing.T) {
	list := &domain.List{Name: "devel@x", ArchivePolicy: domain.ArchivePrivate}
	email := &domain.Email{
		ListName:      "devel@x",
		MessageID:     "m1",
		SenderAddress: "a@x",
		SenderName:    "Alice",
		UserID:        "uuid-a",
		Subject:       "hello",
		Content:       "body",
		Date:          time.Date(2012, 11, 2, 0, 0, 0, 0, time.UTC),
	}
	attachments := []domain.Attachment{{Name: "sig.asc"}, {Name: "photo.jpg"}}

	doc := BuildDoc(list, email, attachments)
	if doc.Sender != "Alice a@x" {
		t.Errorf("Sender = %q", doc.Sender)
	}
	if doc.Attachments != "sig.asc photo.jpg" {
		t.Errorf("Attachments = %q", doc.Attachments)
	}
	if !doc.PrivateList {
		t.Error("PrivateList = false for a private list")
	}
}

func TestSearch_DisabledWithoutIndex(t *testing.T) {
	svc := NewService(nil, logger.Nop())
	if svc.Enabled() {
		t.Error("Enabled() = true with nil index")
	}
	_, err := svc.Search(context.Background(), "query", "", 1, 10)
	if !errors.Is(err, apperr.ErrSearchDisabled) {
		t.Errorf("Search = %v, want SEARCH_DISABLED", err)
	}
}

func TestDelayedIndex_BuffersUntilFlush(t *testing.T) {
	ctx := context.Background()
	backend := &fakeIndex{}
	delayed := NewDelayedIndex(backend)

	for i := 0; i < 3; i++ {
		if err := delayed.Add(ctx, &out.SearchDoc{MessageID: "m"}); err != nil {
			t.Fatal(err)
		}
	}
	if len(backend.docs) != 0 {
		t.Fatalf("backend saw %d docs before flush", len(backend.docs))
	}

	if err := delayed.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if len(backend.docs) != 3 || backend.flushes != 1 {
		t.Errorf("after flush: docs = %d, flushes = %d", len(backend.docs), backend.flushes)
	}

	// A second flush has nothing left to commit.
	if err := delayed.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if len(backend.docs) != 3 {
		t.Errorf("re-flush duplicated docs: %d", len(backend.docs))
	}
}
