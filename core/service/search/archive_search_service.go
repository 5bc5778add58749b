// Package search builds index documents from archived emails and fronts
// the full-text index.
package search

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"archive_server/core/domain"
	"archive_server/core/port/out"
	"archive_server/pkg/apperr"
)

// =============================================================================
// Service
// =============================================================================

// Service turns archive entities into search documents. A nil index
// disables search: writes become no-ops, queries fail with
// SEARCH_DISABLED.
type Service struct {
	index out.SearchIndex
	log   zerolog.Logger
}

func NewService(index out.SearchIndex, log zerolog.Logger) *Service {
	return &Service{index: index, log: log}
}

func (s *Service) Enabled() bool {
	return s.index != nil
}

// BuildDoc flattens one email for the index. The private_list flag hides
// private-list messages from cross-list searches.
func BuildDoc(list *domain.List, email *domain.Email, attachments []domain.Attachment) *out.SearchDoc {
	names := make([]string, 0, len(attachments))
	for _, att := range attachments {
		names = append(names, att.Name)
	}
	sender := strings.TrimSpace(email.SenderName + " " + email.SenderAddress)
	return &out.SearchDoc{
		ListName:    email.ListName,
		MessageID:   email.MessageID,
		Sender:      sender,
		UserID:      email.UserID,
		Subject:     email.Subject,
		Content:     email.Content,
		Date:        email.Date,
		Attachments: strings.Join(names, " "),
		PrivateList: list.ArchivePolicy == domain.ArchivePrivate,
	}
}

// IndexEmail adds one email to the index. Indexing failures are logged,
// not raised: a broken index must not lose mail.
func (s *Service) IndexEmail(ctx context.Context, list *domain.List, email *domain.Email, attachments []domain.Attachment) {
	if s.index == nil {
		return
	}
	if err := s.index.Add(ctx, BuildDoc(list, email, attachments)); err != nil {
		s.log.Error().Err(err).
			Str("list", email.ListName).Str("message_id", email.MessageID).
			Msg("search indexing failed")
	}
}

func (s *Service) Search(ctx context.Context, query, listName string, page, limit int) (*out.SearchResult, error) {
	if s.index == nil {
		return nil, apperr.ErrSearchDisabled
	}
	return s.index.Search(ctx, query, listName, page, limit)
}

func (s *Service) Flush(ctx context.Context) error {
	if s.index == nil {
		return nil
	}
	return s.index.Flush(ctx)
}

// =============================================================================
// Delayed Index
// =============================================================================

// DelayedIndex buffers adds until Flush, for bulk imports where committing
// per message would thrash the index.
type DelayedIndex struct {
	mu      sync.Mutex
	backend out.SearchIndex
	pending []*out.SearchDoc
}

func NewDelayedIndex(backend out.SearchIndex) *DelayedIndex {
	return &DelayedIndex{backend: backend}
}

func (d *DelayedIndex) Add(ctx context.Context, doc *out.SearchDoc) error {
	d.mu.Lock()
	d.pending = append(d.pending, doc)
	d.mu.Unlock()
	return nil
}

// Search sees only flushed documents.
func (d *DelayedIndex) Search(ctx context.Context, query, listName string, page, limit int) (*out.SearchResult, error) {
	return d.backend.Search(ctx, query, listName, page, limit)
}

// Flush commits everything buffered since the last flush.
func (d *DelayedIndex) Flush(ctx context.Context) error {
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	for _, doc := range pending {
		if err := d.backend.Add(ctx, doc); err != nil {
			return err
		}
	}
	return d.backend.Flush(ctx)
}

func (d *DelayedIndex) Close() error {
	return d.backend.Close()
}

var _ out.SearchIndex = (*DelayedIndex)(nil)
