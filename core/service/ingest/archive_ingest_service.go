// Package ingest drives the end-to-end archiving of one incoming email:
// list mirroring, dedup, threading, scrubbing, persistence, events and
// search indexing.
package ingest

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/rs/zerolog"

	"archive_server/core/domain"
	"archive_server/core/port/out"
	"archive_server/core/service/scrub"
	"archive_server/core/service/search"
	"archive_server/core/service/thread"
	"archive_server/pkg/apperr"
	"archive_server/pkg/emailutil"
	"archive_server/pkg/eventbus"
)

// =============================================================================
// Service
// =============================================================================

type Service struct {
	store    out.Store
	scrubber *scrub.Scrubber
	bus      *eventbus.Bus
	search   *search.Service
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(store out.Store, scrubber *scrub.Scrubber, bus *eventbus.Bus, searchSvc *search.Service, log zerolog.Logger) *Service {
	return &Service{
		store:    store,
		scrubber: scrubber,
		bus:      bus,
		search:   searchSvc,
		log:      log,
		now:      time.Now,
	}
}

// =============================================================================
// AddToList
// =============================================================================

// AddToList archives one raw message on the given list and returns its
// message-id hash. The list row is mirrored first, latest properties win.
// Lists with archive_policy = never drop the message and return "".
// Duplicate (list, message-id) pairs return the existing hash unchanged.
func (s *Service) AddToList(ctx context.Context, list *domain.List, raw []byte) (string, error) {
	if err := s.store.UpsertList(ctx, list); err != nil {
		return "", err
	}
	if list.ArchivePolicy == domain.ArchiveNever {
		s.log.Info().Str("list", list.Name).Msg("archiving disabled, message dropped")
		return "", nil
	}

	header, err := readHeader(raw)
	if err != nil {
		return "", apperr.ErrInvalidMessage.WithError(err)
	}

	messageID := strings.Trim(strings.TrimSpace(header.Get("Message-Id")), "<>")
	if messageID == "" {
		return "", apperr.ErrInvalidMessage.WithDetail("reason", "missing Message-ID header")
	}
	messageID = domain.TruncateMessageID(messageID)
	hash := emailutil.HashMessageID(messageID)

	exists, err := s.store.IsMessageInList(ctx, list.Name, messageID)
	if err != nil {
		return "", err
	}
	if exists {
		s.log.Debug().Str("list", list.Name).Str("message_id", messageID).
			Msg("duplicate message ignored")
		return hash, nil
	}

	// The reply link survives even when the parent never reached this
	// list: late-arriving parents are threaded in on recompute.
	ref := domain.TruncateMessageID(
		emailutil.GetRef(header.Get("In-Reply-To"), header.Get("References")))
	if ref == messageID {
		// A message cannot be its own parent.
		ref = ""
	}
	var parent *domain.Email
	if ref != "" {
		if parent, err = s.store.GetMessageByID(ctx, list.Name, ref); err != nil {
			return "", err
		}
	}

	scrubbed, err := s.scrubber.Scrub(ctx, raw)
	if err != nil {
		return "", err
	}

	senderName, senderAddress := emailutil.ParseAddress(header.Get("From"))
	if err := s.store.UpsertSender(ctx, &domain.Sender{Address: senderAddress, Name: senderName}); err != nil {
		return "", err
	}

	date, tz, err := emailutil.ParseDate(header.Get("Date"))
	if err != nil {
		// A missing or broken Date header never rejects mail.
		s.log.Debug().Str("message_id", messageID).
			Str("date", header.Get("Date")).Msg("unparseable date, using now")
		date, tz = s.now().UTC(), 0
	}

	threadID := hash
	newThread := parent == nil
	if parent != nil {
		threadID = parent.ThreadID
	}

	email := &domain.Email{
		ListName:      list.Name,
		MessageID:     messageID,
		SenderAddress: senderAddress,
		Subject:       domain.TruncateSubject(emailutil.DecodeHeader(header.Get("Subject"))),
		Content:       scrubbed.Text,
		Date:          date,
		Timezone:      tz,
		InReplyTo:     ref,
		MessageIDHash: hash,
		ThreadID:      threadID,
		ArchivedDate:  s.now().UTC(),
		SenderName:    senderName,
	}
	for i := range scrubbed.Attachments {
		scrubbed.Attachments[i].ListName = list.Name
		scrubbed.Attachments[i].MessageID = messageID
	}

	record := &out.MessageRecord{
		Email:       email,
		Full:        raw,
		Attachments: scrubbed.Attachments,
		NewThread:   newThread,
	}
	if err := s.store.InsertMessage(ctx, record); err != nil {
		return "", err
	}

	if err := s.recomputePositions(ctx, list.Name, threadID); err != nil {
		return "", err
	}

	if err := s.bus.PublishNewMessage(ctx, eventbus.NewMessage{List: list, Email: email}); err != nil {
		return "", err
	}
	if newThread {
		ev := eventbus.NewThread{List: list, Thread: &domain.Thread{
			ListName:   list.Name,
			ThreadID:   threadID,
			DateActive: email.Date,
			Subject:    email.Subject,
		}}
		if err := s.bus.PublishNewThread(ctx, ev); err != nil {
			return "", err
		}
	}

	if s.search != nil {
		s.search.IndexEmail(ctx, list, email, scrubbed.Attachments)
	}
	return hash, nil
}

// =============================================================================
// Delete
// =============================================================================

// DeleteMessage removes one archived email and repairs its thread: the
// remaining emails are renumbered, and an emptied thread is dropped by the
// store itself.
func (s *Service) DeleteMessage(ctx context.Context, listName, messageID string) error {
	messageID = domain.TruncateMessageID(strings.Trim(messageID, "<>"))
	email, err := s.store.GetMessageByID(ctx, listName, messageID)
	if err != nil {
		return err
	}
	if email == nil {
		return apperr.ErrMessageNotFound.WithDetail("message_id", messageID)
	}
	if err := s.store.DeleteMessage(ctx, listName, messageID); err != nil {
		return err
	}
	return s.recomputePositions(ctx, listName, email.ThreadID)
}

// =============================================================================
// Helpers
// =============================================================================

func (s *Service) recomputePositions(ctx context.Context, listName, threadID string) error {
	emails, err := s.store.GetThreadEmails(ctx, listName, threadID)
	if err != nil {
		return err
	}
	if len(emails) == 0 {
		return nil
	}
	return s.store.UpdateThreadPositions(ctx, listName, threadID, thread.ComputePositions(emails))
}

// readHeader parses just the header block, tolerating unknown charsets the
// same way the scrubber does.
func readHeader(raw []byte) (message.Header, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return message.Header{}, err
	}
	return entity.Header, nil
}
