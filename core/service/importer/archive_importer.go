// Package importer loads historical mbox archives into the store, one
// committed message at a time.
package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-mbox"
	"github.com/emersion/go-message"
	"github.com/rs/zerolog"

	"archive_server/core/domain"
	"archive_server/core/port/out"
	"archive_server/core/service/ingest"
	"archive_server/core/service/search"
	"archive_server/pkg/apperr"
	"archive_server/pkg/emailutil"
)

var (
	// subjectFoldRE matches a Subject header folded over several lines.
	subjectFoldRE = regexp.MustCompile(`(?mi)^(subject:[^\r\n]*(?:\r?\n[ \t][^\r\n]*)+)`)
	foldRE        = regexp.MustCompile(`\r?\n[ \t]*`)

	// prefixRE extracts a "[Listname] " subject prefix.
	prefixRE = regexp.MustCompile(`^\[([\w\s_-]+)\] `)
)

// Options selects which messages of an mbox are imported.
type Options struct {
	// Since skips messages dated before it. Messages with an unparseable
	// date are skipped too when Since is set.
	Since time.Time
	// Continue resumes from the latest archived date of the list,
	// overriding Since.
	Continue bool
	// ForceDuplicates imports already-archived message-ids again under a
	// randomly suffixed id instead of deduplicating.
	ForceDuplicates bool
}

type Importer struct {
	store  out.Store
	ingest *ingest.Service
	search *search.Service
	log    zerolog.Logger
}

func New(store out.Store, ingestSvc *ingest.Service, searchSvc *search.Service, log zerolog.Logger) *Importer {
	return &Importer{store: store, ingest: ingestSvc, search: searchSvc, log: log}
}

// ImportFile imports the mbox at path. See FromMbox.
func (im *Importer) ImportFile(ctx context.Context, list *domain.List, path string, opts Options) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer f.Close()
	return im.FromMbox(ctx, list, f, opts)
}

// FromMbox archives every selected message of an mbox stream and returns
// how many were imported. Each message commits on its own so one broken
// message never poisons the batch; failures are logged and skipped. The
// search index is flushed once at the end.
func (im *Importer) FromMbox(ctx context.Context, list *domain.List, r io.Reader, opts Options) (int, error) {
	since := opts.Since
	if opts.Continue {
		last, err := im.store.GetLastDate(ctx, list.Name)
		if err != nil {
			return 0, err
		}
		since = last
	}
	if !since.IsZero() {
		im.log.Info().Str("list", list.Name).Time("since", since).
			Msg("importing messages after date")
	}

	imported, read := 0, 0
	mr := mbox.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return imported, err
		}
		msg, err := mr.NextMessage()
		if err == io.EOF {
			break
		}
		if err != nil {
			return imported, fmt.Errorf("read mbox: %w", err)
		}
		raw, err := io.ReadAll(msg)
		if err != nil {
			return imported, fmt.Errorf("read mbox message: %w", err)
		}
		read++

		raw = unfoldSubject(raw)
		header, err := readHeader(raw)
		if err != nil {
			im.log.Warn().Err(err).Int("offset", read).Msg("unreadable message skipped")
			continue
		}

		if !since.IsZero() && !im.afterDate(header, since) {
			continue
		}

		// Old pipermail exports predate per-list settings: probe the
		// subject prefix from the first prefixed subject seen.
		if list.SubjectPrefix == "" {
			subject := emailutil.DecodeHeader(header.Get("Subject"))
			if m := prefixRE.FindStringSubmatch(subject); m != nil {
				list.SubjectPrefix = m[1]
			}
		}

		if opts.ForceDuplicates {
			if raw, err = im.suffixDuplicate(ctx, list.Name, raw, header); err != nil {
				return imported, err
			}
		}

		if _, err := im.ingest.AddToList(ctx, list, raw); err != nil {
			messageID := header.Get("Message-Id")
			if errors.Is(err, apperr.ErrDownloadFailed) {
				im.log.Warn().Err(err).Str("message_id", messageID).
					Msg("attachment download failed, message skipped")
			} else {
				im.log.Error().Err(err).Str("message_id", messageID).
					Str("from", header.Get("From")).Msg("import failed for message")
			}
			continue
		}
		imported++
	}

	if im.search != nil {
		if err := im.search.Flush(ctx); err != nil {
			return imported, err
		}
	}
	im.log.Info().Str("list", list.Name).Int("read", read).Int("imported", imported).
		Msg("mbox import finished")
	return imported, nil
}

func (im *Importer) afterDate(header message.Header, since time.Time) bool {
	date, _, err := emailutil.ParseDate(header.Get("Date"))
	if err != nil {
		im.log.Warn().Str("message_id", header.Get("Message-Id")).
			Str("date", header.Get("Date")).Msg("unparseable date under --since, skipped")
		return false
	}
	return !date.Before(since)
}

// suffixDuplicate rewrites the Message-ID header with a random suffix while
// the current id is already archived on the list.
func (im *Importer) suffixDuplicate(ctx context.Context, listName string, raw []byte, header message.Header) ([]byte, error) {
	id := strings.Trim(strings.TrimSpace(header.Get("Message-Id")), "<>")
	for id != "" {
		exists, err := im.store.IsMessageInList(ctx, listName, domain.TruncateMessageID(id))
		if err != nil {
			return nil, err
		}
		if !exists {
			break
		}
		suffixed := fmt.Sprintf("%s-%d", id, rand.Intn(100))
		replaced := bytes.Replace(raw, []byte("<"+id+">"), []byte("<"+suffixed+">"), 1)
		if bytes.Equal(replaced, raw) {
			replaced = bytes.Replace(raw, []byte(id), []byte(suffixed), 1)
		}
		im.log.Info().Str("old", id).Str("new", suffixed).Msg("duplicate message-id suffixed")
		raw, id = replaced, suffixed
	}
	return raw, nil
}

// unfoldSubject joins a folded Subject header onto one line, leaving the
// rest of the message untouched.
func unfoldSubject(raw []byte) []byte {
	end := headerEnd(raw)
	header := subjectFoldRE.ReplaceAllFunc(raw[:end], func(m []byte) []byte {
		return foldRE.ReplaceAll(m, []byte(" "))
	})
	out := make([]byte, 0, len(header)+len(raw)-end)
	out = append(out, header...)
	return append(out, raw[end:]...)
}

func headerEnd(raw []byte) int {
	if i := bytes.Index(raw, []byte("\r\n\r\n")); i >= 0 {
		return i
	}
	if i := bytes.Index(raw, []byte("\n\n")); i >= 0 {
		return i
	}
	return len(raw)
}

func readHeader(raw []byte) (message.Header, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return message.Header{}, err
	}
	return entity.Header, nil
}
