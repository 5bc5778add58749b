// Package scrub walks a MIME tree and splits it into a canonical UTF-8
// text body plus ordered attachments.
package scrub

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/charmap"

	"archive_server/core/domain"
	"archive_server/pkg/apperr"
)

// =============================================================================
// Pipermail Stub Patterns
// =============================================================================

// Legacy pipermail exports inline a "next part" stub where the original
// scrubber detached a MIME part. Five block shapes occur in the wild, with
// "Url :", "Url:" and "URL:" spellings mixed freely.
var (
	stubBinaryRE = regexp.MustCompile(
		`-------------- next part --------------\n` +
			`A non-text attachment was scrubbed\.\.\.\n` +
			`Name: ([^\n]+)\n` +
			`Type: ([^\n]+)\n` +
			`Size: \d+ bytes\n` +
			`Desc: (?s:.+?)\n` +
			`U(?:rl|RL) ?: ([^\s]+)\s*\n`)

	stubEmbeddedRE = regexp.MustCompile(
		`-------------- next part --------------\n` +
			`An embedded message was scrubbed\.\.\.\n` +
			`From: (?s:.+?)\n` +
			`Subject: (?s:(.+?))\n` +
			`Date: [^\n]+\n` +
			`Size: \d+\n` +
			`U(?:rl|RL) ?: ([^\s]+)\s*\n`)

	stubHTMLRE = regexp.MustCompile(
		`-------------- next part --------------\n` +
			`An HTML attachment was scrubbed\.\.\.\n` +
			`U(?:rl|RL) ?: ([^\s]+)\s*\n`)

	stubTextNoCharsetRE = regexp.MustCompile(
		`-------------- next part --------------\n` +
			`An embedded and charset-unspecified text was scrubbed\.\.\.\n` +
			`Name: ([^\n]+)\n` +
			`U(?:rl|RL) ?: ([^\s]+)\s*\n`)

	stubURLOnlyRE = regexp.MustCompile(
		`-------------- next part --------------\n` +
			`U(?:rl|RL) ?: ([^\s]+)\s*\n`)
)

// =============================================================================
// Scrubber
// =============================================================================

// Result is one scrubbed message: the inline text joined in part order and
// every non-inline part, with Counter set to the part's MIME-walk ordinal.
type Result struct {
	Text        string
	Attachments []domain.Attachment
}

// Options controls stub URL handling.
type Options struct {
	// DownloadClient fetches pipermail stub URLs. Nil leaves stub
	// attachment content empty.
	DownloadClient *http.Client
}

type Scrubber struct {
	client *http.Client
	log    zerolog.Logger
}

func NewScrubber(opts Options, log zerolog.Logger) *Scrubber {
	return &Scrubber{client: opts.DownloadClient, log: log}
}

// Scrub parses raw RFC 5322 bytes and splits them into text and attachments.
// Unknown charsets and malformed subtrees degrade to partial output, never
// to an error; only an unreadable top-level entity fails.
func (s *Scrubber) Scrub(ctx context.Context, raw []byte) (*Result, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, apperr.ErrInvalidMessage.WithError(err)
	}

	res := &Result{}
	var texts []string
	counter := 0
	s.walk(entity, "", &texts, res, &counter)
	res.Text = strings.Join(texts, "\n")

	if err := s.extractStubs(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// walk visits entity and its children depth-first. counter numbers every
// entity in visit order, root included, so attachment ordinals match the
// part's position in the original tree.
func (s *Scrubber) walk(entity *message.Entity, filename string, texts *[]string, res *Result, counter *int) {
	ordinal := *counter
	*counter++

	mediaType, params, err := entity.Header.ContentType()
	if err != nil {
		mediaType = "text/plain"
	}

	if mr := entity.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return
			}
			if err != nil && !message.IsUnknownCharset(err) {
				s.log.Debug().Err(err).Msg("malformed MIME subtree, keeping partial result")
				return
			}
			s.walk(part, partFilename(part), texts, res, counter)
		}
	}

	body, readErr := io.ReadAll(entity.Body)
	if readErr != nil {
		s.log.Debug().Err(readErr).Str("content_type", mediaType).Msg("unreadable MIME part skipped")
		return
	}

	switch {
	case mediaType == "text/plain" && filename == "":
		*texts = append(*texts, decodeText(body))
	case mediaType == "message/rfc822":
		name := embeddedSubject(body)
		if name == "" {
			name = "attachment.bin"
		}
		res.Attachments = append(res.Attachments, domain.Attachment{
			Counter:     ordinal,
			Name:        name,
			ContentType: "message/rfc822",
			Size:        len(body),
			Content:     body,
		})
	default:
		name := filename
		if name == "" || !utf8.ValidString(name) {
			if mediaType == "text/html" {
				name = "attachment.html"
			} else {
				name = "attachment.bin"
			}
		}
		res.Attachments = append(res.Attachments, domain.Attachment{
			Counter:     ordinal,
			Name:        name,
			ContentType: mediaType,
			Encoding:    params["charset"],
			Size:        len(body),
			Content:     body,
		})
	}
}

// partFilename reads the part's declared filename from Content-Disposition
// with the Content-Type name parameter as fallback.
func partFilename(entity *message.Entity) string {
	if _, params, err := entity.Header.ContentDisposition(); err == nil {
		if name := params["filename"]; name != "" {
			return name
		}
	}
	if _, params, err := entity.Header.ContentType(); err == nil {
		return params["name"]
	}
	return ""
}

// embeddedSubject pulls the Subject line out of an embedded rfc822 part.
func embeddedSubject(body []byte) string {
	inner, err := message.Read(bytes.NewReader(body))
	if err != nil && !message.IsUnknownCharset(err) {
		return ""
	}
	return strings.TrimSpace(inner.Header.Get("Subject"))
}

// decodeText normalizes a transfer-decoded text body to UTF-8. Parts with a
// known charset arrive already converted; for the rest, try UTF-8, then
// ISO-8859-15, then replace every non-ASCII byte.
func decodeText(body []byte) string {
	if utf8.Valid(body) {
		return string(body)
	}
	if decoded, err := charmap.ISO8859_15.NewDecoder().Bytes(body); err == nil {
		return string(decoded)
	}
	var b strings.Builder
	for _, c := range body {
		if c < utf8.RuneSelf {
			b.WriteByte(c)
		} else {
			b.WriteRune(utf8.RuneError)
		}
	}
	return b.String()
}

// =============================================================================
// Pipermail Stubs
// =============================================================================

type stubMatch struct {
	name        string
	contentType string
	url         string
}

// extractStubs converts pipermail "next part" blocks into synthetic
// attachments and removes the block text from the body. Ordinals continue
// past the real MIME parts.
func (s *Scrubber) extractStubs(ctx context.Context, res *Result) error {
	text := res.Text
	var matches []stubMatch

	for _, m := range stubBinaryRE.FindAllStringSubmatch(text, -1) {
		matches = append(matches, stubMatch{name: m[1], contentType: m[2], url: m[3]})
	}
	for _, m := range stubEmbeddedRE.FindAllStringSubmatch(text, -1) {
		matches = append(matches, stubMatch{name: m[1], contentType: "message/rfc822", url: m[2]})
	}
	for _, m := range stubHTMLRE.FindAllStringSubmatch(text, -1) {
		url := strings.Trim(m[1], "<>")
		matches = append(matches, stubMatch{name: path.Base(url), contentType: "text/html", url: url})
	}
	for _, m := range stubTextNoCharsetRE.FindAllStringSubmatch(text, -1) {
		matches = append(matches, stubMatch{name: m[1], contentType: "text/plain", url: m[2]})
	}
	for _, re := range []*regexp.Regexp{stubBinaryRE, stubEmbeddedRE, stubHTMLRE, stubTextNoCharsetRE} {
		text = re.ReplaceAllString(text, "")
	}
	// URL-only blocks match a bare stub, so they run after the richer
	// shapes have been cut out.
	for _, m := range stubURLOnlyRE.FindAllStringSubmatch(text, -1) {
		url := strings.Trim(m[1], "<>")
		matches = append(matches, stubMatch{name: path.Base(url), contentType: "application/octet-stream", url: url})
	}
	text = stubURLOnlyRE.ReplaceAllString(text, "")

	next := 0
	for _, att := range res.Attachments {
		if att.Counter >= next {
			next = att.Counter + 1
		}
	}
	for _, m := range matches {
		content, err := s.download(ctx, m.url)
		if err != nil {
			return err
		}
		res.Attachments = append(res.Attachments, domain.Attachment{
			Counter:     next,
			Name:        m.name,
			ContentType: m.contentType,
			Size:        len(content),
			Content:     content,
		})
		next++
	}
	res.Text = text
	return nil
}

func (s *Scrubber) download(ctx context.Context, url string) ([]byte, error) {
	url = strings.Trim(url, " <>")
	if s.client == nil {
		return nil, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.ErrDownloadFailed.WithError(err).WithDetail("url", url)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperr.ErrDownloadFailed.WithError(err).WithDetail("url", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.ErrDownloadFailed.WithDetail("url", url).WithDetail("status", resp.StatusCode)
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.ErrDownloadFailed.WithError(err).WithDetail("url", url)
	}
	return content, nil
}
