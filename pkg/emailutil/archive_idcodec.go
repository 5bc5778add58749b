// Package emailutil implements message-id hashing, header decoding and the
// lenient address/date parsing the archive applies to incoming mail.
package emailutil

import (
	"crypto/sha1"
	"encoding/base32"
	"io"
	"mime"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-message/charset"

	"archive_server/pkg/apperr"
)

// inBracketsRE captures the id inside the first <...> group of a header.
var inBracketsRE = regexp.MustCompile(`[^<]*<([^>]+)>`)

// HashMessageID returns the X-Message-ID-Hash value for a Message-ID header:
// the 32-character uppercase base32 encoding of SHA1 over the unbracketed id.
func HashMessageID(messageID string) string {
	id := strings.Trim(messageID, "<>")
	sum := sha1.Sum([]byte(id))
	// 20 digest bytes encode to exactly 32 base32 characters, no padding.
	return base32.StdEncoding.EncodeToString(sum[:])
}

var wordDecoder = mime.WordDecoder{
	CharsetReader: func(enc string, input io.Reader) (io.Reader, error) {
		return charset.Reader(enc, input)
	},
}

// DecodeHeader decodes RFC 2047 encoded-word segments into UTF-8. Unknown or
// broken encodings never fail: the offending segment degrades to ASCII with
// U+FFFD replacing undecodable bytes. Segments are joined by a single space.
func DecodeHeader(value string) string {
	if value == "" {
		return ""
	}
	fields := strings.Fields(value)
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		if strings.Contains(field, "=?") {
			if decoded, err := wordDecoder.DecodeHeader(field); err == nil {
				out = append(out, decoded)
				continue
			}
		}
		out = append(out, asciiReplace(field))
	}
	return strings.Join(out, " ")
}

// asciiReplace forces a byte string into valid UTF-8, mapping every invalid
// byte to U+FFFD.
func asciiReplace(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "�")
}

// ParseAddress splits a From-style header into (name, address). It accepts
// the Mailman-mbox convention "user at host" alongside "user@host". When the
// display name is empty the address doubles as the name; empty input yields
// an empty pair.
func ParseAddress(value string) (name, address string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", ""
	}
	value = strings.Replace(value, " at ", "@", 1)
	if addr, err := mail.ParseAddress(value); err == nil {
		name = strings.TrimSpace(DecodeHeader(addr.Name))
		address = strings.TrimSpace(addr.Address)
	} else if m := inBracketsRE.FindStringSubmatch(value); m != nil {
		address = strings.TrimSpace(m[1])
		name = strings.TrimSpace(DecodeHeader(strings.SplitN(value, "<", 2)[0]))
		name = strings.Trim(name, `" `)
	} else {
		address = value
	}
	if name == "" {
		name = address
	}
	return name, address
}

// maxOffset is the widest UTC offset the database accepts; wider offsets are
// clamped to UTC.
const maxOffset = 13 * time.Hour

// dateLayouts supplements net/mail's RFC 5322 parsing with the ISO-8601
// shapes seen in old pipermail exports.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"02 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	"Mon, 2 Jan 2006 15:04:05",
	"Mon Jan 2 15:04:05 2006",
}

// ParseDate parses a Date header into a UTC-normalized naive timestamp plus
// the source offset in minutes. Offsets beyond +-13 hours are converted to
// UTC with a zero offset. Unparseable input fails with DATE_UNPARSEABLE.
func ParseDate(value string) (time.Time, int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, 0, apperr.ErrDateUnparseable
	}
	// Drop a trailing "(TZ)" comment, some agents emit unbalanced ones.
	if i := strings.Index(value, "("); i > 0 && !strings.Contains(value, ")") {
		value = strings.TrimSpace(value[:i])
	}

	t, err := mail.ParseDate(value)
	if err != nil {
		for _, layout := range dateLayouts {
			if parsed, perr := time.Parse(layout, value); perr == nil {
				t = parsed
				err = nil
				break
			}
		}
	}
	if err != nil {
		return time.Time{}, 0, apperr.ErrDateUnparseable.WithDetail("value", value)
	}

	_, offsetSec := t.Zone()
	offset := time.Duration(offsetSec) * time.Second
	if offset > maxOffset || offset < -maxOffset {
		offset = 0
	}
	return t.UTC(), int(offset / time.Minute), nil
}

// GetRef resolves the parent message-id of a reply: In-Reply-To wins; when it
// is absent or blank the last id from References is used. Empty headers
// yield an empty id without error.
func GetRef(inReplyTo, references string) string {
	ref := strings.TrimSpace(inReplyTo)
	if ref == "" {
		refs := strings.Fields(references)
		if len(refs) == 0 {
			return ""
		}
		ref = refs[len(refs)-1]
	}
	if m := inBracketsRE.FindStringSubmatch(ref); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.Trim(ref, "<> ")
}
