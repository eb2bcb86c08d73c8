// Package mailbox reads emails stored as .eml files in a local directory.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"mime/multipart"
	"net/mail"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"assist_worker/core/domain"
	"assist_worker/core/port/out"
	"assist_worker/pkg/apperr"
)

const (
	sourceName = "mailbox"
	extension  = ".eml"
)

// Source resolves an item id to <dir>/<id>.eml.
type Source struct {
	dir string
	log zerolog.Logger
}

var _ out.ItemSource = (*Source)(nil)

func NewSource(dir string, log zerolog.Logger) (*Source, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, apperr.ConfigError(fmt.Sprintf("mailbox directory %q unavailable", dir)).WithError(err)
	}
	if !info.IsDir() {
		return nil, apperr.ConfigError(fmt.Sprintf("mailbox path %q is not a directory", dir))
	}
	return &Source{dir: dir, log: log.With().Str("component", "mailbox_source").Logger()}, nil
}

func (s *Source) Name() string { return sourceName }

func (s *Source) Fetch(ctx context.Context, id string) (*domain.ItemContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Cancelled(err)
	}
	if !validID(id) {
		return nil, apperr.ItemNotFound(id)
	}

	f, err := os.Open(filepath.Join(s.dir, id+extension))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.ItemNotFound(id)
		}
		return nil, apperr.SourceUnavailable(sourceName, err)
	}
	defer f.Close()

	msg, err := mail.ReadMessage(f)
	if err != nil {
		s.log.Warn().Str("item_id", id).Err(err).Msg("unparseable message")
		return nil, apperr.SourceUnavailable(sourceName, fmt.Errorf("parse %s: %w", id, err))
	}

	body, err := readBody(msg.Header.Get("Content-Type"), msg.Body)
	if err != nil {
		return nil, apperr.SourceUnavailable(sourceName, fmt.Errorf("read body of %s: %w", id, err))
	}

	item := &domain.ItemContent{
		ID:       id,
		Source:   domain.SourceEmail,
		Subject:  decodeHeader(msg.Header.Get("Subject")),
		From:     fromAddress(msg.Header.Get("From")),
		Body:     body,
		Metadata: map[string]string{},
	}
	if date := msg.Header.Get("Date"); date != "" {
		item.Metadata["date"] = date
	}
	if mid := msg.Header.Get("Message-Id"); mid != "" {
		item.Metadata["message_id"] = mid
	}
	return item, nil
}

// validID rejects ids that would resolve outside the mailbox directory.
func validID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`) && !strings.Contains(id, "\x00")
}

// readBody returns the first text/plain part, falling back to text/html.
func readBody(contentType string, r io.Reader) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		b, err := io.ReadAll(r)
		return string(b), err
	}

	var html string
	mr := multipart.NewReader(r, params["boundary"])
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		partType, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		switch {
		case strings.HasPrefix(partType, "multipart/"):
			nested, err := readBody(part.Header.Get("Content-Type"), part)
			if err != nil {
				return "", err
			}
			if nested != "" {
				return nested, nil
			}
		case partType == "text/plain":
			b, err := io.ReadAll(part)
			return string(b), err
		case partType == "text/html" && html == "":
			b, err := io.ReadAll(part)
			if err != nil {
				return "", err
			}
			html = string(b)
		}
	}
	return html, nil
}

var wordDecoder = new(mime.WordDecoder)

func decodeHeader(v string) string {
	if decoded, err := wordDecoder.DecodeHeader(v); err == nil {
		return decoded
	}
	return v
}

func fromAddress(raw string) string {
	if addr, err := mail.ParseAddress(raw); err == nil {
		return addr.Address
	}
	return raw
}
