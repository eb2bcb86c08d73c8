package mailbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assist_worker/core/domain"
	"assist_worker/pkg/apperr"
)

const plainMessage = "From: Bob Smith <bob@example.com>\r\n" +
	"Subject: =?UTF-8?Q?Caf=C3=A9_order?=\r\n" +
	"Date: Tue, 3 Jan 2006 10:00:00 +0000\r\n" +
	"Message-Id: <abc@example.com>\r\n" +
	"\r\n" +
	"Two espressos please.\r\n"

const multipartMessage = "From: carol@example.com\r\n" +
	"Subject: Invoice\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=outer\r\n" +
	"\r\n" +
	"--outer\r\n" +
	"Content-Type: multipart/alternative; boundary=inner\r\n" +
	"\r\n" +
	"--inner\r\n" +
	"Content-Type: text/html\r\n" +
	"\r\n" +
	"<p>see attached</p>\r\n" +
	"--inner\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"see attached\r\n" +
	"--inner--\r\n" +
	"--outer\r\n" +
	"Content-Type: application/pdf\r\n" +
	"\r\n" +
	"%PDF\r\n" +
	"--outer--\r\n"

func newMailbox(t *testing.T, files map[string]string) *Source {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
	s, err := NewSource(dir, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestFetchPlain(t *testing.T) {
	s := newMailbox(t, map[string]string{"e1.eml": plainMessage})

	item, err := s.Fetch(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, "e1", item.ID)
	assert.Equal(t, domain.SourceEmail, item.Source)
	assert.Equal(t, "Café order", item.Subject)
	assert.Equal(t, "bob@example.com", item.From)
	assert.Equal(t, "Two espressos please.", strings.TrimSpace(item.Body))
	assert.Equal(t, "<abc@example.com>", item.Metadata["message_id"])
}

func TestFetchMultipartPrefersPlainText(t *testing.T) {
	s := newMailbox(t, map[string]string{"e2.eml": multipartMessage})

	item, err := s.Fetch(context.Background(), "e2")
	require.NoError(t, err)
	assert.Equal(t, "see attached", strings.TrimSpace(item.Body))
	assert.Equal(t, "carol@example.com", item.From)
}

func TestFetchErrors(t *testing.T) {
	s := newMailbox(t, map[string]string{"e1.eml": plainMessage})

	for _, id := range []string{"absent", "../e1", "a/b", ".."} {
		_, err := s.Fetch(context.Background(), id)
		assert.True(t, apperr.HasCode(err, apperr.CodeItemNotFound), "id %q: %v", id, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Fetch(ctx, "e1")
	assert.True(t, apperr.IsKind(err, apperr.KindCancelled))
}

func TestNewSourceRequiresDirectory(t *testing.T) {
	_, err := NewSource(filepath.Join(t.TempDir(), "nope"), zerolog.Nop())
	assert.True(t, apperr.IsKind(err, apperr.KindConfiguration))

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	_, err = NewSource(file, zerolog.Nop())
	assert.True(t, apperr.IsKind(err, apperr.KindConfiguration))
}
