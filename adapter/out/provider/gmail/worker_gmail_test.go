package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"assist_worker/core/domain"
	"assist_worker/pkg/apperr"
)

func enc(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func newTestSource(t *testing.T, handler http.HandlerFunc) *Source {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := gmail.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return NewSourceWithService(svc, time.Second, zerolog.Nop())
}

func TestFetchMessage(t *testing.T) {
	s := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gmail/v1/users/me/messages/m1", r.URL.Path)
		assert.Equal(t, "full", r.URL.Query().Get("format"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"id": "m1",
			"threadId": "t1",
			"labelIds": ["INBOX", "UNREAD"],
			"snippet": "snippet text",
			"payload": {
				"mimeType": "multipart/alternative",
				"headers": [
					{"name": "Subject", "value": "Quarterly report"},
					{"name": "From", "value": "Alice Doe <alice@example.com>"},
					{"name": "Date", "value": "Mon, 2 Jan 2006 15:04:05 -0700"}
				],
				"parts": [
					{"mimeType": "text/html", "body": {"data": %q}},
					{"mimeType": "text/plain", "body": {"data": %q}}
				]
			}
		}`, enc("<p>html body</p>"), enc("plain body"))
	})

	item, err := s.Fetch(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", item.ID)
	assert.Equal(t, domain.SourceEmail, item.Source)
	assert.Equal(t, "Quarterly report", item.Subject)
	assert.Equal(t, "alice@example.com", item.From)
	assert.Equal(t, "plain body", item.Body)
	assert.Equal(t, "t1", item.Metadata["thread_id"])
	assert.Equal(t, "INBOX,UNREAD", item.Metadata["labels"])
	assert.NotEmpty(t, item.Metadata["date"])
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   string
	}{
		{"not found", http.StatusNotFound, apperr.CodeItemNotFound},
		{"malformed id", http.StatusBadRequest, apperr.CodeItemNotFound},
		{"forbidden", http.StatusForbidden, apperr.CodeSourceUnavailable},
		{"server error", http.StatusInternalServerError, apperr.CodeSourceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSource(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprintf(w, `{"error":{"code":%d,"message":"failure"}}`, tt.status)
			})
			_, err := s.Fetch(context.Background(), "missing")
			require.Error(t, err)
			assert.True(t, apperr.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestExtractBody(t *testing.T) {
	t.Run("nested html only", func(t *testing.T) {
		part := &gmail.MessagePart{
			MimeType: "multipart/mixed",
			Parts: []*gmail.MessagePart{
				{MimeType: "multipart/alternative", Parts: []*gmail.MessagePart{
					{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: enc("<b>hi</b>")}},
				}},
				{MimeType: "application/pdf", Body: &gmail.MessagePartBody{AttachmentId: "a1"}},
			},
		}
		var body messageBody
		extractBody(part, &body)
		assert.Empty(t, body.Text)
		assert.Equal(t, "<b>hi</b>", body.HTML)
	})

	t.Run("unpadded data", func(t *testing.T) {
		raw := base64.RawURLEncoding.EncodeToString([]byte("ab"))
		assert.Equal(t, "ab", decodeData(raw))
	})

	t.Run("snippet fallback", func(t *testing.T) {
		item := toItem(&gmail.Message{Id: "x", Snippet: "only snippet", Payload: &gmail.MessagePart{MimeType: "text/plain"}})
		assert.Equal(t, "only snippet", item.Body)
	})
}

func TestGetHeaderCaseInsensitive(t *testing.T) {
	headers := []*gmail.MessagePartHeader{{Name: "subject", Value: "lower"}}
	assert.Equal(t, "lower", getHeader(headers, "Subject"))
	assert.Empty(t, getHeader(headers, "From"))
	assert.Equal(t, "not an address", parseAddress("not an address"))
}

func TestLoadToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"access_token":"at","refresh_token":"rt","token_type":"Bearer"}`), 0o600))

	token, err := LoadToken(path, "")
	require.NoError(t, err)
	assert.Equal(t, "at", token.AccessToken)
	assert.Equal(t, "rt", token.RefreshToken)

	_, err = LoadToken(path, "key")
	assert.Error(t, err)

	_, err = LoadToken(filepath.Join(t.TempDir(), "absent.json"), "")
	assert.Error(t, err)
}

func TestSealedTokenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, SaveToken(path, "passphrase", &oauth2.Token{AccessToken: "at", TokenType: "Bearer"}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "access_token")

	token, err := LoadToken(path, "passphrase")
	require.NoError(t, err)
	assert.Equal(t, "at", token.AccessToken)

	_, err = LoadToken(path, "wrong")
	assert.Error(t, err)
}

func TestNewSourceRequiresCredentials(t *testing.T) {
	_, err := NewSource(context.Background(), Config{}, zerolog.Nop())
	assert.True(t, apperr.IsKind(err, apperr.KindConfiguration))
}
