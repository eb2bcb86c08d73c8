// Package gmail provides the read-only Gmail item source.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"assist_worker/core/domain"
	"assist_worker/core/port/out"
	"assist_worker/pkg/apperr"
	"assist_worker/pkg/crypto"
	"assist_worker/pkg/httputil"
	"assist_worker/pkg/resilience"
)

const sourceName = "gmail"

// Config holds the OAuth client and token location.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	TokenFile    string
	// TokenKey, when set, means the token file is sealed with pkg/crypto.
	TokenKey string
	Timeout  time.Duration
}

// OAuthConfig returns the read-only OAuth client configuration.
func OAuthConfig(cfg Config) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       []string{gmail.GmailReadonlyScope},
		Endpoint:     google.Endpoint,
	}
}

// LoadToken reads an OAuth token stored as JSON, unsealing it first when key
// is set.
func LoadToken(path, key string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	if key != "" {
		if !crypto.IsEncrypted(string(data)) {
			return nil, errors.New("token file is not sealed")
		}
		enc, err := crypto.NewEncryptor([]byte(key))
		if err != nil {
			return nil, err
		}
		if data, err = enc.Decrypt(string(data)); err != nil {
			return nil, fmt.Errorf("unseal token file: %w", err)
		}
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	return &token, nil
}

// SaveToken writes token to path with owner-only permissions, sealed when key
// is set.
func SaveToken(path, key string, token *oauth2.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}
	if key != "" {
		enc, err := crypto.NewEncryptor([]byte(key))
		if err != nil {
			return err
		}
		sealed, err := enc.Encrypt(data)
		if err != nil {
			return err
		}
		data = []byte(sealed)
	}
	return os.WriteFile(path, data, 0o600)
}

// Source fetches messages of the authorized mailbox.
type Source struct {
	service *gmail.Service
	timeout time.Duration
	cb      *resilience.Breaker
	log     zerolog.Logger
}

var _ out.ItemSource = (*Source)(nil)

// NewSource builds a source from the configured OAuth client and stored token.
func NewSource(ctx context.Context, cfg Config, log zerolog.Logger) (*Source, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, apperr.ConfigError("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required for the gmail source")
	}
	token, err := LoadToken(cfg.TokenFile, cfg.TokenKey)
	if err != nil {
		return nil, apperr.ConfigError("gmail token unavailable").WithError(err)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, httputil.NewClient(httputil.GmailClientConfig()))
	client := OAuthConfig(cfg).Client(ctx, token)
	svc, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	return NewSourceWithService(svc, cfg.Timeout, log), nil
}

// NewSourceWithService wraps an existing Gmail service.
func NewSourceWithService(svc *gmail.Service, timeout time.Duration, log zerolog.Logger) *Source {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	l := log.With().Str("component", "gmail_source").Logger()
	return &Source{
		service: svc,
		timeout: timeout,
		cb:      resilience.NewBreaker(resilience.DefaultBreakerConfig("gmail-api"), l),
		log:     l,
	}
}

func (s *Source) Name() string { return sourceName }

// Fetch retrieves one message by Gmail message id.
func (s *Source) Fetch(ctx context.Context, id string) (*domain.ItemContent, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var msg *gmail.Message
	err := s.cb.Execute(func() error {
		var err error
		msg, err = s.service.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
		if err != nil {
			var gErr *googleapi.Error
			if errors.As(err, &gErr) {
				switch gErr.Code {
				case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
					return resilience.Permanent(err)
				}
			}
		}
		return err
	})
	if err != nil {
		return nil, s.classify(id, err)
	}
	return toItem(msg), nil
}

func (s *Source) classify(id string, err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) && (gErr.Code == http.StatusNotFound || gErr.Code == http.StatusBadRequest) {
		return apperr.ItemNotFound(id).WithError(err)
	}
	s.log.Warn().Str("item_id", id).Str("breaker", s.cb.State()).Err(err).Msg("gmail fetch failed")
	return apperr.SourceUnavailable(sourceName, err)
}

func toItem(msg *gmail.Message) *domain.ItemContent {
	item := &domain.ItemContent{
		ID:     msg.Id,
		Source: domain.SourceEmail,
		Metadata: map[string]string{
			"thread_id": msg.ThreadId,
			"labels":    strings.Join(msg.LabelIds, ","),
		},
	}
	if msg.Payload == nil {
		item.Body = msg.Snippet
		return item
	}

	item.Subject = getHeader(msg.Payload.Headers, "Subject")
	item.From = parseAddress(getHeader(msg.Payload.Headers, "From"))
	if date := getHeader(msg.Payload.Headers, "Date"); date != "" {
		item.Metadata["date"] = date
	}

	var body messageBody
	extractBody(msg.Payload, &body)
	switch {
	case body.Text != "":
		item.Body = body.Text
	case body.HTML != "":
		item.Body = body.HTML
	default:
		item.Body = msg.Snippet
	}
	return item
}

type messageBody struct {
	Text string
	HTML string
}

// extractBody walks the MIME tree keeping the first text/plain and text/html parts.
func extractBody(part *gmail.MessagePart, body *messageBody) {
	if part == nil {
		return
	}
	if part.Body != nil && part.Body.Data != "" {
		switch part.MimeType {
		case "text/plain":
			if body.Text == "" {
				body.Text = decodeData(part.Body.Data)
			}
		case "text/html":
			if body.HTML == "" {
				body.HTML = decodeData(part.Body.Data)
			}
		}
	}
	for _, p := range part.Parts {
		extractBody(p, body)
	}
}

// decodeData decodes Gmail's base64url payloads, padded or not.
func decodeData(data string) string {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	if b, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	return ""
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func parseAddress(raw string) string {
	if addr, err := mail.ParseAddress(raw); err == nil {
		return addr.Address
	}
	return raw
}
