package session

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/JoshuaDupras/knock-knock/internal/protocol"
)

// Session is an immutable anonymous credential plus the address of the chat
// channel it is valid for. A session is never mutated; re-queueing issues a
// new one that supersedes the old.
type Session struct {
	Token      string
	ChannelURL string
	TTL        time.Duration
	AcquiredAt time.Time
}

// Expired reports whether the credential's TTL has elapsed at the given time.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.AcquiredAt.Add(s.TTL))
}

// Acquirer obtains anonymous sessions and issues skip requests against the
// matchmaking server. It performs no retries of its own; retry policy belongs
// to the caller.
type Acquirer struct {
	rest   *restClient
	logger zerolog.Logger
}

// NewAcquirer creates an Acquirer for the given server base URL.
func NewAcquirer(baseURL string, timeout time.Duration, logger zerolog.Logger) *Acquirer {
	return &Acquirer{
		rest:   newRESTClient(baseURL, timeout),
		logger: logger,
	}
}

// Acquire requests a fresh anonymous session. The returned Session is the
// sole source of truth for the channel address and TTL. Rejections map to
// *AuthError or *RateLimitError; transport failures to *NetworkError.
func (a *Acquirer) Acquire(ctx context.Context, displayName string) (*Session, error) {
	body, err := json.Marshal(protocol.AnonymousSessionRequest{DisplayName: displayName})
	if err != nil {
		return nil, err
	}

	status, respBody, err := a.rest.post(ctx, "/session/anonymous", body, "")
	if err != nil {
		return nil, &NetworkError{Op: "acquire", Err: err}
	}

	switch {
	case status == http.StatusOK || status == http.StatusCreated:
		var resp protocol.AnonymousSessionResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return nil, &NetworkError{Op: "acquire", Err: err}
		}
		a.logger.Info().
			Str("channel_url", resp.WebsocketURL).
			Int("ttl_seconds", resp.ExpiresInSeconds).
			Msg("anonymous session acquired")
		return &Session{
			Token:      resp.Token,
			ChannelURL: resp.WebsocketURL,
			TTL:        time.Duration(resp.ExpiresInSeconds) * time.Second,
			AcquiredAt: time.Now(),
		}, nil

	case status == http.StatusTooManyRequests:
		return nil, rateLimitError(respBody)

	default:
		return nil, &AuthError{StatusCode: status, Reason: errorReason(respBody)}
	}
}

// Skip asks the server to abandon the current or queued pairing and re-queue
// the participant. A 429 maps to *RateLimitError and leaves client state
// untouched; the server is not obliged to honor the request.
func (a *Acquirer) Skip(ctx context.Context, s *Session) error {
	status, respBody, err := a.rest.post(ctx, "/session/skip", nil, s.Token)
	if err != nil {
		return &NetworkError{Op: "skip", Err: err}
	}

	switch {
	case status == http.StatusOK || status == http.StatusNoContent:
		return nil
	case status == http.StatusTooManyRequests:
		return rateLimitError(respBody)
	default:
		return &AuthError{StatusCode: status, Reason: errorReason(respBody)}
	}
}

func rateLimitError(body []byte) *RateLimitError {
	var eb protocol.ErrorBody
	_ = json.Unmarshal(body, &eb)
	return &RateLimitError{Reason: eb.Error, RetryAfterSeconds: eb.RetryAfterSeconds}
}

func errorReason(body []byte) string {
	var eb protocol.ErrorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return ""
	}
	return eb.Error
}
