package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/sync/singleflight"

	"github.com/listforge/listforge/internal/tokenstore"
)

// refreshPath is the auth provider's token refresh endpoint.
const refreshPath = "/auth/refresh"

// refreshKey is the singleflight key. There is exactly one logical refresh
// operation per session, so a constant key collapses all concurrent callers
// onto one network call.
const refreshKey = "refresh"

// maxBodySize bounds how much of any response body is read, success or
// error.
const maxBodySize = 1 << 20

// AuthFailureFunc is invoked when a refresh fails unrecoverably (no refresh
// token, or the endpoint rejected it). Host applications use it to force
// re-login. Called at most once per failed refresh, never concurrently with
// itself for the same failure.
type AuthFailureFunc func(err error)

// refreshRequest and refreshResponse are the wire shapes of POST /auth/refresh.
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
}

// Refresher guarantees at most one in-flight token refresh regardless of
// how many concurrent requests discover an expired token. Callers that
// arrive while a refresh is outstanding share its outcome: all observe the
// same new access token, or all fail with the same error. No caller ever
// triggers a second network call for the same in-flight refresh.
type Refresher struct {
	baseURL    string
	httpClient *http.Client
	tokens     *tokenstore.Store
	logger     *slog.Logger

	// onAuthFailure may be nil. Set via SetAuthFailureFunc before first use.
	onAuthFailure AuthFailureFunc

	group singleflight.Group
}

// NewRefresher creates a refresh coordinator bound to the given token store.
func NewRefresher(baseURL string, httpClient *http.Client, tokens *tokenstore.Store, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if tokens == nil {
		panic("backend: NewRefresher requires a token store")
	}

	return &Refresher{
		baseURL:    baseURL,
		httpClient: httpClient,
		tokens:     tokens,
		logger:     logger,
	}
}

// SetAuthFailureFunc registers the observer notified on unrecoverable
// refresh failure. Must be called before the Refresher is shared across
// goroutines.
func (r *Refresher) SetAuthFailureFunc(fn AuthFailureFunc) {
	r.onAuthFailure = fn
}

// Refresh obtains a fresh access token, collapsing concurrent callers onto
// a single network call. On success the new token is persisted via the
// token store (refresh token preserved) and returned to every waiter. On
// failure the store is cleared, every waiter receives the same error, and
// the auth-failure observer fires. The singleflight group drains all
// waiters on every exit path, including panics inside the refresh call.
func (r *Refresher) Refresh(ctx context.Context) (string, error) {
	v, err, shared := r.group.Do(refreshKey, func() (any, error) {
		return r.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}

	if shared {
		r.logger.Debug("joined in-flight token refresh")
	}

	tok, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("backend: unexpected refresh result type %T", v)
	}

	return tok, nil
}

// doRefresh performs the actual refresh call. Runs at most once per
// in-flight Refresh group.
func (r *Refresher) doRefresh(ctx context.Context) (string, error) {
	pair := r.tokens.Get()
	if pair == nil || pair.RefreshToken == "" {
		r.notifyAuthFailure(ErrNoRefreshToken)

		return "", ErrNoRefreshToken
	}

	r.logger.Info("refreshing access token")

	body, err := json.Marshal(refreshRequest{RefreshToken: pair.RefreshToken})
	if err != nil {
		return "", fmt.Errorf("backend: encoding refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+refreshPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("backend: creating refresh request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		// Transport failure is fatal to every waiter, but does not clear
		// the stored tokens: the refresh token was never rejected.
		return "", fmt.Errorf("backend: refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", r.rejectRefresh(resp)
	}

	var rr refreshResponse
	if decErr := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&rr); decErr != nil {
		return "", fmt.Errorf("backend: decoding refresh response: %w", ErrInvalidResponse)
	}

	if rr.AccessToken == "" {
		return "", fmt.Errorf("backend: refresh response missing accessToken: %w", ErrInvalidResponse)
	}

	if setErr := r.tokens.Set(tokenstore.TokenPair{
		AccessToken:  rr.AccessToken,
		RefreshToken: pair.RefreshToken,
	}); setErr != nil {
		return "", fmt.Errorf("backend: persisting refreshed token: %w", setErr)
	}

	r.logger.Info("access token refreshed")

	return rr.AccessToken, nil
}

// rejectRefresh handles a non-2xx refresh response: clear both tokens,
// notify the observer, and return an AuthError shared by every waiter.
func (r *Refresher) rejectRefresh(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySize)) //nolint:errcheck // best-effort read for error message

	authErr := &AuthError{Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(msg))}

	r.logger.Warn("refresh endpoint rejected token",
		slog.Int("status", resp.StatusCode),
	)

	if clearErr := r.tokens.Clear(); clearErr != nil {
		r.logger.Warn("failed to clear tokens after refresh rejection",
			slog.String("error", clearErr.Error()),
		)
	}

	r.notifyAuthFailure(authErr)

	return authErr
}

// notifyAuthFailure invokes the observer if one is registered.
func (r *Refresher) notifyAuthFailure(err error) {
	if r.onAuthFailure == nil {
		return
	}

	r.onAuthFailure(err)
}
