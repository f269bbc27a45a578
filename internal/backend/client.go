package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/listforge/listforge/internal/tokenstore"
)

const userAgent = "listforge/0.1"

// RequestOption configures a single request issued through Client.Do.
type RequestOption func(*requestOptions)

type requestOptions struct {
	noAuth      bool
	contentType string
}

// WithoutAuth disables the Authorization header and the 401 refresh-retry
// for this request. Used for endpoints that are reachable pre-login.
func WithoutAuth() RequestOption {
	return func(o *requestOptions) { o.noAuth = true }
}

// WithContentType overrides the Content-Type header (default
// application/json when a body is present).
func WithContentType(ct string) RequestOption {
	return func(o *requestOptions) { o.contentType = ct }
}

// Client is the single point through which every authenticated call to the
// processing API passes. It injects the Authorization header and recovers
// from exactly one class of failure: an expired access token. A 401
// triggers one refresh (delegated to the Refresher, which single-flights
// concurrent callers) followed by one re-issue of the original request.
// Any other response, including a second 401, is returned as-is — there is
// no retry loop beyond the single refresh-and-retry, which prevents
// infinite refresh cycles against a misbehaving backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenReader
	refresher  *Refresher
	logger     *slog.Logger

	// uploadTimeout caps the wall-clock duration of a batch upload.
	// Overridable in tests.
	uploadTimeout time.Duration
}

// TokenReader supplies the current access/refresh token snapshot. Defined
// at the consumer; tokenstore.Store satisfies it.
type TokenReader interface {
	Get() *tokenstore.TokenPair
}

// NewClient creates an API client. The refresher must share the same token
// store so refreshed tokens are visible to subsequent requests.
func NewClient(baseURL string, httpClient *http.Client, tokens TokenReader, refresher *Refresher, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if tokens == nil {
		panic("backend: NewClient requires a token reader")
	}

	return &Client{
		baseURL:       baseURL,
		httpClient:    httpClient,
		tokens:        tokens,
		refresher:     refresher,
		logger:        logger,
		uploadTimeout: defaultUploadTimeout,
	}
}

// SetUploadTimeout overrides the wall-clock cap on batch uploads.
// Non-positive values are ignored.
func (c *Client) SetUploadTimeout(d time.Duration) {
	if d > 0 {
		c.uploadTimeout = d
	}
}

// Do executes one request against the API. The path is appended to the
// client's base URL. For non-nil bodies, Content-Type defaults to
// application/json. Non-2xx responses are returned as *APIError carrying a
// classification sentinel. The caller must close the response body on
// success.
func (c *Client) Do(ctx context.Context, method, path string, body io.ReadSeeker, opts ...RequestOption) (*http.Response, error) {
	var ro requestOptions
	for _, opt := range opts {
		opt(&ro)
	}

	url := c.baseURL + path

	token := c.currentAccessToken(ro)

	resp, err := c.doOnce(ctx, method, url, body, token, ro)
	if err != nil {
		return nil, err
	}

	// Expired access token: refresh once and re-issue once. Only when auth
	// is in play and a refresh token exists — a 401 with no refresh token
	// is simply returned (classified) for the caller to handle.
	if resp.StatusCode == http.StatusUnauthorized && c.canRefresh(ro) {
		drainAndClose(resp.Body)

		c.logger.Info("received 401, refreshing token and retrying once",
			slog.String("method", method),
			slog.String("path", path),
		)

		newToken, refreshErr := c.refresher.Refresh(ctx)
		if refreshErr != nil {
			return nil, refreshErr
		}

		if body != nil {
			if rewindErr := rewindBody(body); rewindErr != nil {
				return nil, rewindErr
			}
		}

		resp, err = c.doOnce(ctx, method, url, body, newToken, ro)
		if err != nil {
			return nil, err
		}
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		c.logger.Debug("request succeeded",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)

		return resp, nil
	}

	return nil, c.apiError(resp, method, path)
}

// doOnce executes a single HTTP request with the given bearer token.
func (c *Client) doOnce(
	ctx context.Context, method, url string, body io.Reader, token string, ro requestOptions,
) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("backend: creating request: %w", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	req.Header.Set("User-Agent", userAgent)

	if body != nil {
		ct := ro.contentType
		if ct == "" {
			ct = "application/json"
		}

		req.Header.Set("Content-Type", ct)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: %s %s: %w", method, url, err)
	}

	return resp, nil
}

// apiError reads the error body and builds an APIError with a sentinel.
func (c *Client) apiError(resp *http.Response, method, path string) error {
	errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	resp.Body.Close()

	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	c.logger.Warn("request failed",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
	)

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    string(errBody),
		Err:        classifyStatus(resp.StatusCode),
	}
}

// currentAccessToken returns the access token for this request, or empty
// when auth is opted out or no token is stored.
func (c *Client) currentAccessToken(ro requestOptions) string {
	if ro.noAuth {
		return ""
	}

	pair := c.tokens.Get()
	if pair == nil {
		return ""
	}

	return pair.AccessToken
}

// canRefresh reports whether a 401 on this request should trigger the
// refresh-and-retry path.
func (c *Client) canRefresh(ro requestOptions) bool {
	if ro.noAuth || c.refresher == nil {
		return false
	}

	pair := c.tokens.Get()

	return pair != nil && pair.RefreshToken != ""
}

// rewindBody seeks a request body back to the start before the retry.
func rewindBody(body io.Seeker) error {
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("backend: rewinding request body for retry: %w", err)
	}

	return nil
}

// drainAndClose consumes the remainder of a response body so the
// connection can be reused, then closes it.
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body) //nolint:errcheck // best-effort drain
	body.Close()
}
