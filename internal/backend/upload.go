package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"
)

// defaultUploadTimeout is the hard wall-clock cap on a batch upload,
// independent of progress. Exceeding it fails with ErrUploadTimeout.
const defaultUploadTimeout = 300 * time.Second

const (
	uploadPath    = "/upload"
	fileFieldName = "images"
)

// Progress is one progress snapshot emitted during an upload.
type Progress struct {
	Loaded  int64
	Total   int64
	Percent float64
}

// ProgressFunc receives progress snapshots. Snapshots are emitted
// sequentially from a single goroutine.
type ProgressFunc func(Progress)

// UploadFile is one binary payload in a batch. Open is called once per
// upload attempt (twice when a 401 forces a refresh-and-retry, since a
// multipart stream cannot be rewound). Size below zero marks the size as
// unknown, which disables progress reporting for the whole batch.
type UploadFile struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// FileFromPath builds an UploadFile for a file on disk.
func FileFromPath(path string) (UploadFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return UploadFile{}, fmt.Errorf("backend: stat %s: %w", path, err)
	}

	return UploadFile{
		Name: filepath.Base(path),
		Size: info.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// UploadResult is the successful response of POST /upload.
type UploadResult struct {
	ProcessingID string `json:"processingId"`
}

// uploadErrorResponse is the failure body shape of POST /upload.
type uploadErrorResponse struct {
	Message string `json:"message"`
}

// Upload transfers a batch of files plus scalar metadata fields as one
// multipart request and returns the job identifier the processing backend
// assigned. Fields with empty values are omitted. Progress snapshots are
// reported while the total byte count is computable; if any file size is
// unknown, no progress is reported at all.
func (c *Client) Upload(
	ctx context.Context, files []UploadFile, fields map[string]string, progress ProgressFunc,
) (*UploadResult, error) {
	if len(files) == 0 {
		return nil, errors.New("backend: upload requires at least one file")
	}

	uploadCtx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	c.logger.Info("uploading batch",
		slog.Int("files", len(files)),
		slog.Int("fields", len(fields)),
	)

	token := c.currentAccessToken(requestOptions{})

	resp, err := c.uploadOnce(uploadCtx, files, fields, token, progressReporter(files, progress))
	if err != nil {
		return nil, c.classifyUploadError(ctx, uploadCtx, err)
	}

	// One refresh-and-retry on 401, with a freshly built body.
	if resp.StatusCode == http.StatusUnauthorized && c.canRefresh(requestOptions{}) {
		drainAndClose(resp.Body)

		c.logger.Info("upload received 401, refreshing token and retrying once")

		newToken, refreshErr := c.refresher.Refresh(ctx)
		if refreshErr != nil {
			return nil, refreshErr
		}

		resp, err = c.uploadOnce(uploadCtx, files, fields, newToken, progressReporter(files, progress))
		if err != nil {
			return nil, c.classifyUploadError(ctx, uploadCtx, err)
		}
	}

	return parseUploadResponse(resp)
}

// uploadOnce performs a single upload attempt, streaming the multipart
// body through a pipe so large batches never materialize in memory.
func (c *Client) uploadOnce(
	ctx context.Context, files []UploadFile, fields map[string]string, token string, report func(int64),
) (*http.Response, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := writeMultipartBody(mw, files, fields, report)
		if err != nil {
			pw.CloseWithError(err)

			return err
		}

		return pw.Close()
	})

	req, err := http.NewRequestWithContext(gctx, http.MethodPost, c.baseURL+uploadPath, pr)
	if err != nil {
		pr.CloseWithError(err)
		_ = g.Wait() //nolint:errcheck // writer already unblocked by pipe close

		return nil, fmt.Errorf("backend: creating upload request: %w", err)
	}

	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("User-Agent", userAgent)

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, doErr := c.httpClient.Do(req)
	writeErr := g.Wait()

	if doErr != nil {
		return nil, fmt.Errorf("backend: upload request failed: %w", doErr)
	}

	// The transport may succeed even though the writer failed mid-stream
	// (server answered early). A genuine writer failure outranks the
	// truncated response; ErrClosedPipe just means the transport stopped
	// reading first.
	if writeErr != nil && !errors.Is(writeErr, io.ErrClosedPipe) {
		drainAndClose(resp.Body)

		return nil, writeErr
	}

	return resp, nil
}

// writeMultipartBody writes all metadata fields and file parts and closes
// the multipart writer. File part names are NFC-normalized so composed and
// decomposed unicode filenames hash to the same server-side name.
func writeMultipartBody(
	mw *multipart.Writer, files []UploadFile, fields map[string]string, report func(int64),
) error {
	for name, value := range fields {
		if value == "" {
			continue
		}

		if err := mw.WriteField(name, value); err != nil {
			return fmt.Errorf("backend: writing field %s: %w", name, err)
		}
	}

	for _, f := range files {
		part, err := mw.CreateFormFile(fileFieldName, norm.NFC.String(f.Name))
		if err != nil {
			return fmt.Errorf("backend: creating part for %s: %w", f.Name, err)
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("backend: opening %s: %w", f.Name, err)
		}

		_, err = io.Copy(part, &countingReader{r: rc, report: report})
		closeErr := rc.Close()

		if err != nil {
			return fmt.Errorf("backend: streaming %s: %w", f.Name, err)
		}

		if closeErr != nil {
			return fmt.Errorf("backend: closing %s: %w", f.Name, closeErr)
		}
	}

	if err := mw.Close(); err != nil {
		return fmt.Errorf("backend: finalizing multipart body: %w", err)
	}

	return nil
}

// countingReader reports bytes read through it. report may be nil.
type countingReader struct {
	r      io.Reader
	report func(int64)
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 && cr.report != nil {
		cr.report(int64(n))
	}

	return n, err
}

// progressReporter builds the per-chunk callback for one upload attempt;
// a retried attempt gets a fresh one so its byte count restarts at zero.
// Returns a nil-reporting callback when progress is nil or any file size
// is unknown; the transport stays silent rather than report bogus
// percentages.
func progressReporter(files []UploadFile, progress ProgressFunc) func(int64) {
	if progress == nil {
		return nil
	}

	var total int64
	for _, f := range files {
		if f.Size < 0 {
			return nil
		}

		total += f.Size
	}

	var loaded int64

	return func(n int64) {
		loaded += n

		pct := 0.0
		if total > 0 {
			pct = float64(loaded) / float64(total) * 100 //nolint:mnd // percent
		}

		progress(Progress{Loaded: loaded, Total: total, Percent: pct})
	}
}

// parseUploadResponse turns the terminal HTTP response into an
// UploadResult or a classified error.
func parseUploadResponse(resp *http.Response) (*UploadResult, error) {
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if readErr != nil {
		return nil, fmt.Errorf("backend: reading upload response: %w", readErr)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		// Prefer the server-supplied message; fall back to a status-derived one.
		var er uploadErrorResponse
		_ = json.Unmarshal(body, &er) //nolint:errcheck // best-effort message extraction

		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    er.Message,
			Err:        classifyStatus(resp.StatusCode),
		}
	}

	var result UploadResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("backend: parsing upload response: %w", ErrInvalidResponse)
	}

	if result.ProcessingID == "" {
		return nil, fmt.Errorf("backend: upload response missing processingId: %w", ErrInvalidResponse)
	}

	return &result, nil
}

// classifyUploadError distinguishes the wall-clock timeout from ordinary
// network failures. The deadline belongs to uploadCtx; if the parent is
// still live, the budget (not the caller) expired.
func (c *Client) classifyUploadError(parent, uploadCtx context.Context, err error) error {
	if errors.Is(uploadCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		c.logger.Warn("upload exceeded time budget",
			slog.Duration("budget", c.uploadTimeout),
		)

		return fmt.Errorf("backend: upload exceeded %s budget: %w", c.uploadTimeout, ErrUploadTimeout)
	}

	return err
}
