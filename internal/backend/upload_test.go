package backend

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listforge/listforge/internal/tokenstore"
)

// memFile builds an in-memory UploadFile with a known size.
func memFile(name, content string) UploadFile {
	return UploadFile{
		Name: name,
		Size: int64(len(content)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

func TestUpload_Success(t *testing.T) {
	env, _ := newTestEnv(t, &tokenstore.TokenPair{AccessToken: "acc", RefreshToken: "ref"},
		func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/upload", r.URL.Path)
			assert.Equal(t, "Bearer acc", r.Header.Get("Authorization"))

			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "Sunset print", r.FormValue("title"))
			assert.Empty(t, r.FormValue("section"), "empty fields are omitted")

			fhs := r.MultipartForm.File[fileFieldName]
			require.Len(t, fhs, 2)
			assert.Equal(t, "a.jpg", fhs[0].Filename)
			assert.Equal(t, "b.png", fhs[1].Filename)

			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"processingId":"job-1"}`))
		})

	result, err := env.client.Upload(context.Background(),
		[]UploadFile{memFile("a.jpg", "aaaa"), memFile("b.png", "bbbb")},
		map[string]string{"title": "Sunset print", "section": ""},
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, "job-1", result.ProcessingID)
}

func TestUpload_Progress(t *testing.T) {
	env, _ := newTestEnv(t, &tokenstore.TokenPair{AccessToken: "acc"},
		func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.Copy(io.Discard, r.Body)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"processingId":"job-1"}`))
		})

	var snapshots []Progress

	content := strings.Repeat("x", 4096)

	_, err := env.client.Upload(context.Background(),
		[]UploadFile{memFile("a.jpg", content), memFile("b.jpg", content)},
		nil,
		func(p Progress) { snapshots = append(snapshots, p) },
	)
	require.NoError(t, err)
	require.NotEmpty(t, snapshots)

	total := int64(2 * len(content))
	last := snapshots[len(snapshots)-1]
	assert.Equal(t, total, last.Total)
	assert.Equal(t, total, last.Loaded)
	assert.InDelta(t, 100.0, last.Percent, 0.01)

	// Loaded must be monotonically non-decreasing.
	for i := 1; i < len(snapshots); i++ {
		assert.GreaterOrEqual(t, snapshots[i].Loaded, snapshots[i-1].Loaded)
		assert.Equal(t, total, snapshots[i].Total)
	}
}

func TestUpload_NoProgressWhenSizeUnknown(t *testing.T) {
	env, _ := newTestEnv(t, &tokenstore.TokenPair{AccessToken: "acc"},
		func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.Copy(io.Discard, r.Body)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"processingId":"job-1"}`))
		})

	unknown := UploadFile{
		Name: "stream.jpg",
		Size: -1,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("data")), nil
		},
	}

	var ticks atomic.Int32

	_, err := env.client.Upload(context.Background(),
		[]UploadFile{memFile("a.jpg", "aaaa"), unknown},
		nil,
		func(Progress) { ticks.Add(1) },
	)
	require.NoError(t, err)
	assert.Equal(t, int32(0), ticks.Load(), "unknown total size suppresses progress")
}

func TestUpload_RefreshAndRetryOn401(t *testing.T) {
	var attempts atomic.Int32

	env, _ := newTestEnv(t, &tokenstore.TokenPair{AccessToken: "stale", RefreshToken: "ref"},
		func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)

			if r.Header.Get("Authorization") != "Bearer acc-new" {
				_, _ = io.Copy(io.Discard, r.Body)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			// The retried attempt must carry a complete, freshly built body.
			require.NoError(t, r.ParseMultipartForm(1<<20))

			fhs := r.MultipartForm.File[fileFieldName]
			require.Len(t, fhs, 1)

			f, openErr := fhs[0].Open()
			require.NoError(t, openErr)

			content, readErr := io.ReadAll(f)
			require.NoError(t, readErr)
			assert.Equal(t, "payload", string(content))

			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"processingId":"job-2"}`))
		})

	result, err := env.client.Upload(context.Background(),
		[]UploadFile{memFile("a.jpg", "payload")}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "job-2", result.ProcessingID)
	assert.Equal(t, int32(2), attempts.Load())
	assert.Equal(t, int32(1), env.refreshs.Load())
}

func TestUpload_ProgressRestartsOnRetry(t *testing.T) {
	env, _ := newTestEnv(t, &tokenstore.TokenPair{AccessToken: "stale", RefreshToken: "ref"},
		func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.Copy(io.Discard, r.Body)

			if r.Header.Get("Authorization") != "Bearer acc-new" {
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"processingId":"job-3"}`))
		})

	var snapshots []Progress

	content := strings.Repeat("x", 2048)

	_, err := env.client.Upload(context.Background(),
		[]UploadFile{memFile("a.jpg", content)},
		nil,
		func(p Progress) { snapshots = append(snapshots, p) },
	)
	require.NoError(t, err)
	require.NotEmpty(t, snapshots)

	// The retried attempt counts its bytes from zero: no snapshot may
	// exceed the batch size even though the payload crossed the wire twice.
	total := int64(len(content))
	for _, p := range snapshots {
		assert.LessOrEqual(t, p.Loaded, total)
		assert.LessOrEqual(t, p.Percent, 100.0)
		assert.Equal(t, total, p.Total)
	}

	assert.Equal(t, total, snapshots[len(snapshots)-1].Loaded)
}

func TestUpload_ServerMessageOnFailure(t *testing.T) {
	env, _ := newTestEnv(t, &tokenstore.TokenPair{AccessToken: "acc"},
		func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.Copy(io.Discard, r.Body)
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"too many images"}`))
		})

	_, err := env.client.Upload(context.Background(),
		[]UploadFile{memFile("a.jpg", "aaaa")}, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.Contains(t, err.Error(), "too many images")
}

func TestUpload_GenericMessageWhenBodyUnhelpful(t *testing.T) {
	env, _ := newTestEnv(t, &tokenstore.TokenPair{AccessToken: "acc"},
		func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.Copy(io.Discard, r.Body)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`<html>down</html>`))
		})

	_, err := env.client.Upload(context.Background(),
		[]UploadFile{memFile("a.jpg", "aaaa")}, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Contains(t, err.Error(), http.StatusText(http.StatusServiceUnavailable))
}

func TestUpload_InvalidResponseBody(t *testing.T) {
	env, _ := newTestEnv(t, &tokenstore.TokenPair{AccessToken: "acc"},
		func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.Copy(io.Discard, r.Body)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`not json at all`))
		})

	_, err := env.client.Upload(context.Background(),
		[]UploadFile{memFile("a.jpg", "aaaa")}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestUpload_MissingProcessingID(t *testing.T) {
	env, _ := newTestEnv(t, &tokenstore.TokenPair{AccessToken: "acc"},
		func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.Copy(io.Discard, r.Body)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"ok":true}`))
		})

	_, err := env.client.Upload(context.Background(),
		[]UploadFile{memFile("a.jpg", "aaaa")}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestUpload_TimeoutDistinctFromNetworkError(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	env, _ := newTestEnv(t, &tokenstore.TokenPair{AccessToken: "acc"},
		func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.Copy(io.Discard, r.Body)
			<-release
			w.WriteHeader(http.StatusOK)
		})

	env.client.uploadTimeout = 50 * time.Millisecond

	_, err := env.client.Upload(context.Background(),
		[]UploadFile{memFile("a.jpg", "aaaa")}, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUploadTimeout)
}

func TestUpload_CallerCancellationIsNotTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	env, _ := newTestEnv(t, &tokenstore.TokenPair{AccessToken: "acc"},
		func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.Copy(io.Discard, r.Body)
			<-release
			w.WriteHeader(http.StatusOK)
		})

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := env.client.Upload(ctx, []UploadFile{memFile("a.jpg", "aaaa")}, nil, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUploadTimeout)
}

func TestUpload_NoFiles(t *testing.T) {
	store := newTestStore(t, &tokenstore.TokenPair{AccessToken: "acc"})
	client := NewClient("http://unused", http.DefaultClient, store, nil, nil)

	_, err := client.Upload(context.Background(), nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one file")
}

func TestFileFromPath(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/photo.jpg"
	require.NoError(t, os.WriteFile(path, []byte("image-bytes"), 0o600))

	f, err := FileFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "photo.jpg", f.Name)
	assert.Equal(t, int64(len("image-bytes")), f.Size)

	rc, err := f.Open()
	require.NoError(t, err)
	defer rc.Close()

	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "image-bytes", string(content))
}

func TestFileFromPath_Missing(t *testing.T) {
	_, err := FileFromPath(t.TempDir() + "/nope.jpg")
	require.Error(t, err)
}
