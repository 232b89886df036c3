package detect

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photocron/internal/domain"
	"photocron/internal/retry"
)

// detectionAPI flags any upload whose file name contains "nsfw".
func detectionAPI(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.Close()
		res := Result{Confidence: 0.1}
		if strings.Contains(hdr.Filename, "nsfw") {
			res = Result{IsNude: true, Confidence: 0.95}
		}
		json.NewEncoder(w).Encode(res)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("img"), 0o644))
}

func newDetector(t *testing.T, apiURL string) (*Detector, string) {
	dir := t.TempDir()
	return New(Config{
		APIURL:    apiURL,
		PhotoDir:  dir,
		ReviewDir: "review",
		Threshold: 0.8,
		Timeout:   5 * time.Second,
		Policy:    retry.Policy{MaxAttempts: 3},
	}), dir
}

func TestRun_MovesFlaggedImagesToReview(t *testing.T) {
	srv := detectionAPI(t)
	d, dir := newDetector(t, srv.URL)

	writeFile(t, filepath.Join(dir, "beach.jpg"))
	writeFile(t, filepath.Join(dir, "album", "nsfw.PNG"))
	writeFile(t, filepath.Join(dir, "notes.txt"))
	writeFile(t, filepath.Join(dir, "review", "old_nsfw.jpg"))

	out := d.Run(context.Background())
	require.Equal(t, domain.StatusSuccess, out.Status, out.Detail)
	assert.Equal(t, 2, out.Detail["total_images"])
	assert.Equal(t, 2, out.Detail["processed"])
	assert.Equal(t, 1, out.Detail["moved_to_review"])
	assert.Equal(t, 0, out.Detail["errors"])

	assert.FileExists(t, filepath.Join(dir, "beach.jpg"))
	assert.NoFileExists(t, filepath.Join(dir, "album", "nsfw.PNG"))
	assert.FileExists(t, filepath.Join(dir, "review", "nsfw.PNG"))
	assert.FileExists(t, filepath.Join(dir, "review", "old_nsfw.jpg"))
}

func TestRun_SkippedWithoutAPIURL(t *testing.T) {
	d, _ := newDetector(t, "")
	out := d.Run(context.Background())
	assert.Equal(t, domain.StatusSkipped, out.Status)
}

func TestRun_SkippedWithoutImages(t *testing.T) {
	srv := detectionAPI(t)
	d, _ := newDetector(t, srv.URL)
	out := d.Run(context.Background())
	assert.Equal(t, domain.StatusSkipped, out.Status)
	assert.Equal(t, "no images to process", out.Detail["reason"])
}

func TestRun_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"is_nude":false,"confidence":0.2}`))
	}))
	defer srv.Close()

	d, dir := newDetector(t, srv.URL)
	writeFile(t, filepath.Join(dir, "a.jpg"))

	out := d.Run(context.Background())
	require.Equal(t, domain.StatusSuccess, out.Status)
	assert.Equal(t, 1, out.Detail["processed"])
	assert.Equal(t, int32(2), calls.Load())
}

func TestRun_AllImagesFailing(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()

	d, dir := newDetector(t, srv.URL)
	writeFile(t, filepath.Join(dir, "a.jpg"))

	out := d.Run(context.Background())
	assert.Equal(t, domain.StatusError, out.Status)
	assert.Equal(t, 1, out.Detail["errors"])
	// 4xx is terminal: no retries.
	assert.Equal(t, int32(1), calls.Load())
}

func TestDetect_MalformedResponseIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	d, dir := newDetector(t, srv.URL)
	img := filepath.Join(dir, "a.jpg")
	writeFile(t, img)

	_, err := d.Detect(context.Background(), img)
	require.Error(t, err)
	assert.Equal(t, retry.ClassTerminal, retry.DefaultClassify(err))
}

func TestMoveToReview_UniqueNames(t *testing.T) {
	d, dir := newDetector(t, "http://unused")

	for i := 0; i < 3; i++ {
		src := filepath.Join(dir, "sub", "photo.jpg")
		writeFile(t, src)
		_, err := d.MoveToReview(src)
		require.NoError(t, err)
	}

	review := filepath.Join(dir, "review")
	assert.FileExists(t, filepath.Join(review, "photo.jpg"))
	assert.FileExists(t, filepath.Join(review, "photo_1.jpg"))
	assert.FileExists(t, filepath.Join(review, "photo_2.jpg"))
}

func TestReviewStats(t *testing.T) {
	d, dir := newDetector(t, "http://unused")

	stats, err := d.ReviewStats()
	require.NoError(t, err)
	assert.False(t, stats.Exists)
	assert.Zero(t, stats.Count)

	writeFile(t, filepath.Join(dir, "review", "a.jpg"))
	writeFile(t, filepath.Join(dir, "review", "b.webp"))
	writeFile(t, filepath.Join(dir, "review", "readme.md"))

	stats, err = d.ReviewStats()
	require.NoError(t, err)
	assert.True(t, stats.Exists)
	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, int64(6), stats.TotalSize)
}

func TestIsImage(t *testing.T) {
	assert.True(t, IsImage("a.JPG"))
	assert.True(t, IsImage("dir/b.webp"))
	assert.False(t, IsImage("c.txt"))
	assert.False(t, IsImage("jpg"))
}
