package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photocron/internal/retry"
)

const getMeResponse = `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"bot","username":"photocron_bot"}}`

func fakeBotAPI(t *testing.T, sendPhoto http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			w.Write([]byte(getMeResponse))
		case strings.HasSuffix(r.URL.Path, "/sendPhoto"):
			sendPhoto(w, r)
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writePhoto(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cat.jpg")
	require.NoError(t, os.WriteFile(path, []byte("not really a jpeg"), 0o644))
	return path
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(Config{ChatID: "1"})
	assert.Error(t, err)
	_, err = New(Config{Token: "t"})
	assert.Error(t, err)
}

func TestSendPhoto_Success(t *testing.T) {
	var gotChat, gotCaption atomic.Value
	srv := fakeBotAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		gotChat.Store(r.FormValue("chat_id"))
		gotCaption.Store(r.FormValue("caption"))
		w.Write([]byte(`{"ok":true,"result":{"message_id":42,"date":0,"chat":{"id":100,"type":"private"}}}`))
	})

	c, err := New(Config{Token: "token", ChatID: "100", APIURL: srv.URL})
	require.NoError(t, err)

	id, err := c.SendPhoto(context.Background(), writePhoto(t), "")
	require.NoError(t, err)
	assert.Equal(t, 42, id)
	assert.Equal(t, "100", gotChat.Load())
	assert.Equal(t, "📸 cat.jpg", gotCaption.Load())
}

func TestSendPhoto_ClassifiesAPIErrors(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		params string
		want   retry.Class
	}{
		{"rate limited", 429, `{"retry_after":3}`, retry.ClassRetryable},
		{"server error", 502, "", retry.ClassRetryable},
		{"retry after on bad request", 400, `{"retry_after":1}`, retry.ClassRetryable},
		{"bad request", 400, "", retry.ClassTerminal},
		{"forbidden", 403, "", retry.ClassTerminal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fakeBotAPI(t, func(w http.ResponseWriter, r *http.Request) {
				body := `{"ok":false,"error_code":` + strconv.Itoa(tt.code) + `,"description":"nope"`
				if tt.params != "" {
					body += `,"parameters":` + tt.params
				}
				w.WriteHeader(tt.code)
				w.Write([]byte(body + "}"))
			})
			c, err := New(Config{Token: "token", ChatID: "@channel", APIURL: srv.URL})
			require.NoError(t, err)

			_, err = c.SendPhoto(context.Background(), writePhoto(t), "hi")
			require.Error(t, err)
			assert.Equal(t, tt.want, retry.DefaultClassify(err))
			assert.Contains(t, err.Error(), strconv.Itoa(tt.code))
		})
	}
}

func TestSendPhoto_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := fakeBotAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":1}}`))
			return
		}
		w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":1,"type":"private"}}}`))
	})
	c, err := New(Config{Token: "token", ChatID: "1", APIURL: srv.URL})
	require.NoError(t, err)
	photo := writePhoto(t)

	out := retry.Execute(context.Background(), retry.Policy{MaxAttempts: 3}, func(ctx context.Context, _ int) (map[string]any, error) {
		id, err := c.SendPhoto(ctx, photo, "")
		if err != nil {
			return nil, err
		}
		return map[string]any{"message_id": id}, nil
	})
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, 7, out.Detail["message_id"])
	assert.EqualValues(t, 2, calls.Load())
}

func TestSendPhoto_FileTooLargeIsTerminal(t *testing.T) {
	srv := fakeBotAPI(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("oversized file must not be uploaded")
	})
	c, err := New(Config{Token: "token", ChatID: "1", APIURL: srv.URL})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "huge.jpg")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(MaxPhotoSize+1))
	require.NoError(t, f.Close())

	_, err = c.SendPhoto(context.Background(), path, "")
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.Equal(t, retry.ClassTerminal, retry.DefaultClassify(err))
}

func TestSendPhoto_MissingFileIsTerminal(t *testing.T) {
	srv := fakeBotAPI(t, func(w http.ResponseWriter, r *http.Request) {})
	c, err := New(Config{Token: "token", ChatID: "1", APIURL: srv.URL})
	require.NoError(t, err)

	_, err = c.SendPhoto(context.Background(), filepath.Join(t.TempDir(), "nope.jpg"), "")
	require.Error(t, err)
	var term *retry.TerminalError
	assert.True(t, errors.As(err, &term))
}

func TestSendPhoto_CanceledContext(t *testing.T) {
	srv := fakeBotAPI(t, func(w http.ResponseWriter, r *http.Request) {})
	c, err := New(Config{Token: "token", ChatID: "1", APIURL: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.SendPhoto(ctx, writePhoto(t), "")
	assert.ErrorIs(t, err, context.Canceled)
}
