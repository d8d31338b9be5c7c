package httprequest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/mergetrain/internal/event"
	"github.com/simplesurance/mergetrain/internal/mergereq"
	"github.com/simplesurance/mergetrain/internal/trainerr"
)

var testRepo = event.RepositoryID{Owner: "simplesurance", Name: "merge train"}

var testFp = mergereq.Fingerprint{ID: 12, SHA: "8ad9dec4298f6b8f020997373cf4fe22005f2c06"}

func newWorker(t *testing.T, m map[string]any) *Worker {
	t.Helper()
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	cfg, err := NewConfigFromMap(m)
	require.NoError(t, err)

	return New(cfg, "main")
}

func TestTriggerBuildRendersRequest(t *testing.T) {
	type request struct {
		method string
		path   string
		query  string
		body   string
		header string
		user   string
		pass   string
	}

	reqCh := make(chan *request, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)

		user, pass, _ := r.BasicAuth()

		reqCh <- &request{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			body:   string(body),
			header: r.Header.Get("X-Branch"),
			user:   user,
			pass:   pass,
		}
	}))
	t.Cleanup(srv.Close)

	w := newWorker(t, map[string]any{
		"type":     "httprequest",
		"url":      srv.URL + "/build/{{ .Owner }}?repo={{ queryescape .Repository }}",
		"method":   "put",
		"user":     "ci",
		"password": "pw",
		"data":     `{"pr": {{ .MergeRequest }}, "sha": "{{ .SHA }}"}`,
		"headers":  map[string]any{"X-Branch": "{{ .Branch }}"},
	})

	err := w.TriggerBuild(context.Background(), testRepo, testFp)
	require.NoError(t, err)

	req := <-reqCh
	assert.Equal(t, http.MethodPut, req.method)
	assert.Equal(t, "/build/simplesurance", req.path)
	assert.Equal(t, "repo=merge+train", req.query)
	assert.Equal(t, `{"pr": 12, "sha": "8ad9dec4298f6b8f020997373cf4fe22005f2c06"}`, req.body)
	assert.Equal(t, "main", req.header)
	assert.Equal(t, "ci", req.user)
	assert.Equal(t, "pw", req.pass)
}

func TestTriggerBuildErrors(t *testing.T) {
	type testcase struct {
		name       string
		status     int
		retryAfter string
		retryable  bool
	}

	testcases := []testcase{
		{name: "badRequest", status: http.StatusBadRequest},
		{name: "serverError", status: http.StatusBadGateway, retryable: true},
		{name: "tooManyRequests", status: http.StatusTooManyRequests, retryAfter: "30", retryable: true},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tc.retryAfter != "" {
					w.Header().Set("Retry-After", tc.retryAfter)
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte("nope"))
			}))
			t.Cleanup(srv.Close)

			w := newWorker(t, map[string]any{"url": srv.URL})

			err := w.TriggerBuild(context.Background(), testRepo, testFp)
			require.Error(t, err)
			assert.Equal(t, tc.retryable, trainerr.IsRetryable(err))

			var reqErr *ErrorHTTPRequest
			require.ErrorAs(t, err, &reqErr)
			assert.Equal(t, tc.status, reqErr.Status)
			assert.Equal(t, "nope", string(reqErr.Body))

			if tc.retryAfter != "" {
				var retryErr *trainerr.RetryableError
				require.ErrorAs(t, err, &retryErr)
				assert.WithinDuration(t, time.Now().Add(30*time.Second), retryErr.After, 5*time.Second)
			}
		})
	}
}

func TestNetworkErrorsAreRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	w := newWorker(t, map[string]any{"url": url})

	err := w.TriggerBuild(context.Background(), testRepo, testFp)
	assert.True(t, trainerr.IsRetryable(err), "err: %v", err)
}

func TestNewConfigFromMapValidation(t *testing.T) {
	_, err := NewConfigFromMap(map[string]any{})
	assert.Error(t, err, "missing url")

	_, err = NewConfigFromMap(map[string]any{"url": "http://localhost/{{ .Owner"})
	assert.Error(t, err, "invalid template")

	_, err = NewConfigFromMap(map[string]any{"url": "http://localhost", "headers": map[string]any{"X-Count": int64(1)}})
	assert.Error(t, err, "non-string header")

	cfg, err := NewConfigFromMap(map[string]any{"url": "http://localhost", "password": "secret"})
	require.NoError(t, err)
	assert.Equal(t, "httprequest: POST to http://localhost", cfg.String())
	assert.NotContains(t, cfg.DetailedString(), "secret")
}
