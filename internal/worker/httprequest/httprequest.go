// Package httprequest triggers builds by sending templated HTTP requests to
// a CI server.
package httprequest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/mergetrain/internal/event"
	"github.com/simplesurance/mergetrain/internal/logfields"
	"github.com/simplesurance/mergetrain/internal/mergereq"
	"github.com/simplesurance/mergetrain/internal/trainerr"
)

const loggerName = "worker.httprequest"

const DefaultHTTPClientTimeout = time.Minute

// Worker triggers a build by sending a http request.
type Worker struct {
	*Config
	branch string
	clt    *http.Client
	logger *zap.Logger
}

// New returns a worker that triggers builds of merge requests for branch.
func New(cfg *Config, branch string) *Worker {
	return &Worker{
		Config: cfg,
		branch: branch,
		clt:    &http.Client{Timeout: DefaultHTTPClientTimeout},
		logger: zap.L().Named(loggerName),
	}
}

func render(templ *template.Template, data *TemplateData) (string, error) {
	var out bytes.Buffer

	if err := templ.Execute(&out, data); err != nil {
		return "", fmt.Errorf("templating %s failed: %w", templ.Name(), err)
	}

	return out.String(), nil
}

func (w *Worker) newRequest(ctx context.Context, data *TemplateData) (*http.Request, error) {
	url, err := render(w.url, data)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if w.data != nil {
		renderedData, err := render(w.data, data)
		if err != nil {
			return nil, err
		}

		body = bytes.NewBufferString(renderedData)
	}

	req, err := http.NewRequestWithContext(ctx, w.method, url, body)
	if err != nil {
		return nil, err
	}

	if w.user != "" || w.password != "" {
		req.SetBasicAuth(w.user, w.password)
	}

	for k, templ := range w.headers {
		v, err := render(templ, data)
		if err != nil {
			return nil, err
		}

		req.Header.Add(k, v)
	}

	return req, nil
}

// TriggerBuild sends the http request for the merge request fp.
// It returns an ErrorHTTPRequest if the server responds with a non-2xx
// status code. Network errors and responses with a 5xx or 429 status code
// are returned as trainerr.RetryableError.
func (w *Worker) TriggerBuild(ctx context.Context, repo event.RepositoryID, fp mergereq.Fingerprint) error {
	logger := w.logger.With(w.LogFields()...).With(repo.LogFields()...).With(
		logfields.Branch(w.branch),
		logfields.MergeRequest(fp.ID),
		logfields.Commit(fp.SHA),
	)

	req, err := w.newRequest(ctx, &TemplateData{
		Owner:        repo.Owner,
		Repository:   repo.Name,
		Branch:       w.branch,
		MergeRequest: fp.ID,
		SHA:          fp.SHA,
	})
	if err != nil {
		return err
	}

	resp, err := w.clt.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}

		return trainerr.NewRetryableAnytimeError(err)
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Warn(
			"reading http response body failed",
			logfields.Event("http_request_reading_response_body_failed"),
			zap.Int("http_response_code", resp.StatusCode),
		)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		logger.Debug(
			fmt.Sprintf("http response: %s", string(body)),
			logfields.Event("http_request_sent"),
		)

		return nil
	}

	reqErr := &ErrorHTTPRequest{
		Body:   body,
		Status: resp.StatusCode,
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			return trainerr.NewRetryableError(reqErr, time.Now().Add(time.Duration(secs)*time.Second))
		}

		return trainerr.NewRetryableAnytimeError(reqErr)

	case resp.StatusCode >= 500:
		return trainerr.NewRetryableAnytimeError(reqErr)

	default:
		return reqErr
	}
}

// LogFields returns fields that should be used when logging messages related
// to the worker.
func (w *Worker) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("worker", "httprequest"),
		zap.String("http_method", w.method),
	}
}
