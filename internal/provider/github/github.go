// Package github receives GitHub webhook events and converts them to
// repository events.
package github

import (
	"errors"
	"net/http"

	"github.com/google/go-github/v43/github"
	"go.uber.org/zap"

	"github.com/simplesurance/mergetrain/internal/distributor"
	"github.com/simplesurance/mergetrain/internal/event"
	"github.com/simplesurance/mergetrain/internal/logfields"
)

const loggerName = "github-event-provider"

// Publisher forwards events to the pipelines of repositories.
type Publisher interface {
	Publish(*event.Event) error
}

// Provider listens for github-webhook http-requests at a http-server handler,
// validates and converts the requests to Events and publishes them.
type Provider struct {
	logger        *zap.Logger
	webhookSecret []byte
	pub           Publisher
	buildFilters  map[event.RepositoryID]*BuildStatusFilter
}

type Option func(*Provider)

func WithPayloadSecret(secret string) Option {
	return func(p *Provider) {
		p.webhookSecret = []byte(secret)
	}
}

// WithBuildStatusFilter sets the filter that commit status and check run
// events of repo must match to be published as build results.
// Without a filter all of them are published.
func WithBuildStatusFilter(repo event.RepositoryID, filter *BuildStatusFilter) Option {
	return func(p *Provider) {
		p.buildFilters[repo] = filter
	}
}

func New(pub Publisher, opts ...Option) *Provider {
	p := Provider{
		pub:          pub,
		buildFilters: map[event.RepositoryID]*BuildStatusFilter{},
	}

	for _, o := range opts {
		o(&p)
	}

	if p.logger == nil {
		p.logger = zap.L().Named(loggerName)
	}

	return &p
}

func (p *Provider) HTTPHandler(resp http.ResponseWriter, req *http.Request) {
	deliveryID := github.DeliveryID(req)
	hookType := github.WebHookType(req)

	logger := p.logger.With(
		logfields.EventProvider("github"),
		zap.String("github.delivery_id", deliveryID),
		zap.String("github.webhook_type", hookType),
	)

	payload, err := github.ValidatePayload(req, p.webhookSecret)
	if err != nil {
		logger.Info(
			"received invalid http request, payload validation failed",
			logfields.Event("github_http_request_validation_failed"),
			zap.Error(err),
		)
		http.Error(resp, err.Error(), http.StatusBadRequest)
		return
	}

	logger.Debug(
		"received http request",
		logfields.Event("github_event_received"),
		zap.ByteString("http_body", payload),
	)

	ghEvent, err := github.ParseWebHook(hookType, payload)
	if err != nil {
		logger.Info(
			"received invalid http request, parsing failed",
			logfields.Event("github_event_parsing_failed"),
			zap.Error(err),
		)
		http.Error(resp, err.Error(), http.StatusBadRequest)
		return
	}

	repo, evPayload, isBuildResult := toPayload(ghEvent)
	if evPayload == nil {
		logger.Debug(
			"ignoring event, event type or action is unsupported",
			logfields.Event("github_unsupported_event_received"),
		)
		return
	}

	ev := event.New(repo, evPayload)
	if deliveryID != "" {
		ev.ID = deliveryID
	}

	logger = logger.With(ev.LogFields()...)

	if isBuildResult {
		if filter, exists := p.buildFilters[repo]; exists {
			match, err := filter.Match(req.Context(), payload)
			if err != nil {
				logger.Warn(
					"evaluating build status filter failed, ignoring event",
					logfields.Event("github_build_status_filter_failed"),
					zap.Stringer("filter", filter),
					zap.Error(err),
				)
				return
			}

			if !match {
				logger.Debug(
					"ignoring event, build status filter does not match",
					logfields.Event("github_build_status_filter_mismatch"),
					zap.Stringer("filter", filter),
				)
				return
			}
		}
	}

	err = p.pub.Publish(ev)
	switch {
	case err == nil:
		logger.Debug("event published", logfields.Event("github_event_published"))

	case errors.Is(err, distributor.ErrUnknownRepository):
		logger.Debug(
			"ignoring event, repository is not managed",
			logfields.Event("github_event_for_unmanaged_repository"),
		)

	case errors.Is(err, distributor.ErrBufferFull):
		logger.Warn(
			"event lost, event buffer of repository is full",
			logfields.Event("github_forwarding_event_failed"),
			zap.Error(err),
		)
		http.Error(resp, "queue full", http.StatusServiceUnavailable)

	default:
		logger.Error(
			"publishing event failed",
			logfields.Event("github_forwarding_event_failed"),
			zap.Error(err),
		)
		http.Error(resp, err.Error(), http.StatusInternalServerError)
	}
}
