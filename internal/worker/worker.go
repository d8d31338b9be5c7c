// Package worker creates the CI workers that build merge requests.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/simplesurance/mergetrain/internal/event"
	"github.com/simplesurance/mergetrain/internal/maputils"
	"github.com/simplesurance/mergetrain/internal/mergereq"
	"github.com/simplesurance/mergetrain/internal/worker/dry"
	"github.com/simplesurance/mergetrain/internal/worker/httprequest"
)

// Worker triggers a CI build of a merge request. The result of the build
// is reported asynchronously as event.
type Worker interface {
	TriggerBuild(ctx context.Context, repo event.RepositoryID, fp mergereq.Fingerprint) error
}

// Publisher is used by workers that report build results themselves.
type Publisher interface {
	Publish(*event.Event) error
}

const (
	TypeHTTPRequest = "httprequest"
	TypeDry         = "dry"
)

var ErrUnsupportedType = errors.New("unsupported worker type")

// New creates a worker for merge requests of branch from the configuration
// map m. The "type" key of m selects the worker implementation.
func New(branch string, m map[string]any, pub Publisher) (Worker, error) {
	typ, err := maputils.StrVal(m, "type")
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(typ) {
	case TypeHTTPRequest:
		cfg, err := httprequest.NewConfigFromMap(m)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", TypeHTTPRequest, err)
		}

		return httprequest.New(cfg, branch), nil

	case TypeDry:
		cfg, err := dry.NewConfigFromMap(m)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", TypeDry, err)
		}

		if pub == nil {
			return nil, errors.New("dry: publisher is nil")
		}

		return dry.New(cfg, pub), nil

	case "":
		return nil, errors.New("missing string field 'type'")

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, typ)
	}
}

// ValidateConfig returns an error if no worker can be created from m.
func ValidateConfig(m map[string]any) error {
	_, err := New("", m, nopPublisher{})
	return err
}

type nopPublisher struct{}

func (nopPublisher) Publish(*event.Event) error { return nil }
