package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/simplesurance/mergetrain/internal/event"
	"github.com/simplesurance/mergetrain/internal/logfields"
	"github.com/simplesurance/mergetrain/internal/mergereq"
)

// DryProvider is a Provider that does not do any changes at the provider.
// Posting comments and fast-forwarding is simulated and always succeeds.
// All other operations are forwarded to the wrapped Provider.
type DryProvider struct {
	clt    Provider
	logger *zap.Logger
}

func NewDryProvider(clt Provider, logger *zap.Logger) *DryProvider {
	return &DryProvider{
		clt:    clt,
		logger: logger.Named("dry_provider"),
	}
}

func (c *DryProvider) DownloadOpenRequests(ctx context.Context, repo event.RepositoryID, branch string) ([]*mergereq.Snapshot, error) {
	return c.clt.DownloadOpenRequests(ctx, repo, branch)
}

func (c *DryProvider) Whoami(ctx context.Context) (string, error) {
	return c.clt.Whoami(ctx)
}

func (c *DryProvider) PostComment(_ context.Context, repo event.RepositoryID, id int, body string) error {
	c.logger.Info(
		"simulated posting of comment, no comment created",
		logfields.RepositoryOwner(repo.Owner),
		logfields.Repository(repo.Name),
		logfields.MergeRequest(id),
		zap.String("comment", body),
	)

	return nil
}

func (c *DryProvider) FastForward(_ context.Context, repo event.RepositoryID, branch, sha string) error {
	c.logger.Info(
		"simulated fast-forward of branch, branch unchanged",
		logfields.RepositoryOwner(repo.Owner),
		logfields.Repository(repo.Name),
		logfields.Branch(branch),
		logfields.Commit(sha),
	)

	return nil
}
