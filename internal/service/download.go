package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/iliyamo/bundle-store/internal/artifact"
	"github.com/iliyamo/bundle-store/internal/download"
	"github.com/iliyamo/bundle-store/internal/metrics"
	"github.com/iliyamo/bundle-store/internal/repository"
)

// DownloadGate decides whether a download is permitted and opens the
// artifact.  It is independent of how the order was paid.
type DownloadGate struct {
	users   *repository.UserRepo
	tokens  *download.TokenStore
	store   artifact.Store
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewDownloadGate returns a gate over the given token store and artifact.
func NewDownloadGate(users *repository.UserRepo, tokens *download.TokenStore, store artifact.Store,
	m *metrics.Metrics, log zerolog.Logger) *DownloadGate {
	return &DownloadGate{
		users:   users,
		tokens:  tokens,
		store:   store,
		metrics: m,
		log:     log.With().Str("component", "download-gate").Logger(),
	}
}

// Open streams the artifact to an entitled user.
func (g *DownloadGate) Open(ctx context.Context, userID uint64) (*artifact.Object, error) {
	if err := g.requireEntitled(ctx, userID); err != nil {
		return nil, err
	}
	obj, err := g.openArtifact(ctx)
	if err != nil {
		return nil, err
	}
	g.metrics.Download("direct")
	g.log.Info().Uint64("user_id", userID).Msg("direct download")
	return obj, nil
}

// IssueLink mints a one-time token for an entitled user.
func (g *DownloadGate) IssueLink(ctx context.Context, userID uint64) (download.Grant, error) {
	if err := g.requireEntitled(ctx, userID); err != nil {
		return download.Grant{}, err
	}
	grant, err := g.tokens.Issue(userID)
	if err != nil {
		return download.Grant{}, err
	}
	g.log.Info().Uint64("user_id", userID).Time("expires_at", grant.ExpiresAt).Msg("download link issued")
	return grant, nil
}

// Redeem consumes a token and opens the artifact.  The token is gone after
// this call whatever the outcome.
func (g *DownloadGate) Redeem(ctx context.Context, token string) (*artifact.Object, error) {
	grant, err := g.tokens.Redeem(token)
	switch {
	case errors.Is(err, download.ErrNotFound):
		return nil, ErrNotFound
	case errors.Is(err, download.ErrExpired):
		return nil, ErrExpired
	case err != nil:
		return nil, err
	}
	if err := g.requireEntitled(ctx, grant.UserID); err != nil {
		return nil, err
	}
	obj, err := g.openArtifact(ctx)
	if err != nil {
		return nil, err
	}
	g.metrics.Download("link")
	g.log.Info().Uint64("user_id", grant.UserID).Msg("download link redeemed")
	return obj, nil
}

func (g *DownloadGate) requireEntitled(ctx context.Context, userID uint64) error {
	u, err := g.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrPaymentRequired
	}
	if err != nil {
		return err
	}
	if !u.Entitled {
		return ErrPaymentRequired
	}
	return nil
}

func (g *DownloadGate) openArtifact(ctx context.Context) (*artifact.Object, error) {
	obj, err := g.store.Open(ctx)
	if errors.Is(err, artifact.ErrNotFound) {
		g.log.Error().Msg("artifact missing from storage")
		return nil, ErrNotFound
	}
	return obj, err
}
