package source

import (
	"context"
	"errors"

	"claimcheck/internal/domain"
	"claimcheck/internal/repo"
)

// RecordSource yields the immutable-for-the-run claim snapshot. The engine
// never writes through this interface.
type RecordSource interface {
	FetchAll(ctx context.Context) ([]domain.Claim, error)
}

// DBRecordSource reads claims from the workspace database.
type DBRecordSource struct {
	Repo repo.Repo
}

func (s DBRecordSource) FetchAll(ctx context.Context) ([]domain.Claim, error) {
	return s.Repo.ListClaims(ctx)
}

// DBProviderLookup resolves provider ids against the providers table,
// mapping absence to (nil, nil) as the rules contract requires.
type DBProviderLookup struct {
	Repo repo.Repo
}

func (l DBProviderLookup) Get(ctx context.Context, id string) (*domain.Provider, error) {
	p, err := l.Repo.GetProvider(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}
