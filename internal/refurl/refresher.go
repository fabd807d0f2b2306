// Package refurl re-issues time-limited reference URLs for batches that run
// long enough for the originally signed links to expire.
package refurl

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Reference pairs a signed, time-limited URL with the canonical locator it
// was derived from. The locator is stable; the URL is not.
type Reference struct {
	URL     string `json:"url"`
	Locator string `json:"locator"`
}

// SignFunc derives a fresh URL from a canonical locator.
type SignFunc func(ctx context.Context, locator string) (string, error)

// Refresher swaps stale reference URLs for freshly signed ones. A reference
// whose re-derivation fails is dropped from the set; generation proceeds
// with fewer references rather than aborting.
type Refresher struct {
	maxAge time.Duration
	sign   SignFunc
	logger zerolog.Logger

	now func() time.Time
}

func New(maxAge time.Duration, sign SignFunc, logger zerolog.Logger) *Refresher {
	return &Refresher{maxAge: maxAge, sign: sign, logger: logger, now: time.Now}
}

// Refresh returns the reference set to use for the next generation call. The
// input is returned untouched while the batch is younger than maxAge.
func (r *Refresher) Refresh(ctx context.Context, batchStart time.Time, refs []Reference) []Reference {
	if len(refs) == 0 || r.sign == nil {
		return refs
	}
	if r.now().Sub(batchStart) <= r.maxAge {
		return refs
	}

	fresh := make([]Reference, 0, len(refs))
	for _, ref := range refs {
		url, err := r.sign(ctx, ref.Locator)
		if err != nil {
			r.logger.Warn().Err(err).Str("locator", ref.Locator).Msg("refurl: dropping reference, refresh failed")
			continue
		}
		fresh = append(fresh, Reference{URL: url, Locator: ref.Locator})
	}
	return fresh
}

// URLs flattens a reference set into the URL list consumed by generators.
func URLs(refs []Reference) []string {
	if len(refs) == 0 {
		return nil
	}
	urls := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref.URL != "" {
			urls = append(urls, ref.URL)
		}
	}
	return urls
}
