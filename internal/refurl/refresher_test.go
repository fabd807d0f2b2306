package refurl

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestFreshBatchKeepsOriginalURLs(t *testing.T) {
	signed := 0
	r := New(10*time.Minute, func(context.Context, string) (string, error) {
		signed++
		return "new", nil
	}, zerolog.New(io.Discard))

	refs := []Reference{{URL: "https://cdn/old?sig=a", Locator: "assets/a.png"}}
	got := r.Refresh(context.Background(), time.Now().Add(-time.Minute), refs)

	if signed != 0 {
		t.Fatalf("young batch must not re-sign, signed %d", signed)
	}
	if got[0].URL != refs[0].URL {
		t.Fatalf("url changed: %q", got[0].URL)
	}
}

func TestStaleBatchReSignsFromLocator(t *testing.T) {
	r := New(10*time.Minute, func(_ context.Context, locator string) (string, error) {
		return "https://cdn/" + locator + "?sig=fresh", nil
	}, zerolog.New(io.Discard))

	refs := []Reference{
		{URL: "https://cdn/assets/a.png?sig=stale", Locator: "assets/a.png"},
		{URL: "https://cdn/assets/b.png?sig=stale", Locator: "assets/b.png"},
	}
	got := r.Refresh(context.Background(), time.Now().Add(-time.Hour), refs)

	if len(got) != 2 {
		t.Fatalf("refs = %d, want 2", len(got))
	}
	for i, ref := range got {
		want := "https://cdn/" + refs[i].Locator + "?sig=fresh"
		if ref.URL != want {
			t.Fatalf("ref[%d].URL = %q, want %q", i, ref.URL, want)
		}
	}
}

func TestFailedRefreshDropsOnlyThatReference(t *testing.T) {
	r := New(10*time.Minute, func(_ context.Context, locator string) (string, error) {
		if locator == "assets/broken.png" {
			return "", errors.New("gone")
		}
		return "https://cdn/" + locator, nil
	}, zerolog.New(io.Discard))

	refs := []Reference{
		{URL: "x", Locator: "assets/ok.png"},
		{URL: "y", Locator: "assets/broken.png"},
	}
	got := r.Refresh(context.Background(), time.Now().Add(-time.Hour), refs)

	if len(got) != 1 || got[0].Locator != "assets/ok.png" {
		t.Fatalf("got %+v, want only the healthy reference", got)
	}
}

func TestURLsSkipsEmpty(t *testing.T) {
	urls := URLs([]Reference{{URL: "a"}, {URL: ""}, {URL: "b"}})
	if len(urls) != 2 || urls[0] != "a" || urls[1] != "b" {
		t.Fatalf("urls = %v", urls)
	}
}
