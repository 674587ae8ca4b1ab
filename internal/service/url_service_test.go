package service_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Monthlyaway/linktrack/internal/model"
	"github.com/Monthlyaway/linktrack/internal/service"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedSource always proposes the same code
type fixedSource struct{ code string }

func (s fixedSource) Next() (string, error) { return s.code, nil }

func TestURLService_CreateDefaults(t *testing.T) {
	f := newFixture(t)

	rec, err := f.urls.Create(context.Background(), service.CreateRequest{LongURL: "https://example.com/x"})
	require.NoError(t, err)

	assert.Len(t, rec.ShortCode, 6)
	assert.Equal(t, baseTime, rec.CreatedAt)
	assert.Equal(t, baseTime.Add(30*time.Minute), rec.ExpiresAt)
	assert.Zero(t, rec.Clicks)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.URLsCreatedTotal))
	assert.Equal(t, 1, f.logs.FilterMessage("short url created").Len())
}

func TestURLService_CreateRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		req  service.CreateRequest
	}{
		{"not a url", service.CreateRequest{LongURL: "not-a-url"}},
		{"empty url", service.CreateRequest{LongURL: ""}},
		{"ftp scheme", service.CreateRequest{LongURL: "ftp://example.com/file"}},
		{"no host", service.CreateRequest{LongURL: "http:///path"}},
		{"too long", service.CreateRequest{LongURL: "https://example.com/" + strings.Repeat("a", service.MaxURLLength)}},
		{"zero validity", service.CreateRequest{LongURL: "https://x.com", ValidityMinutes: minutes(0)}},
		{"negative validity", service.CreateRequest{LongURL: "https://x.com", ValidityMinutes: minutes(-5)}},
		{"custom code with spaces", service.CreateRequest{LongURL: "https://x.com", CustomShortCode: "has spaces"}},
		{"custom code too long", service.CreateRequest{LongURL: "https://x.com", CustomShortCode: strings.Repeat("a", 21)}},
	}

	f := newFixture(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.urls.Create(context.Background(), tt.req)
			assert.ErrorIs(t, err, model.ErrInvalidInput)
		})
	}
}

func TestURLService_CustomCodeConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := service.CreateRequest{LongURL: "https://example.com/promo", CustomShortCode: "promo"}

	rec, err := f.urls.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "promo", rec.ShortCode)

	_, err = f.urls.Create(ctx, req)
	assert.ErrorIs(t, err, model.ErrConflict)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CustomCodesTotal))
}

func TestURLService_ReservedCustomCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, code := range []string{"health", "metrics"} {
		_, err := f.urls.Create(ctx, service.CreateRequest{LongURL: "https://example.com", CustomShortCode: code})
		assert.ErrorIs(t, err, model.ErrConflict, code)
	}

	// routes are case sensitive, so only the exact path is taken
	rec, err := f.urls.Create(ctx, service.CreateRequest{LongURL: "https://example.com", CustomShortCode: "Health"})
	require.NoError(t, err)
	assert.Equal(t, "Health", rec.ShortCode)
}

func TestURLService_CustomCodeReusableAfterExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.urls.Create(ctx, service.CreateRequest{LongURL: "https://example.com/a", CustomShortCode: "promo", ValidityMinutes: minutes(1)})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)

	rec, err := f.urls.Create(ctx, service.CreateRequest{LongURL: "https://example.com/b", CustomShortCode: "promo"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/b", rec.LongURL)
}

func TestURLService_ConcurrentCreatesAreUnique(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 100
	codes := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := f.urls.Create(ctx, service.CreateRequest{LongURL: "https://example.com/same"})
			if assert.NoError(t, err) {
				codes[i] = rec.ShortCode
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, c := range codes {
		assert.False(t, seen[c], "duplicate code %s", c)
		seen[c] = true
	}

	live, err := f.urls.List(ctx, service.ListRequest{})
	require.NoError(t, err)
	assert.Len(t, live, n)
}

func TestURLService_GeneratorExhaustion(t *testing.T) {
	f := newFixture(t, withSource(fixedSource{code: "same00"}))
	ctx := context.Background()

	_, err := f.urls.Create(ctx, service.CreateRequest{LongURL: "https://example.com/1"})
	require.NoError(t, err)

	_, err = f.urls.Create(ctx, service.CreateRequest{LongURL: "https://example.com/2"})
	assert.ErrorIs(t, err, model.ErrResourceExhausted)
	assert.Equal(t, 10.0, testutil.ToFloat64(f.metrics.AllocationRetryTotal))
}

func TestURLService_GetHidesExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.urls.Create(ctx, service.CreateRequest{LongURL: "https://example.com/x", ValidityMinutes: minutes(0.01)})
	require.NoError(t, err)

	got, err := f.urls.Get(ctx, rec.ShortCode)
	require.NoError(t, err)
	assert.Equal(t, rec.LongURL, got.LongURL)

	f.clock.Advance(time.Second)

	_, err = f.urls.Get(ctx, rec.ShortCode)
	assert.ErrorIs(t, err, model.ErrNotFound)

	list, err := f.urls.List(ctx, service.ListRequest{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestURLService_DeleteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.urls.Create(ctx, service.CreateRequest{LongURL: "https://example.com/x"})
	require.NoError(t, err)

	require.NoError(t, f.urls.Delete(ctx, rec.ShortCode))
	require.NoError(t, f.urls.Delete(ctx, rec.ShortCode))
	require.NoError(t, f.urls.Delete(ctx, "never-existed"))

	_, err = f.urls.Get(ctx, rec.ShortCode)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestURLService_CreateBatch(t *testing.T) {
	f := newFixture(t)

	recs, err := f.urls.CreateBatch(context.Background(), []service.CreateRequest{
		{LongURL: "https://example.com/1"},
		{LongURL: "https://example.com/2", CustomShortCode: "two"},
		{LongURL: "https://example.com/3", ValidityMinutes: minutes(60)},
	})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "two", recs[1].ShortCode)
	assert.Equal(t, baseTime.Add(time.Hour), recs[2].ExpiresAt)
}

func TestURLService_CreateBatchRejects(t *testing.T) {
	tooMany := make([]service.CreateRequest, service.MaxBatchSize+1)
	for i := range tooMany {
		tooMany[i] = service.CreateRequest{LongURL: "https://example.com"}
	}

	tests := []struct {
		name    string
		reqs    []service.CreateRequest
		wantErr error
	}{
		{"empty", nil, model.ErrInvalidInput},
		{"too many", tooMany, model.ErrInvalidInput},
		{"one invalid item", []service.CreateRequest{
			{LongURL: "https://example.com/1"},
			{LongURL: "not-a-url"},
		}, model.ErrInvalidInput},
		{"reserved custom code", []service.CreateRequest{
			{LongURL: "https://example.com/1"},
			{LongURL: "https://example.com/2", CustomShortCode: "metrics"},
		}, model.ErrConflict},
		{"repeated custom code", []service.CreateRequest{
			{LongURL: "https://example.com/1", CustomShortCode: "dup"},
			{LongURL: "https://example.com/2", CustomShortCode: "dup"},
		}, model.ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.urls.CreateBatch(context.Background(), tt.reqs)
			assert.ErrorIs(t, err, tt.wantErr)

			list, err := f.urls.List(context.Background(), service.ListRequest{})
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestURLService_CreateBatchRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.urls.Create(ctx, service.CreateRequest{LongURL: "https://example.com/taken", CustomShortCode: "taken"})
	require.NoError(t, err)

	_, err = f.urls.CreateBatch(ctx, []service.CreateRequest{
		{LongURL: "https://example.com/1", CustomShortCode: "first"},
		{LongURL: "https://example.com/2", CustomShortCode: "taken"},
	})
	assert.ErrorIs(t, err, model.ErrConflict)

	_, err = f.urls.Get(ctx, "first")
	assert.ErrorIs(t, err, model.ErrNotFound)

	got, err := f.urls.Get(ctx, "taken")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/taken", got.LongURL)
}

func TestURLService_List(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	create := func(code, url string) {
		_, err := f.urls.Create(ctx, service.CreateRequest{LongURL: url, CustomShortCode: code, ValidityMinutes: minutes(60 * 24 * 60)})
		require.NoError(t, err)
	}

	create("old", "https://golang.org/doc")
	f.clock.Advance(10 * 24 * time.Hour)
	create("mid", "https://example.com/docs")
	f.clock.Advance(5 * 24 * time.Hour)
	create("new", "https://example.com/blog")
	f.clock.Advance(time.Hour)

	codes := func(req service.ListRequest) []string {
		recs, err := f.urls.List(ctx, req)
		require.NoError(t, err)
		out := make([]string, 0, len(recs))
		for _, r := range recs {
			out = append(out, r.ShortCode)
		}
		return out
	}

	assert.Equal(t, []string{"new", "mid", "old"}, codes(service.ListRequest{}))
	assert.Equal(t, []string{"old", "mid", "new"}, codes(service.ListRequest{Order: "asc"}))
	assert.Equal(t, []string{"new"}, codes(service.ListRequest{TimeRange: "day"}))
	assert.Equal(t, []string{"new", "mid"}, codes(service.ListRequest{TimeRange: "week", Search: "EXAMPLE"}))
	assert.Equal(t, []string{"new", "mid", "old"}, codes(service.ListRequest{TimeRange: "month"}))
	assert.Equal(t, []string{"old", "mid"}, codes(service.ListRequest{Search: "DOC", TimeRange: "all", SortKey: "shortCode"}))
}

func TestURLService_ListRejectsBadParameters(t *testing.T) {
	f := newFixture(t)

	for _, req := range []service.ListRequest{
		{TimeRange: "year"},
		{SortKey: "popularity"},
		{Order: "sideways"},
	} {
		_, err := f.urls.List(context.Background(), req)
		assert.ErrorIs(t, err, model.ErrInvalidInput)
	}
}

func TestParseTimeRange(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"all", 0},
		{"day", 24 * time.Hour},
		{"WEEK", 7 * 24 * time.Hour},
		{"month", 30 * 24 * time.Hour},
	}
	for _, tt := range tests {
		got, err := service.ParseTimeRange(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
