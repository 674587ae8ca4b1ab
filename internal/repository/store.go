package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Monthlyaway/linktrack/internal/model"
)

// Store is the persistence boundary for URL records.
//
// Get and Update return model.ErrExpired for a record that exists but is past
// its expiry and model.ErrNotFound for one that does not exist. Create
// replaces an expired record holding the same code and fails with
// model.ErrConflict when the code is live. All mutations of one code are
// serialized.
type Store interface {
	Create(ctx context.Context, rec *model.URLRecord) error
	Get(ctx context.Context, shortCode string) (*model.URLRecord, error)
	Update(ctx context.Context, shortCode string, fn Mutator) (*model.URLRecord, error)
	List(ctx context.Context, opts ListOptions) ([]*model.URLRecord, error)
	Delete(ctx context.Context, shortCode string) error
	DeleteExpired(ctx context.Context) (int, error)
}

// Mutator modifies a private copy of a record inside Update.
// Returning an error aborts the update and leaves the stored record untouched.
type Mutator func(rec *model.URLRecord) error

// SortKey names a record field usable for ordering
type SortKey string

const (
	SortByShortCode     SortKey = "shortCode"
	SortByLongURL       SortKey = "longUrl"
	SortByCreatedAt     SortKey = "createdAt"
	SortByExpiresAt     SortKey = "expiresAt"
	SortByClicks        SortKey = "clicks"
	SortByLastClickedAt SortKey = "lastClickedAt"
)

// ParseSortKey validates a sort key; empty selects createdAt
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(s); k {
	case "":
		return SortByCreatedAt, nil
	case SortByShortCode, SortByLongURL, SortByCreatedAt, SortByExpiresAt, SortByClicks, SortByLastClickedAt:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown sort key %q", model.ErrInvalidInput, s)
	}
}

// ListOptions filters and orders a listing. Only live records are ever listed.
type ListOptions struct {
	// Search is a case-insensitive substring matched against code and URL
	Search string
	// CreatedAfter is an inclusive lower bound on creation time; zero disables it
	CreatedAfter time.Time
	SortKey      SortKey
	Descending   bool
}

func (o ListOptions) matches(rec *model.URLRecord) bool {
	if !o.CreatedAfter.IsZero() && rec.CreatedAt.Before(o.CreatedAfter) {
		return false
	}
	if o.Search == "" {
		return true
	}
	needle := strings.ToLower(o.Search)
	return strings.Contains(strings.ToLower(rec.ShortCode), needle) ||
		strings.Contains(strings.ToLower(rec.LongURL), needle)
}

// sortRecords orders recs by opts, breaking ties on short code
func sortRecords(recs []*model.URLRecord, opts ListOptions) {
	key := opts.SortKey
	if key == "" {
		key = SortByCreatedAt
	}
	sort.SliceStable(recs, func(i, j int) bool {
		c := compareBy(recs[i], recs[j], key)
		if c == 0 {
			c = strings.Compare(recs[i].ShortCode, recs[j].ShortCode)
		}
		if opts.Descending {
			return c > 0
		}
		return c < 0
	})
}

func compareBy(a, b *model.URLRecord, key SortKey) int {
	switch key {
	case SortByShortCode:
		return strings.Compare(a.ShortCode, b.ShortCode)
	case SortByLongURL:
		return strings.Compare(a.LongURL, b.LongURL)
	case SortByExpiresAt:
		return a.ExpiresAt.Compare(b.ExpiresAt)
	case SortByClicks:
		switch {
		case a.Clicks < b.Clicks:
			return -1
		case a.Clicks > b.Clicks:
			return 1
		}
		return 0
	case SortByLastClickedAt:
		return lastClicked(a).Compare(lastClicked(b))
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

func lastClicked(r *model.URLRecord) time.Time {
	if r.LastClickedAt == nil {
		return time.Time{}
	}
	return *r.LastClickedAt
}

// checkMutation validates the result of a Mutator against the stored record
func checkMutation(before, after *model.URLRecord) error {
	if after.ShortCode != before.ShortCode || after.LongURL != before.LongURL ||
		after.ID != before.ID ||
		!after.CreatedAt.Equal(before.CreatedAt) || !after.ExpiresAt.Equal(before.ExpiresAt) {
		return fmt.Errorf("%w: immutable fields of %s changed", model.ErrInvalidInput, before.ShortCode)
	}
	if len(after.ClickHistory) < len(before.ClickHistory) {
		return fmt.Errorf("%w: click history of %s truncated", model.ErrInvalidInput, before.ShortCode)
	}
	for i := range before.ClickHistory {
		if after.ClickHistory[i] != before.ClickHistory[i] {
			return fmt.Errorf("%w: click history of %s rewritten", model.ErrInvalidInput, before.ShortCode)
		}
	}
	if after.Clicks < before.Clicks {
		return fmt.Errorf("%w: clicks of %s decreased", model.ErrInvalidInput, before.ShortCode)
	}
	return after.Verify()
}

// validateNew checks a record before it is first stored
func validateNew(rec *model.URLRecord) error {
	if rec == nil || rec.ShortCode == "" || rec.LongURL == "" {
		return fmt.Errorf("%w: record requires short code and url", model.ErrInvalidInput)
	}
	if !rec.ExpiresAt.After(rec.CreatedAt) {
		return fmt.Errorf("%w: expiry must be after creation", model.ErrInvalidInput)
	}
	return rec.Verify()
}
