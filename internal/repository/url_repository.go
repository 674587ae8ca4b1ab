package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Monthlyaway/linktrack/internal/model"
	"github.com/Monthlyaway/linktrack/internal/utils"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// maxCASAttempts bounds the optimistic retries of one Update
const maxCASAttempts = 5

var errStaleWrite = errors.New("stale write")

var sortColumns = map[SortKey]string{
	SortByShortCode:     "short_code",
	SortByLongURL:       "long_url",
	SortByCreatedAt:     "created_at",
	SortByExpiresAt:     "expires_at",
	SortByClicks:        "clicks",
	SortByLastClickedAt: "last_clicked_at",
}

// OpenDatabase opens a gorm connection for driver "mysql" or "sqlite"
func OpenDatabase(driver, dsn string, maxIdleConns, maxOpenConns int) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
		// sqlite allows a single writer; in-memory databases live per connection
		maxIdleConns, maxOpenConns = 1, 1
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetMaxOpenConns(maxOpenConns)

	return db, nil
}

// GormStore persists records in url_mappings and click_logs
type GormStore struct {
	db       *gorm.DB
	locks    *keyLocks
	clock    utils.Clock
	rowLocks bool
}

// NewGormStore migrates the schema and returns a store over db
func NewGormStore(db *gorm.DB, clock utils.Clock) (*GormStore, error) {
	if err := db.AutoMigrate(&model.URLMapping{}, &model.ClickLog{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &GormStore{
		db:       db,
		locks:    newKeyLocks(),
		clock:    clock,
		rowLocks: db.Dialector.Name() == "mysql",
	}, nil
}

func (s *GormStore) Create(ctx context.Context, rec *model.URLRecord) error {
	if err := validateNew(rec); err != nil {
		return err
	}
	release, err := s.locks.acquire(ctx, rec.ShortCode)
	if err != nil {
		return err
	}
	defer release()

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.URLMapping
		err := s.lockRows(tx).Where("short_code = ?", rec.ShortCode).Take(&existing).Error
		switch {
		case err == nil:
			if now.Before(existing.ExpiresAt) {
				return fmt.Errorf("%w: %s", model.ErrConflict, rec.ShortCode)
			}
			if err := deleteMapping(tx, existing.ID); err != nil {
				return err
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		row := toMapping(rec)
		if err := tx.Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: %s", model.ErrConflict, rec.ShortCode)
			}
			return err
		}
		return insertClickLogs(tx, rec.ID, rec.ClickHistory, 0)
	})
	return s.wrap(ctx, err, "create "+rec.ShortCode)
}

// Get reads the mapping and its click logs in one transaction so the pair
// comes from a single snapshot.
func (s *GormStore) Get(ctx context.Context, shortCode string) (*model.URLRecord, error) {
	var rec *model.URLRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		rec, err = s.load(tx, shortCode, false)
		return err
	})
	if err != nil {
		return nil, s.wrap(ctx, err, "get "+shortCode)
	}
	return rec, nil
}

// Update runs fn inside a transaction holding a row lock where the dialect
// supports one. The counter write is a compare-and-swap on the previous
// click count, retried when another process won the race.
func (s *GormStore) Update(ctx context.Context, shortCode string, fn Mutator) (*model.URLRecord, error) {
	release, err := s.locks.acquire(ctx, shortCode)
	if err != nil {
		return nil, err
	}
	defer release()

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		var out *model.URLRecord
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			before, err := s.load(tx, shortCode, true)
			if err != nil {
				return err
			}
			after := before.Clone()
			if err := fn(after); err != nil {
				return err
			}
			if err := checkMutation(before, after); err != nil {
				return err
			}
			if err := insertClickLogs(tx, after.ID, after.ClickHistory[len(before.ClickHistory):], len(before.ClickHistory)); err != nil {
				return err
			}
			if after.Clicks != before.Clicks || !sameInstant(after.LastClickedAt, before.LastClickedAt) {
				res := tx.Model(&model.URLMapping{}).
					Where("id = ? AND clicks = ?", before.ID, before.Clicks).
					Updates(map[string]interface{}{
						"clicks":          after.Clicks,
						"last_clicked_at": utcPtr(after.LastClickedAt),
					})
				if res.Error != nil {
					return res.Error
				}
				if res.RowsAffected == 0 {
					return errStaleWrite
				}
			}
			out = after
			return nil
		})
		if errors.Is(err, errStaleWrite) {
			continue
		}
		if err != nil {
			return nil, s.wrap(ctx, err, "update "+shortCode)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s kept changing during update", model.ErrConflict, shortCode)
}

func (s *GormStore) List(ctx context.Context, opts ListOptions) ([]*model.URLRecord, error) {
	var out []*model.URLRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&model.URLMapping{}).Where("expires_at > ?", s.clock.Now().UTC())
		if opts.Search != "" {
			like := "%" + escapeLike(strings.ToLower(opts.Search)) + "%"
			q = q.Where("(LOWER(short_code) LIKE ? ESCAPE '!' OR LOWER(long_url) LIKE ? ESCAPE '!')", like, like)
		}
		if !opts.CreatedAfter.IsZero() {
			q = q.Where("created_at >= ?", opts.CreatedAfter.UTC())
		}
		col, ok := sortColumns[opts.SortKey]
		if !ok {
			col = sortColumns[SortByCreatedAt]
		}
		q = q.Order(clause.OrderByColumn{Column: clause.Column{Name: col}, Desc: opts.Descending}).
			Order(clause.OrderByColumn{Column: clause.Column{Name: "short_code"}, Desc: opts.Descending})

		var rows []model.URLMapping
		if err := q.Find(&rows).Error; err != nil {
			return err
		}
		out = make([]*model.URLRecord, 0, len(rows))
		if len(rows) == 0 {
			return nil
		}

		ids := make([]int64, len(rows))
		for i, r := range rows {
			ids[i] = r.ID
		}
		var logs []model.ClickLog
		if err := tx.Where("url_id IN ?", ids).Order("url_id, seq").Find(&logs).Error; err != nil {
			return err
		}
		byURL := make(map[int64][]model.ClickLog, len(rows))
		for _, l := range logs {
			byURL[l.URLID] = append(byURL[l.URLID], l)
		}

		for _, r := range rows {
			rec := toRecord(r, byURL[r.ID])
			if err := rec.Verify(); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, s.wrap(ctx, err, "list")
	}
	return out, nil
}

func (s *GormStore) Delete(ctx context.Context, shortCode string) error {
	release, err := s.locks.acquire(ctx, shortCode)
	if err != nil {
		return err
	}
	defer release()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row model.URLMapping
		err := tx.Where("short_code = ?", shortCode).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return deleteMapping(tx, row.ID)
	})
	return s.wrap(ctx, err, "delete "+shortCode)
}

// DeleteExpired removes expired records one code at a time under the code's write lock
func (s *GormStore) DeleteExpired(ctx context.Context) (int, error) {
	var codes []string
	if err := s.db.WithContext(ctx).Model(&model.URLMapping{}).
		Where("expires_at <= ?", s.clock.Now().UTC()).
		Pluck("short_code", &codes).Error; err != nil {
		return 0, s.wrap(ctx, err, "scan expired")
	}

	removed := 0
	for _, code := range codes {
		ok, err := s.deleteIfExpired(ctx, code)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

func (s *GormStore) deleteIfExpired(ctx context.Context, code string) (bool, error) {
	release, err := s.locks.acquire(ctx, code)
	if err != nil {
		return false, err
	}
	defer release()

	deleted := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row model.URLMapping
		err := tx.Where("short_code = ? AND expires_at <= ?", code, s.clock.Now().UTC()).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		deleted = true
		return deleteMapping(tx, row.ID)
	})
	if err != nil {
		return false, s.wrap(ctx, err, "delete expired "+code)
	}
	return deleted, nil
}

// ShortCodes returns every stored code, expired ones included
func (s *GormStore) ShortCodes(ctx context.Context) ([]string, error) {
	var codes []string
	if err := s.db.WithContext(ctx).Model(&model.URLMapping{}).Pluck("short_code", &codes).Error; err != nil {
		return nil, s.wrap(ctx, err, "list short codes")
	}
	return codes, nil
}

// Close closes the database connection
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) load(tx *gorm.DB, shortCode string, forUpdate bool) (*model.URLRecord, error) {
	q := tx
	if forUpdate {
		q = s.lockRows(tx)
	}
	q = q.Where("short_code = ?", shortCode)
	var row model.URLMapping
	if err := q.Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", model.ErrNotFound, shortCode)
		}
		return nil, err
	}
	if !s.clock.Now().Before(row.ExpiresAt) {
		return nil, fmt.Errorf("%w: %s", model.ErrExpired, shortCode)
	}

	var logs []model.ClickLog
	if err := tx.Where("url_id = ?", row.ID).Order("seq").Find(&logs).Error; err != nil {
		return nil, err
	}
	rec := toRecord(row, logs)
	if err := rec.Verify(); err != nil {
		return nil, err
	}
	return rec, nil
}

// lockRows adds SELECT ... FOR UPDATE on dialects with row locks
func (s *GormStore) lockRows(tx *gorm.DB) *gorm.DB {
	if !s.rowLocks {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// wrap keeps domain errors intact and maps deadlines onto ErrTimeout
func (s *GormStore) wrap(ctx context.Context, err error, op string) error {
	if err == nil {
		return nil
	}
	for _, domainErr := range []error{
		model.ErrNotFound, model.ErrExpired, model.ErrConflict,
		model.ErrInvalidInput, model.ErrCorruption, model.ErrTimeout,
	} {
		if errors.Is(err, domainErr) {
			return err
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", model.ErrTimeout, op)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func deleteMapping(tx *gorm.DB, id int64) error {
	if err := tx.Where("url_id = ?", id).Delete(&model.ClickLog{}).Error; err != nil {
		return err
	}
	return tx.Where("id = ?", id).Delete(&model.URLMapping{}).Error
}

func insertClickLogs(tx *gorm.DB, urlID int64, events []model.ClickEvent, offset int) error {
	if len(events) == 0 {
		return nil
	}
	logs := make([]model.ClickLog, len(events))
	for i, ev := range events {
		logs[i] = model.ClickLog{
			ID:        ev.ID,
			URLID:     urlID,
			Seq:       offset + i,
			ClickedAt: ev.Timestamp.UTC(),
			Source:    string(ev.Source),
			Location:  ev.Location,
			Referrer:  ev.Referrer,
			Device:    ev.Device,
			IP:        ev.IP,
		}
	}
	return tx.Create(&logs).Error
}

func toMapping(rec *model.URLRecord) model.URLMapping {
	return model.URLMapping{
		ID:            rec.ID,
		ShortCode:     rec.ShortCode,
		LongURL:       rec.LongURL,
		CreatedAt:     rec.CreatedAt.UTC(),
		ExpiresAt:     rec.ExpiresAt.UTC(),
		Clicks:        rec.Clicks,
		LastClickedAt: utcPtr(rec.LastClickedAt),
	}
}

func toRecord(row model.URLMapping, logs []model.ClickLog) *model.URLRecord {
	rec := &model.URLRecord{
		ID:            row.ID,
		ShortCode:     row.ShortCode,
		LongURL:       row.LongURL,
		CreatedAt:     row.CreatedAt.UTC(),
		ExpiresAt:     row.ExpiresAt.UTC(),
		Clicks:        row.Clicks,
		LastClickedAt: utcPtr(row.LastClickedAt),
	}
	if len(logs) > 0 {
		rec.ClickHistory = make([]model.ClickEvent, len(logs))
		for i, l := range logs {
			rec.ClickHistory[i] = model.ClickEvent{
				ID:        l.ID,
				Timestamp: l.ClickedAt.UTC(),
				Source:    model.Source(l.Source),
				Location:  l.Location,
				Referrer:  l.Referrer,
				Device:    l.Device,
				IP:        l.IP,
			}
		}
	}
	return rec
}

func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
