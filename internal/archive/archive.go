// Package archive exports each finished UTC day of the trade ledger to blob
// storage as newline-delimited JSON.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

const contentType = "application/x-ndjson"

// Store is the blob surface the archiver writes through.
type Store interface {
	domain.BlobWriter
	Exists(ctx context.Context, key string) (bool, error)
}

// Archiver uploads one JSONL object per mode and day.
type Archiver struct {
	ledger   domain.TradeLedger
	store    Store
	prefix   string
	backfill int
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Archiver. backfill is how many past days each run checks
// for a missing object.
func New(ledger domain.TradeLedger, store Store, prefix string, backfill int, logger *slog.Logger) *Archiver {
	if backfill < 1 {
		backfill = 1
	}
	return &Archiver{
		ledger:   ledger,
		store:    store,
		prefix:   prefix,
		backfill: backfill,
		logger:   logger.With(slog.String("component", "archiver")),
		now:      time.Now,
	}
}

// Key returns the object key for a day, e.g. "ledger/paper/2026/03/04.jsonl".
func (a *Archiver) Key(day time.Time, paper bool) string {
	mode := "live"
	if paper {
		mode = "paper"
	}
	return fmt.Sprintf("%s/%s/%s.jsonl", a.prefix, mode, day.UTC().Format("2006/01/02"))
}

// ArchiveDay uploads the records of day for one mode, oldest first. Empty
// days are skipped and report zero.
func (a *Archiver) ArchiveDay(ctx context.Context, day time.Time, paper bool) (int, error) {
	y, m, d := day.UTC().Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	recs, err := a.ledger.ListTrades(ctx, domain.TradeFilter{Paper: &paper, Since: &from, Until: &to})
	if err != nil {
		return 0, fmt.Errorf("archive: list %s: %w", from.Format(time.DateOnly), err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	body, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("archive: encode %s: %w", from.Format(time.DateOnly), err)
	}
	key := a.Key(from, paper)
	if err := a.store.Put(ctx, key, body, contentType); err != nil {
		return 0, fmt.Errorf("archive: upload %s: %w", key, err)
	}
	return len(recs), nil
}

// RunOnce archives every finished day in the backfill range whose object is
// missing.
func (a *Archiver) RunOnce(ctx context.Context) error {
	today := a.now().UTC().Truncate(24 * time.Hour)
	for i := a.backfill; i >= 1; i-- {
		day := today.AddDate(0, 0, -i)
		for _, paper := range []bool{true, false} {
			key := a.Key(day, paper)
			exists, err := a.store.Exists(ctx, key)
			if err != nil {
				return fmt.Errorf("archive: check %s: %w", key, err)
			}
			if exists {
				continue
			}
			n, err := a.ArchiveDay(ctx, day, paper)
			if err != nil {
				return err
			}
			if n > 0 {
				a.logger.Info("ledger day archived", slog.String("key", key), slog.Int("records", n))
			}
		}
	}
	return nil
}

// Run archives once at start and then every interval until ctx ends.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) error {
	a.logger.Info("archiver started", slog.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := a.RunOnce(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("archive run failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// marshalJSONL writes records oldest first, one compact object per line.
func marshalJSONL(newestFirst []domain.TradeRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i := len(newestFirst) - 1; i >= 0; i-- {
		if err := enc.Encode(newestFirst[i]); err != nil {
			return nil, fmt.Errorf("record %d: %w", newestFirst[i].ID, err)
		}
	}
	return buf.Bytes(), nil
}
