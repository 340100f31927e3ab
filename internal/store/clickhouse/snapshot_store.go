package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// SnapshotStore implements domain.SnapshotRecorder.
type SnapshotStore struct {
	conn *Conn
}

var _ domain.SnapshotRecorder = (*SnapshotStore)(nil)

// NewSnapshotStore creates a SnapshotStore.
func NewSnapshotStore(conn *Conn) *SnapshotStore {
	return &SnapshotStore{conn: conn}
}

// RecordMarkets writes one row per market in a single batch.
func (s *SnapshotStore) RecordMarkets(ctx context.Context, at time.Time, markets []domain.MarketState, prices map[string]float64) error {
	if len(markets) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO market_snapshots (
			ts, asset, window_start, condition_id, up_price, down_price,
			combined, seconds_remaining, reference_price
		)`)
	if err != nil {
		return fmt.Errorf("clickhouse: prepare snapshot batch: %w", err)
	}

	for _, m := range markets {
		if err := batch.Append(
			at.UTC(), m.Asset(), m.Info.Start.UTC(), m.Info.ConditionID,
			m.UpPrice, m.DownPrice, m.CombinedCost(), m.SecondsRemaining,
			prices[m.Asset()],
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("clickhouse: append snapshot %s: %w", m.Asset(), err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("clickhouse: send snapshot batch: %w", err)
	}
	return nil
}

// SnapshotRow is one stored market snapshot.
type SnapshotRow struct {
	At             time.Time
	Asset          string
	UpPrice        float64
	DownPrice      float64
	Remaining      float64
	ReferencePrice float64
}

// Recent returns the latest snapshots for asset, newest first.
func (s *SnapshotStore) Recent(ctx context.Context, asset string, limit int) ([]SnapshotRow, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT ts, asset, up_price, down_price, seconds_remaining, reference_price
		FROM market_snapshots
		WHERE asset = ?
		ORDER BY ts DESC
		LIMIT ?`, asset, limit)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: query snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotRow
	for rows.Next() {
		var r SnapshotRow
		if err := rows.Scan(&r.At, &r.Asset, &r.UpPrice, &r.DownPrice, &r.Remaining, &r.ReferencePrice); err != nil {
			return nil, fmt.Errorf("clickhouse: scan snapshot: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
