package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/store/memory"
)

// streakScan bounds how many realized rows Streak reads back.
const streakScan = 200

// TradeStore implements domain.TradeLedger using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

var _ domain.TradeLedger = (*TradeStore)(nil)

// NewTradeStore creates a TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, ts, asset, window_start, window_end, side, action,
	price, amount, shares, pnl, paper, order_id, strategy, slippage, fee, reference_price`

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		var side, action, strategy string
		if err := rows.Scan(
			&t.ID, &t.Timestamp, &t.Asset, &t.WindowStart, &t.WindowEnd,
			&side, &action, &t.Price, &t.Amount, &t.Shares, &t.PnL,
			&t.Paper, &t.OrderID, &strategy, &t.Slippage, &t.Fee, &t.ReferencePrice,
		); err != nil {
			return nil, err
		}
		t.Side = domain.Side(side)
		t.Action = domain.TradeAction(action)
		t.Strategy = domain.StrategyKind(strategy)
		t.Timestamp = t.Timestamp.UTC()
		t.WindowStart = t.WindowStart.UTC()
		t.WindowEnd = t.WindowEnd.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertTrade appends rec and returns it with the assigned id.
func (s *TradeStore) InsertTrade(ctx context.Context, rec domain.TradeRecord) (domain.TradeRecord, error) {
	const query = `
		INSERT INTO trades (
			ts, asset, window_start, window_end, side, action,
			price, amount, shares, pnl, paper, order_id, strategy,
			slippage, fee, reference_price
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id`

	err := s.pool.QueryRow(ctx, query,
		rec.Timestamp.UTC(), rec.Asset, rec.WindowStart.UTC(), rec.WindowEnd.UTC(),
		string(rec.Side), string(rec.Action), rec.Price, rec.Amount, rec.Shares,
		rec.PnL, rec.Paper, rec.OrderID, string(rec.Strategy),
		rec.Slippage, rec.Fee, rec.ReferencePrice,
	).Scan(&rec.ID)
	if err != nil {
		return rec, fmt.Errorf("postgres: insert trade %s %s: %w", rec.Asset, rec.Action, err)
	}
	return rec, nil
}

// CumulativePnL sums all realized P&L of one mode.
func (s *TradeStore) CumulativePnL(ctx context.Context, paper bool) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(pnl), 0) FROM trades WHERE paper = $1 AND pnl IS NOT NULL`, paper,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: cumulative pnl: %w", err)
	}
	return total, nil
}

// DailyPnL sums realized P&L recorded on day's UTC date.
func (s *TradeStore) DailyPnL(ctx context.Context, day time.Time, paper bool) (float64, error) {
	from, to := dayBounds(day)
	var total float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(pnl), 0) FROM trades
		WHERE paper = $1 AND pnl IS NOT NULL AND ts >= $2 AND ts < $3`,
		paper, from, to,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: daily pnl: %w", err)
	}
	return total, nil
}

// DailyLossCount counts losing directional records on day's UTC date.
func (s *TradeStore) DailyLossCount(ctx context.Context, day time.Time, paper bool) (int, error) {
	from, to := dayBounds(day)
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM trades
		WHERE paper = $1 AND pnl < 0 AND ts >= $2 AND ts < $3
		  AND strategy IS DISTINCT FROM 'arbitrage'`,
		paper, from, to,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: daily loss count: %w", err)
	}
	return n, nil
}

// Streak reads the latest realized P&Ls and counts the run at the head.
func (s *TradeStore) Streak(ctx context.Context, paper bool) (int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pnl FROM trades
		WHERE paper = $1 AND pnl IS NOT NULL
		  AND strategy IS DISTINCT FROM 'arbitrage'
		ORDER BY ts DESC, id DESC
		LIMIT $2`, paper, streakScan)
	if err != nil {
		return 0, fmt.Errorf("postgres: streak: %w", err)
	}
	pnls, err := pgx.CollectRows(rows, pgx.RowTo[float64])
	if err != nil {
		return 0, fmt.Errorf("postgres: streak scan: %w", err)
	}
	return memory.StreakOf(pnls), nil
}

// ListTrades returns matching records, newest first.
func (s *TradeStore) ListTrades(ctx context.Context, f domain.TradeFilter) ([]domain.TradeRecord, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Asset != "" {
		add("asset = $%d", f.Asset)
	}
	if f.Strategy != "" {
		add("strategy = $%d", string(f.Strategy))
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if f.Paper != nil {
		add("paper = $%d", *f.Paper)
	}
	if f.Since != nil {
		add("ts >= $%d", f.Since.UTC())
	}
	if f.Until != nil {
		add("ts < $%d", f.Until.UTC())
	}

	query := "SELECT " + tradeSelectCols + " FROM trades"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY ts DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	out, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return out, nil
}

func dayBounds(day time.Time) (time.Time, time.Time) {
	y, m, d := day.UTC().Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 0, 1)
}
