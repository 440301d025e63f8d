package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/seenimoa/papertrader/internal/ledger"
	"github.com/seenimoa/papertrader/pkg/models"
)

// ErrRunNotFound is returned when a run id has no row.
var ErrRunNotFound = fmt.Errorf("run not found")

// writeTimeout bounds each journal write made from an observer.
const writeTimeout = 3 * time.Second

// DB is the subset of pgxpool.Pool the store writes through.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store writes runs, orders and trades.
type Store struct {
	db DB
}

// NewStore returns a store over db (normally Client.Pool()).
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// StartRun records a new run and returns its id.
func (s *Store) StartRun(ctx context.Context, strategy string, cfg ledger.Config) (string, error) {
	id := uuid.NewString()
	const query = `
		INSERT INTO runs (id, strategy, account_id, initial_capital)
		VALUES ($1, $2, $3, $4)`
	if _, err := s.db.Exec(ctx, query, id, strategy, cfg.AccountID, cfg.InitialCapital); err != nil {
		return "", fmt.Errorf("postgres: start run: %w", err)
	}
	return id, nil
}

// FinishRun stores the closing statistics of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, stats ledger.Statistics) error {
	const query = `
		UPDATE runs SET finished_at = NOW(), final_balance = $2, equity = $3,
			realized_pnl = $4, total_trades = $5
		WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, runID, stats.CurrentBalance, stats.Equity, stats.RealizedPnL, stats.TotalTrades)
	if err != nil {
		return fmt.Errorf("postgres: finish run %s: %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: finish run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// SaveOrder upserts the latest state of o.
func (s *Store) SaveOrder(ctx context.Context, runID string, o models.Order) error {
	const query = `
		INSERT INTO orders (
			run_id, id, symbol, exchange, direction, order_type,
			price, volume, traded, status, status_message, reference,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (run_id, id) DO UPDATE SET
			traded = EXCLUDED.traded,
			status = EXCLUDED.status,
			status_message = EXCLUDED.status_message,
			updated_at = EXCLUDED.updated_at`

	_, err := s.db.Exec(ctx, query,
		runID, o.ID, o.Symbol, string(o.Exchange), string(o.Direction), string(o.Type),
		o.Price, o.Volume, o.Traded, string(o.Status), o.StatusMessage, o.Reference,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save order %s: %w", o.ID, err)
	}
	return nil
}

// SaveTrade inserts t; a trade already journaled is left unchanged.
func (s *Store) SaveTrade(ctx context.Context, runID string, t models.Trade) error {
	const query = `
		INSERT INTO trades (
			run_id, id, order_id, symbol, exchange, direction, price, volume, traded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id, id) DO NOTHING`

	_, err := s.db.Exec(ctx, query,
		runID, t.ID, t.OrderID, t.Symbol, string(t.Exchange), string(t.Direction),
		t.Price, t.Volume, t.Time,
	)
	if err != nil {
		return fmt.Errorf("postgres: save trade %s: %w", t.ID, err)
	}
	return nil
}

// Observer journals order and trade events for one run. Writes block on
// the database, so it should sit behind an eventbus.Async.
type Observer struct {
	store  *Store
	runID  string
	logger *slog.Logger
}

var _ ledger.Observer = (*Observer)(nil)

// NewObserver returns an observer writing to store under runID.
func NewObserver(store *Store, runID string, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{store: store, runID: runID, logger: logger.With("component", "journal", "run_id", runID)}
}

// OnEvent writes order and trade events; other events are ignored.
func (o *Observer) OnEvent(ev ledger.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	switch {
	case ev.Type == ledger.EventOrder && ev.Order != nil:
		err = o.store.SaveOrder(ctx, o.runID, *ev.Order)
	case ev.Type == ledger.EventTrade && ev.Trade != nil:
		err = o.store.SaveTrade(ctx, o.runID, *ev.Trade)
	default:
		return
	}
	if err != nil {
		o.logger.Warn("journal write failed", "type", ev.Type, "error", err)
	}
}
