package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/gpttools-desk/internal/model"
)

// Schema creates the usage history table. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS usage_snapshots (
	account_id               TEXT        NOT NULL,
	captured_at              TIMESTAMPTZ NOT NULL,
	cycle_id                 UUID        NOT NULL,
	used_percent             DOUBLE PRECISION,
	window_minutes           BIGINT,
	resets_at                TIMESTAMPTZ,
	secondary_used_percent   DOUBLE PRECISION,
	secondary_window_minutes BIGINT,
	secondary_resets_at      TIMESTAMPTZ,
	credits_json             JSONB,
	recorded_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (account_id, captured_at)
)`

const insertSQL = `
	INSERT INTO usage_snapshots (account_id, captured_at, cycle_id, used_percent, window_minutes, resets_at, secondary_used_percent, secondary_window_minutes, secondary_resets_at, credits_json)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (account_id, captured_at) DO NOTHING
`

// Row results reported to a ResultObserver.
const (
	ResultInserted  = "inserted"
	ResultDuplicate = "duplicate"
	ResultDropped   = "dropped"
	ResultFailed    = "failed"
)

// DB is the subset of *pgxpool.Pool the writer needs.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ResultObserver records row outcomes.
type ResultObserver interface {
	HistoryResult(result string, n int)
}

type nopResultObserver struct{}

func (nopResultObserver) HistoryResult(string, int) {}

// Config configures a Writer.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     200,
		FlushInterval: 5 * time.Second,
		BufferSize:    1000,
	}
}

// Stats tracks writer throughput.
type Stats struct {
	Inserts    int64
	Duplicates int64
	Dropped    int64
	Errors     int64
	Flushes    int64
}

// Writer batches usage snapshots into the usage_snapshots table.
type Writer struct {
	cfg      Config
	logger   *slog.Logger
	observer ResultObserver

	input chan row
	db    DB

	batch   []row
	batchMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats Stats
}

type row struct {
	AccountID              string
	CapturedAt             time.Time
	CycleID                string
	UsedPercent            *float64
	WindowMinutes          *int64
	ResetsAt               *time.Time
	SecondaryUsedPercent   *float64
	SecondaryWindowMinutes *int64
	SecondaryResetsAt      *time.Time
	CreditsJSON            *string
}

// NewWriter creates a Writer. db may be nil, in which case batches are
// discarded on flush.
func NewWriter(cfg Config, db DB, observer ResultObserver, logger *slog.Logger) *Writer {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopResultObserver{}
	}
	return &Writer{
		cfg:      cfg,
		logger:   logger,
		observer: observer,
		input:    make(chan row, cfg.BufferSize),
		db:       db,
		batch:    make([]row, 0, cfg.BatchSize),
		ctx:      context.Background(),
	}
}

// EnsureSchema creates the history table when missing.
func (w *Writer) EnsureSchema(ctx context.Context) error {
	if w.db == nil {
		return nil
	}
	if _, err := w.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create usage_snapshots: %w", err)
	}
	return nil
}

// Start begins consuming snapshots and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop()

	w.logger.Info("history writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer, draining queued snapshots.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping history writer")

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("history writer stopped")
	case <-ctx.Done():
		w.logger.Warn("history writer stop timed out")
	}

	w.drain()
	// The run context is gone; the final flush uses the caller's.
	w.flushWith(context.WithoutCancel(ctx))
	return nil
}

// Record queues one refresh cycle's snapshots. Snapshots without an account
// id or capture time are skipped. When the queue is full the remainder is
// dropped. It returns the number queued.
func (w *Writer) Record(cycleID uuid.UUID, snapshots []model.UsageSnapshot) int {
	queued, dropped := 0, 0
	for i := range snapshots {
		r, ok := transform(cycleID, &snapshots[i])
		if !ok {
			continue
		}
		select {
		case w.input <- r:
			queued++
		default:
			dropped++
		}
	}
	if dropped > 0 {
		w.batchMu.Lock()
		w.stats.Dropped += int64(dropped)
		w.batchMu.Unlock()
		w.observer.HistoryResult(ResultDropped, dropped)
		w.logger.Warn("history buffer full, dropping snapshots", "count", dropped)
	}
	return queued
}

// DeleteAccount removes every stored snapshot for accountID.
func (w *Writer) DeleteAccount(ctx context.Context, accountID string) (int64, error) {
	if w.db == nil {
		return 0, nil
	}
	ct, err := w.db.Exec(ctx, `DELETE FROM usage_snapshots WHERE account_id = $1`, accountID)
	if err != nil {
		return 0, fmt.Errorf("delete history for %s: %w", accountID, err)
	}
	return ct.RowsAffected(), nil
}

// Stats returns current counters.
func (w *Writer) Stats() Stats {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.stats
}

func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case r := <-w.input:
			w.add(r)
		}
	}
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Writer) drain() {
	for {
		select {
		case r := <-w.input:
			w.batchMu.Lock()
			w.batch = append(w.batch, r)
			w.batchMu.Unlock()
		default:
			return
		}
	}
}

func (w *Writer) add(r row) {
	w.batchMu.Lock()
	w.batch = append(w.batch, r)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush()
	}
}

func transform(cycleID uuid.UUID, u *model.UsageSnapshot) (row, bool) {
	if u.Account() == "" || u.CapturedAt == nil {
		return row{}, false
	}
	return row{
		AccountID:              *u.AccountID,
		CapturedAt:             time.Unix(*u.CapturedAt, 0).UTC(),
		CycleID:                cycleID.String(),
		UsedPercent:            u.UsedPercent,
		WindowMinutes:          u.WindowMinutes,
		ResetsAt:               unixPtr(u.ResetsAt),
		SecondaryUsedPercent:   u.SecondaryUsedPercent,
		SecondaryWindowMinutes: u.SecondaryWindowMinutes,
		SecondaryResetsAt:      unixPtr(u.SecondaryResetsAt),
		CreditsJSON:            u.CreditsJSON,
	}, true
}

func unixPtr(sec *int64) *time.Time {
	if sec == nil {
		return nil
	}
	t := time.Unix(*sec, 0).UTC()
	return &t
}

func (w *Writer) flush() {
	w.flushWith(w.ctx)
}

func (w *Writer) flushWith(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]row, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	if w.db == nil {
		w.logger.Debug("history disabled, discarding batch", "count", len(batch))
		return
	}

	start := time.Now()

	duplicates, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("history batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.stats.Errors++
		w.batchMu.Unlock()
		w.observer.HistoryResult(ResultFailed, len(batch))
		return
	}

	w.batchMu.Lock()
	w.stats.Inserts += int64(len(batch) - duplicates)
	w.stats.Duplicates += int64(duplicates)
	w.stats.Flushes++
	w.batchMu.Unlock()
	w.observer.HistoryResult(ResultInserted, len(batch)-duplicates)
	w.observer.HistoryResult(ResultDuplicate, duplicates)

	w.logger.Debug("flushed usage history",
		"count", len(batch),
		"duplicates", duplicates,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(ctx context.Context, rows []row) (duplicates int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertSQL,
			r.AccountID, r.CapturedAt, r.CycleID,
			r.UsedPercent, r.WindowMinutes, r.ResetsAt,
			r.SecondaryUsedPercent, r.SecondaryWindowMinutes, r.SecondaryResetsAt,
			r.CreditsJSON,
		)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			duplicates++
		}
	}

	return duplicates, nil
}
