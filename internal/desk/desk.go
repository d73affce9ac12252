package desk

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/gpttools-desk/internal/connection"
	"github.com/rickgao/gpttools-desk/internal/model"
	"github.com/rickgao/gpttools-desk/internal/refresh"
	"github.com/rickgao/gpttools-desk/internal/service"
)

// Errors
var (
	ErrNotConnected = errors.New("service not connected")
	ErrBusy         = errors.New("service operation in progress")
)

// Refresh task names, in batch order.
const (
	TaskAccounts    = "accounts"
	TaskUsage       = "usage"
	TaskAPIModels   = "api-models"
	TaskAPIKeys     = "api-keys"
	TaskRequestLogs = "request-logs"
)

// Notices shown to the user.
const (
	toastPartialRefresh = "some data failed to refresh, showing available data"
	hintWaitFailed      = "connection failed%s, check the port or service status"
)

// Publisher delivers events to renderers.
type Publisher interface {
	Publish(eventType string, data any)
	Toast(message, level string)
}

// Event types published by the desk.
const (
	EventConnection = "connection"
	EventRefresh    = "refresh"
	EventSnapshot   = "snapshot"
)

type nopPublisher struct{}

func (nopPublisher) Publish(string, any)  {}
func (nopPublisher) Toast(string, string) {}

// TaskObserver records refresh outcomes.
type TaskObserver interface {
	ObserveTask(task, status string)
	ObserveRefresh(d time.Duration)
}

type nopTaskObserver struct{}

func (nopTaskObserver) ObserveTask(string, string)   {}
func (nopTaskObserver) ObserveRefresh(time.Duration) {}

// HistorySink receives every cycle's usage snapshots.
type HistorySink interface {
	Record(cycleID uuid.UUID, snapshots []model.UsageSnapshot) int
}

// BrowserOpener opens a URL for the user.
type BrowserOpener func(url string) error

// Config holds desk timings and budgets.
type Config struct {
	RefreshInterval time.Duration
	AllowOverlap    bool
	RequestLogLimit int
	LoginTimeout    time.Duration
	LoginPoll       time.Duration
	Wait            connection.RetryPolicy // after a skip-initialize start
	Probe           connection.RetryPolicy // silent probe at auto start
}

// DefaultConfig returns the desk defaults.
func DefaultConfig() Config {
	return Config{
		RefreshInterval: 30 * time.Second,
		RequestLogLimit: 300,
		LoginTimeout:    2 * time.Minute,
		LoginPoll:       1500 * time.Millisecond,
		Wait:            connection.RetryPolicy{Retries: 12, Delay: 400 * time.Millisecond},
		Probe:           connection.RetryPolicy{Retries: 1, Delay: 200 * time.Millisecond},
	}
}

// Option configures a Desk.
type Option func(*Desk)

// WithPublisher sets the event sink.
func WithPublisher(p Publisher) Option {
	return func(d *Desk) {
		if p != nil {
			d.pub = p
		}
	}
}

// WithNotifier sets where desk-level hints go.
func WithNotifier(n connection.Notifier) Option {
	return func(d *Desk) {
		if n != nil {
			d.notifier = n
		}
	}
}

// WithTaskObserver sets the refresh metrics sink.
func WithTaskObserver(o TaskObserver) Option {
	return func(d *Desk) {
		if o != nil {
			d.observer = o
		}
	}
}

// WithHistory sets the usage history sink.
func WithHistory(h HistorySink) Option {
	return func(d *Desk) { d.history = h }
}

// WithBrowserOpener sets how login URLs are opened.
func WithBrowserOpener(fn BrowserOpener) Option {
	return func(d *Desk) { d.openBrowser = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Desk) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// Desk drives the service connection and keeps the renderer's data fresh.
type Desk struct {
	cfg         Config
	conn        *connection.Manager
	svc         *service.Client
	store       *Store
	timer       *refresh.TimerState
	pub         Publisher
	notifier    connection.Notifier
	observer    TaskObserver
	history     HistorySink
	openBrowser BrowserOpener
	logger      *slog.Logger
	now         func() time.Time
	sleep       connection.DelayFunc
}

// New creates a Desk around a connection manager and service client.
func New(cfg Config, conn *connection.Manager, svc *service.Client, opts ...Option) *Desk {
	def := DefaultConfig()
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = def.RefreshInterval
	}
	if cfg.RequestLogLimit <= 0 {
		cfg.RequestLogLimit = def.RequestLogLimit
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = def.LoginTimeout
	}
	if cfg.LoginPoll <= 0 {
		cfg.LoginPoll = def.LoginPoll
	}
	if cfg.Wait == (connection.RetryPolicy{}) {
		cfg.Wait = def.Wait
	}
	if cfg.Probe == (connection.RetryPolicy{}) {
		cfg.Probe = def.Probe
	}

	d := &Desk{
		cfg:      cfg,
		conn:     conn,
		svc:      svc,
		store:    NewStore(),
		pub:      nopPublisher{},
		notifier: connection.NopNotifier{},
		observer: nopTaskObserver{},
		logger:   slog.Default(),
		now:      time.Now,
		sleep:    connection.Sleep,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.timer = refresh.NewTimerState(refresh.TimerOptions{
		AllowOverlap: cfg.AllowOverlap,
		Logger:       d.logger,
	})
	return d
}

// Store exposes the desk's data.
func (d *Desk) Store() *Store {
	return d.store
}

// State returns the connection state.
func (d *Desk) State() connection.State {
	return d.conn.State()
}

// AutoRefreshRunning reports whether the recurring refresh is scheduled.
func (d *Desk) AutoRefreshRunning() bool {
	return d.timer.Running()
}

// TaskOutcome summarizes one refresh task for the feed.
type TaskOutcome struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Count  int    `json:"count"`
	Error  string `json:"error,omitempty"`
}

// RefreshReport is the result of one RefreshAll cycle.
type RefreshReport struct {
	CycleID  string        `json:"cycleId"`
	Tasks    []TaskOutcome `json:"tasks"`
	Failed   []string      `json:"failed,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RefreshAll reloads every list in parallel. Tasks that fail keep their
// previous data; the rest are applied. It returns ErrNotConnected when the
// service cannot be reached.
func (d *Desk) RefreshAll(ctx context.Context) (*RefreshReport, error) {
	ok := d.conn.EnsureConnected(ctx)
	d.publishConnection()
	if !ok {
		return nil, ErrNotConnected
	}

	cycleID := uuid.New()
	logger := d.logger.With("cycle", cycleID.String())
	start := d.now()
	query := d.store.RequestLogQuery()

	var (
		accounts []model.Account
		usage    []model.UsageSnapshot
		models   []model.ModelOption
		keys     []model.APIKey
		logs     []model.RequestLog
	)
	tasks := []refresh.Task[int]{
		{Name: TaskAccounts, Run: func(ctx context.Context) (int, error) {
			var err error
			accounts, err = d.svc.ListAccounts(ctx)
			return len(accounts), err
		}},
		{Name: TaskUsage, Run: func(ctx context.Context) (int, error) {
			var err error
			usage, err = d.svc.ListUsage(ctx)
			return len(usage), err
		}},
		{Name: TaskAPIModels, Run: func(ctx context.Context) (int, error) {
			var err error
			models, err = d.svc.ListModels(ctx)
			return len(models), err
		}},
		{Name: TaskAPIKeys, Run: func(ctx context.Context) (int, error) {
			var err error
			keys, err = d.svc.ListAPIKeys(ctx)
			return len(keys), err
		}},
		{Name: TaskRequestLogs, Run: func(ctx context.Context) (int, error) {
			var err error
			logs, err = d.svc.ListRequestLogs(ctx, query, d.cfg.RequestLogLimit)
			return len(logs), err
		}},
	}

	results := refresh.RunTasks(ctx, tasks, func(name string, err error) {
		logger.Error("refresh task failed", "task", name, "error", err)
	}, refresh.WithLogger(logger))

	report := &RefreshReport{CycleID: cycleID.String()}
	for _, r := range results {
		d.observer.ObserveTask(r.Name, string(r.Status))
		out := TaskOutcome{Name: r.Name, Status: string(r.Status), Count: r.Value}
		if !r.OK() {
			out.Error = r.Err.Error()
			report.Tasks = append(report.Tasks, out)
			continue
		}
		report.Tasks = append(report.Tasks, out)
		switch r.Name {
		case TaskAccounts:
			d.store.SetAccounts(accounts)
		case TaskUsage:
			d.store.SetUsage(usage)
			if d.history != nil {
				d.history.Record(cycleID, usage)
			}
		case TaskAPIModels:
			d.store.SetModels(models)
		case TaskAPIKeys:
			d.store.SetAPIKeys(keys)
		case TaskRequestLogs:
			d.store.SetRequestLogs(query, logs)
		}
	}
	report.Failed = refresh.Failed(results)
	report.Duration = d.now().Sub(start)
	d.observer.ObserveRefresh(report.Duration)
	d.store.markRefreshed(report.CycleID, d.now())

	if len(report.Failed) > 0 {
		d.pub.Toast(toastPartialRefresh, "error")
	}
	d.pub.Publish(EventRefresh, report)
	d.pub.Publish(EventSnapshot, d.store.Snapshot())

	logger.Info("refresh complete",
		"failed", len(report.Failed),
		"duration", report.Duration,
	)
	return report, nil
}

func (d *Desk) publishConnection() {
	d.pub.Publish(EventConnection, d.conn.State())
}

// ensure runs EnsureConnected for an action.
func (d *Desk) ensure(ctx context.Context) error {
	if !d.conn.EnsureConnected(ctx) {
		d.publishConnection()
		return ErrNotConnected
	}
	return nil
}

// refreshInBackground is the tail of lifecycle operations: one refresh now,
// then the recurring timer.
func (d *Desk) refreshInBackground(ctx context.Context) {
	if _, err := d.RefreshAll(ctx); err != nil {
		d.logger.Debug("refresh after connect failed", "error", err)
	}
	d.startAutoRefresh(ctx)
}

func (d *Desk) startAutoRefresh(ctx context.Context) {
	refresh.StartRecurring(context.WithoutCancel(ctx), d.timer, func(ctx context.Context) {
		if _, err := d.RefreshAll(ctx); err != nil {
			d.logger.Debug("auto refresh skipped", "error", err)
		}
	}, d.cfg.RefreshInterval)
}

func (d *Desk) stopAutoRefresh() {
	refresh.StopRecurring(d.timer)
}

// Close stops the recurring refresh.
func (d *Desk) Close() {
	d.stopAutoRefresh()
}
