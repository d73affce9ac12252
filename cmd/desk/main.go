package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/gpttools-desk/internal/api"
	"github.com/rickgao/gpttools-desk/internal/bridge"
	"github.com/rickgao/gpttools-desk/internal/config"
	"github.com/rickgao/gpttools-desk/internal/connection"
	"github.com/rickgao/gpttools-desk/internal/database"
	"github.com/rickgao/gpttools-desk/internal/desk"
	"github.com/rickgao/gpttools-desk/internal/feed"
	"github.com/rickgao/gpttools-desk/internal/history"
	"github.com/rickgao/gpttools-desk/internal/launcher"
	"github.com/rickgao/gpttools-desk/internal/metrics"
	"github.com/rickgao/gpttools-desk/internal/notify"
	"github.com/rickgao/gpttools-desk/internal/service"
	"github.com/rickgao/gpttools-desk/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file, e.g. configs/desk.example.yaml (empty = defaults)")
	addrFlag := flag.String("addr", "", "service address, overrides service.addr")
	noAutoStart := flag.Bool("no-autostart", false, "do not probe or start the service on boot")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *addrFlag != "" {
		cfg.Service.Addr = *addrFlag
	}
	if *noAutoStart {
		cfg.Service.AutoStart = false
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting desk",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"service_addr", cfg.Service.Addr,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("desk failed", "error", err)
		os.Exit(1)
	}
	logger.Info("desk stopped")
}

func loadConfig(path string) (*config.DeskConfig, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadAndValidate(path)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(ctx context.Context, cfg *config.DeskConfig, logger *slog.Logger) error {
	reg := metrics.NewRegistry()

	// Usage history (optional)
	var (
		pool   *pgxpool.Pool
		writer *history.Writer
	)
	if cfg.History.Enabled {
		logger.Info("connecting to history database",
			"host", cfg.History.Database.Host,
			"port", cfg.History.Database.Port,
			"database", cfg.History.Database.Name,
		)
		var err error
		pool, err = database.Connect(ctx, cfg.History.Database)
		if err != nil {
			return fmt.Errorf("connect history database: %w", err)
		}
		defer pool.Close()

		writer = history.NewWriter(history.Config{
			BatchSize:     cfg.History.BatchSize,
			FlushInterval: cfg.History.FlushInterval,
			BufferSize:    cfg.History.BufferSize,
		}, pool, reg, logger.With("component", "history"))
		if err := writer.EnsureSchema(ctx); err != nil {
			return err
		}
		if err := writer.Start(ctx); err != nil {
			return fmt.Errorf("start history writer: %w", err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			if err := writer.Stop(stopCtx); err != nil {
				logger.Error("error stopping history writer", "error", err)
			}
		}()
	}

	// The hub is both a notifier for the manager and a reader of its state.
	var conn *connection.Manager

	hub := feed.NewHub(feed.HubConfig{
		BufferSize:   cfg.Feed.BufferSize,
		WriteTimeout: cfg.Feed.WriteWait,
		PongWait:     cfg.Feed.PongWait,
	},
		feed.WithHubLogger(logger.With("component", "feed")),
		feed.WithSubscriberObserver(reg),
		feed.WithCheckOrigin(localOrigin),
		feed.WithHello(func() any { return conn.State() }),
	)
	defer hub.Close()

	notifiers := []connection.Notifier{notify.NewLog(logger.With("component", "notify")), hub}
	if cfg.Notify.Desktop {
		notifiers = append(notifiers, notify.NewDesktop(cfg.Notify.AppName, logger))
	}
	notifier := notify.NewMulti(notifiers...)

	// Service transport: launcher + JSON-RPC client behind the bridge.
	proc := launcher.New(launcher.Config{
		BinaryPath:  cfg.Service.BinaryPath,
		Args:        cfg.Service.Args,
		StopTimeout: cfg.Service.StopTimeout,
	}, logger.With("component", "launcher"))
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Service.StopTimeout+time.Second)
		defer stopCancel()
		if err := proc.Stop(stopCtx); err != nil {
			logger.Warn("service stop on exit failed", "error", err)
		}
	}()

	rpc := api.NewClient("",
		api.WithLogger(logger.With("component", "rpc")),
		api.WithTimeout(cfg.Service.Timeout),
		api.WithRetries(cfg.Service.MaxRetries, 200*time.Millisecond),
		api.WithRPCPath(cfg.Service.RPCPath),
	)

	var bridgeOpts []bridge.Option
	if writer != nil {
		bridgeOpts = append(bridgeOpts, bridge.WithLocalHandler(service.MethodLocalAccountDel, localAccountDelete(writer)))
	}
	br := bridge.New(rpc, proc, logger.With("component", "bridge"), bridgeOpts...)

	conn = connection.NewManager(br,
		connection.WithNotifier(notifier),
		connection.WithObserver(reg),
		connection.WithLogger(logger.With("component", "connection")),
		connection.WithEnsurePolicy(retryPolicy(cfg.Connection.Ensure)),
		connection.WithBootPolicy(retryPolicy(cfg.Connection.Boot)),
	)
	if err := conn.Restore(cfg.Service.Addr); err != nil {
		return fmt.Errorf("service address: %w", err)
	}

	deskOpts := []desk.Option{
		desk.WithPublisher(hub),
		desk.WithNotifier(notifier),
		desk.WithTaskObserver(reg),
		desk.WithBrowserOpener(openBrowser),
		desk.WithLogger(logger.With("component", "desk")),
	}
	if writer != nil {
		deskOpts = append(deskOpts, desk.WithHistory(writer))
	}
	d := desk.New(desk.Config{
		RefreshInterval: cfg.Refresh.Interval,
		AllowOverlap:    cfg.Refresh.AllowOverlap,
		RequestLogLimit: cfg.Refresh.RequestLogLimit,
		LoginTimeout:    cfg.Refresh.LoginTimeout,
		LoginPoll:       cfg.Refresh.LoginPoll,
		Wait:            retryPolicy(cfg.Connection.Wait),
		Probe:           retryPolicy(cfg.Connection.Probe),
	}, conn, service.NewClient(br, conn.Address), deskOpts...)
	defer d.Close()

	server := &http.Server{
		Addr:              net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Feed.Port)),
		Handler:           newHandler(cfg, d, hub, reg, pool),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting desk server",
			"addr", server.Addr,
			"feed", cfg.Feed.Path,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("desk server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		hub.Close()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.Service.AutoStart {
		g.Go(func() error {
			ok, err := d.AutoStart(gctx, cfg.Service.Addr)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("auto start failed", "error", err)
			}
			logger.Info("auto start finished", "connected", ok)
			return nil
		})
	}

	logger.Info("desk running",
		"health_url", fmt.Sprintf("http://%s/health", server.Addr),
		"methods", len(br.Methods()),
	)
	return g.Wait()
}

func retryPolicy(r config.RetryConfig) connection.RetryPolicy {
	return connection.RetryPolicy{Retries: r.Retries, Delay: r.Delay}
}

// localAccountDelete purges the desk's own history rows for an account.
func localAccountDelete(w *history.Writer) bridge.LocalHandler {
	return func(ctx context.Context, params map[string]any) (json.RawMessage, error) {
		id, _ := params["accountId"].(string)
		if id == "" {
			return json.RawMessage(`{"ok":false,"error":"accountId is required"}`), nil
		}
		n, err := w.DeleteAccount(ctx, id)
		if err != nil {
			return json.Marshal(map[string]any{"ok": false, "error": err.Error()})
		}
		return json.Marshal(map[string]any{"ok": true, "deleted": n})
	}
}

// localOrigin accepts renderer pages served from this machine.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	host := origin
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	switch host {
	case "localhost", "127.0.0.1", "::1", "[::1]", "tauri.localhost":
		return true
	}
	return strings.HasPrefix(origin, "tauri://") || strings.HasPrefix(origin, "file://")
}

// newHandler creates the desk HTTP surface.
func newHandler(cfg *config.DeskConfig, d *desk.Desk, hub *feed.Hub, reg *metrics.Registry, pool *pgxpool.Pool) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		st := d.State()
		health := struct {
			Status     string         `json:"status"`
			Version    string         `json:"version"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Version:    version.String(),
			Components: make(map[string]any),
		}

		health.Components["service"] = st
		if !st.Connected {
			health.Status = "degraded"
		}
		health.Components["feed"] = map[string]any{"subscribers": hub.Subscribers()}
		health.Components["auto_refresh"] = d.AutoRefreshRunning()

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["history"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["history"] = "connected"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.Handle(cfg.Feed.Path, hub)
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, reg.Handler())
	}
	mux.Handle("/api/", d.Handler())

	return mux
}
