// feedwatch connects to a running desk feed and prints events to the console.
// Usage: go run ./cmd/feedwatch -url ws://127.0.0.1:48761/feed
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/gpttools-desk/internal/connection"
	"github.com/rickgao/gpttools-desk/internal/desk"
	"github.com/rickgao/gpttools-desk/internal/feed"
)

func main() {
	url := flag.String("url", "ws://127.0.0.1:48761/feed", "desk feed URL")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	cfg := feed.DefaultClientConfig()
	cfg.URL = *url
	client := feed.NewClient(cfg, logger)

	if err := client.Connect(ctx); err != nil {
		logger.Error("failed to connect to feed", "url", *url, "error", err)
		os.Exit(1)
	}
	logger.Info("streaming started - press Ctrl+C to stop", "url", *url)

	count := 0
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-client.Errors():
			logger.Error("feed error", "error", err)
			break loop
		case ev, ok := <-client.Events():
			if !ok {
				break loop
			}
			count++
			printEvent(os.Stdout, ev, *verbose)
		case <-ticker.C:
			logger.Info("stats", "events", count, "connected", client.IsConnected())
		}
	}

	logger.Info("shutting down...", "events", count)
	if err := client.Close(); err != nil {
		logger.Warn("close failed", "error", err)
	}
	logger.Info("shutdown complete")
}

func printEvent(w io.Writer, ev feed.Event, verbose bool) {
	ts := ev.At.Local().Format("15:04:05")
	if verbose {
		data, _ := json.MarshalIndent(ev, "", "  ")
		fmt.Fprintf(w, "[%s] %s\n", ts, data)
		return
	}

	switch ev.Type {
	case feed.TypeHello, feed.TypeConnection:
		var st connection.State
		if err := ev.Decode(&st); err != nil {
			break
		}
		fmt.Fprintf(w, "[%s] %s addr=%s connected=%t busy=%t error=%q\n",
			ts, ev.Type, st.Address, st.Connected, st.Busy, st.LastError)
		return
	case feed.TypeStatus:
		var s feed.StatusData
		if err := ev.Decode(&s); err != nil {
			break
		}
		fmt.Fprintf(w, "[%s] status ok=%t %s\n", ts, s.OK, s.Message)
		return
	case feed.TypeHint:
		var h feed.HintData
		if err := ev.Decode(&h); err != nil {
			break
		}
		fmt.Fprintf(w, "[%s] hint error=%t %s\n", ts, h.IsError, h.Message)
		return
	case feed.TypeToast:
		var t feed.ToastData
		if err := ev.Decode(&t); err != nil {
			break
		}
		fmt.Fprintf(w, "[%s] toast %s: %s\n", ts, t.Level, t.Message)
		return
	case feed.TypeRefresh:
		var r desk.RefreshReport
		if err := ev.Decode(&r); err != nil {
			break
		}
		fmt.Fprintf(w, "[%s] refresh cycle=%s tasks=%d failed=%v took=%s\n",
			ts, r.CycleID, len(r.Tasks), r.Failed, r.Duration)
		return
	case feed.TypeSnapshot:
		var s desk.Snapshot
		if err := ev.Decode(&s); err != nil {
			break
		}
		fmt.Fprintf(w, "[%s] snapshot accounts=%d ok=%d low=%d bad=%d unknown=%d keys=%d logs=%d\n",
			ts, len(s.Accounts), s.Stats.OKCount, s.Stats.LowCount, s.Stats.BadCount,
			s.Stats.UnknownCount, len(s.APIKeys), len(s.RequestLogs))
		return
	}
	fmt.Fprintf(w, "[%s] %s %s\n", ts, ev.Type, ev.Data)
}
