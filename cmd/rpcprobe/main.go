// rpcprobe sends one JSON-RPC call to gpttools-service and prints the result.
// Usage: go run ./cmd/rpcprobe -addr 48760 -method initialize
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rickgao/gpttools-desk/internal/api"
	"github.com/rickgao/gpttools-desk/internal/connection"
)

func main() {
	addr := flag.String("addr", "48760", "service port or host:port")
	method := flag.String("method", "initialize", "RPC method")
	params := flag.String("params", "", "JSON object with call params")
	rpcPath := flag.String("rpc-path", api.DefaultRPCPath, "RPC endpoint path")
	timeout := flag.Duration("timeout", 5*time.Second, "request timeout")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	if err := run(*addr, *method, *params, *rpcPath, *timeout, logger); err != nil {
		fmt.Fprintf(os.Stderr, "rpcprobe: %v\n", err)
		os.Exit(1)
	}
}

func run(rawAddr, method, rawParams, rpcPath string, timeout time.Duration, logger *slog.Logger) error {
	addr, err := connection.NormalizeAddress(rawAddr)
	if err != nil {
		return err
	}

	params, err := parseParams(rawParams)
	if err != nil {
		return err
	}

	client := api.NewClient(addr,
		api.WithTimeout(timeout),
		api.WithRPCPath(rpcPath),
		api.WithLogger(logger),
	)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	result, err := client.Call(ctx, method, params)
	if err != nil {
		var rpcErr *api.RPCError
		if errors.As(err, &rpcErr) && len(rpcErr.Body) > 0 {
			fmt.Fprintf(os.Stderr, "%s\n", rpcErr.Body)
		}
		return fmt.Errorf("%s at %s: %w", method, addr, err)
	}

	var out bytes.Buffer
	if err := json.Indent(&out, result, "", "  "); err != nil {
		out.Reset()
		out.Write(result)
	}
	fmt.Println(out.String())
	logger.Info("call complete", "method", method, "addr", addr, "took", time.Since(start))
	return nil
}

// parseParams decodes the -params flag. Empty means no params.
func parseParams(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("params must be a JSON object: %w", err)
	}
	return params, nil
}
