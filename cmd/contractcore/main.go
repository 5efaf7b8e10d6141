// Command contractcore is the composition root: it wires the upstream feed
// client, the price and balance oracles, the persistence layer, the
// Supervisor, and the Command Surface, then runs until signalled to stop.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"contractcore/internal/command"
	"contractcore/internal/evaluator"
	"contractcore/internal/feed"
	"contractcore/internal/observability"
	"contractcore/internal/oracle"
	"contractcore/internal/storage"
	"contractcore/internal/storage/memory"
	"contractcore/internal/storage/migrations"
	pgstore "contractcore/internal/storage/postgres"
	"contractcore/internal/supervisor"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	loadEnvFile()

	upstreamWSURL := flag.String("upstream-ws-url", os.Getenv("UPSTREAM_WS_URL"), "WebSocket endpoint of the upstream trade feed")
	solPriceURL := flag.String("sol-price-url", os.Getenv("SOL_PRICE_URL"), "HTTP endpoint of the SOL-price oracle")
	rpcURL := flag.String("rpc-url", os.Getenv("RPC_URL"), "Endpoint used by the balance oracle")
	maxRetries := flag.Int("max-retries", envInt("MAX_RETRIES", 5), "Supervisor start-retry cap")
	baseRetryDelayMs := flag.Int("base-retry-delay-ms", envInt("BASE_RETRY_DELAY_MS", 1000), "Exponential-backoff base in milliseconds")
	channelCapacity := flag.Int("channel-capacity", envInt("CHANNEL_CAPACITY", 64), "Per-stream event buffer capacity")
	opTimeoutMs := flag.Int("op-timeout-ms", envInt("DEFAULT_OP_TIMEOUT_MS", 5000), "Persistence/oracle call deadline in milliseconds")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "Postgres connection string; unset runs against the in-memory adapter")
	metricsAddr := flag.String("metrics-addr", envString("METRICS_ADDR", ":9090"), "/health and /metrics HTTP listen address")
	solPriceCacheTTLMs := flag.Int("sol-price-cache-ttl-ms", envInt("SOL_PRICE_CACHE_TTL_MS", 0), "Optional SOL-price TTL cache window in milliseconds, capped at 10000")
	console := flag.Bool("console", false, "Run an in-process stdin-driven operator console")

	flag.Parse()

	logger := log.New(os.Stdout, "[contractcore] ", log.LstdFlags|log.Lshortfile)

	if *upstreamWSURL == "" {
		logger.Fatal("--upstream-ws-url is required")
	}
	if *solPriceURL == "" {
		logger.Fatal("--sol-price-url is required")
	}
	if *rpcURL == "" {
		logger.Fatal("--rpc-url is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewWithRegistry("", prometheus.DefaultRegisterer)

	contracts, userContracts, users, cleanup, err := createStores(ctx, *postgresDSN, metrics)
	if err != nil {
		logger.Fatalf("failed to create stores: %v", err)
	}
	defer cleanup()

	feedCfg := feed.DefaultConfig()
	feedCfg.ChannelCapacity = *channelCapacity
	feedClient, err := feed.NewClient(ctx, *upstreamWSURL, feedCfg, log.New(os.Stdout, "[feed] ", log.LstdFlags))
	if err != nil {
		logger.Fatalf("failed to connect to upstream feed: %v", err)
	}
	feedClient.SetMetrics(metrics)
	defer feedClient.Close()

	priceOracle := oracle.NewPriceOracle(*solPriceURL, time.Duration(*solPriceCacheTTLMs)*time.Millisecond)
	priceOracle.SetMetrics(metrics)
	balanceOracle := oracle.NewBalanceOracle(*rpcURL)
	balanceOracle.SetMetrics(metrics)

	supCfg := supervisor.DefaultConfig()
	supCfg.MaxStartRetries = *maxRetries
	supCfg.BaseRetryDelay = time.Duration(*baseRetryDelayMs) * time.Millisecond
	supCfg.OpTimeout = time.Duration(*opTimeoutMs) * time.Millisecond

	evalCfg := evaluator.DefaultConfig()
	evalCfg.OpTimeout = supCfg.OpTimeout

	sup := supervisor.New(feedClient, contracts, userContracts, users, priceOracle, balanceOracle,
		log.New(os.Stdout, "[supervisor] ", log.LstdFlags), supCfg)
	sup.SetMetrics(metrics)
	sup.SetEvaluatorConfig(evalCfg)

	surface := command.New(sup)

	go sup.WatchFeed(ctx)

	if err := sup.StartAllPending(ctx); err != nil {
		logger.Printf("start_all_pending: %v", err)
	}

	httpDone := make(chan struct{})
	go func() {
		defer close(httpDone)
		runHTTPServer(*metricsAddr, sup, logger)
	}()

	if *console {
		go runConsole(ctx, surface, logger)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Printf("received signal %v, shutting down", sig)
	case <-ctx.Done():
	}

	cancel()
	sup.StopAll(context.Background())
	logger.Println("shutdown complete")
}

// createStores builds the persistence layer: Postgres-backed when
// postgresDSN is set, in-memory otherwise (per §6's DSN-optional contract).
func createStores(ctx context.Context, postgresDSN string, metrics *observability.Metrics) (
	storage.ContractStore, storage.UserContractStore, storage.UserStore, func(), error,
) {
	if postgresDSN == "" {
		return memory.NewContractStore(), memory.NewUserContractStore(), memory.NewUserStore(), func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, nil, fmt.Errorf("run migrations: %w", err)
	}

	contracts := storage.NewInstrumentedContractStore(pgstore.NewContractStore(pool), metrics)
	userContracts := storage.NewInstrumentedUserContractStore(pgstore.NewUserContractStore(pool), metrics)
	users := storage.NewInstrumentedUserStore(pgstore.NewUserStore(pool), metrics)

	return contracts, userContracts, users, func() { pool.Close() }, nil
}

// runHTTPServer serves /health and /metrics until ListenAndServe fails.
func runHTTPServer(addr string, sup *supervisor.Supervisor, logger *log.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", observability.HealthHandler(func() int { return len(sup.ListActive()) }, sup.Ready))
	mux.Handle("/metrics", observability.MetricsHandler())

	logger.Printf("starting HTTP server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Printf("HTTP server error: %v", err)
	}
}

// runConsole reads newline-delimited operator commands from stdin:
// "start <id>", "stop <id>", "restart <id>", "list", "status <id>", "health".
func runConsole(ctx context.Context, surface *command.Surface, logger *log.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("contractcore operator console. Commands: start|stop|restart|status <id>, list, health")
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "start", "stop", "restart", "status":
			if len(fields) != 2 {
				fmt.Printf("usage: %s <contract_id>\n", fields[0])
				continue
			}
			id, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				fmt.Printf("invalid contract id: %v\n", err)
				continue
			}
			printResult(fields[0], dispatch(ctx, surface, fields[0], id))

		case "list":
			for _, snap := range surface.List(ctx) {
				fmt.Printf("contract=%d mint=%s state=%v ath_sol=%v\n", snap.ContractID, snap.Mint, snap.State, snap.AthMarketCapSol)
			}

		case "health":
			res := surface.Health(ctx)
			fmt.Printf("ok=%v active_streams=%d\n", res.OK, res.ActiveCount)

		default:
			fmt.Printf("unknown command: %s\n", fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Printf("console read error: %v", err)
	}
}

func dispatch(ctx context.Context, surface *command.Surface, cmdName string, id int64) command.Result {
	switch cmdName {
	case "start":
		return surface.Start(ctx, id)
	case "stop":
		return surface.Stop(ctx, id)
	case "restart":
		return surface.Restart(ctx, id)
	default:
		return surface.Status(ctx, id)
	}
}

func printResult(cmdName string, res command.Result) {
	fmt.Printf("%s: ok=%v reason=%s\n", cmdName, res.OK, res.Reason)
}

// loadEnvFile loads environment variables from .env if present, without
// overriding variables already set in the process environment.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
