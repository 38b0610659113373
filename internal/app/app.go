package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/certman/internal/certsource"
	"github.com/hitoshi/certman/internal/config"
	"github.com/hitoshi/certman/internal/database"
	"github.com/hitoshi/certman/internal/handler"
	"github.com/hitoshi/certman/internal/logger"
	"github.com/hitoshi/certman/internal/metrics"
	"github.com/hitoshi/certman/internal/middleware"
	"github.com/hitoshi/certman/internal/model"
	"github.com/hitoshi/certman/internal/registry"
	"github.com/hitoshi/certman/internal/repository"
	"github.com/hitoshi/certman/internal/security"
	"github.com/hitoshi/certman/internal/telemetry"
	"github.com/hitoshi/certman/internal/whois"
	"github.com/hitoshi/certman/internal/worker/scan"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、設定された形式とレベルで構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定に従ってログを再構成する
	logger.Configure(w, cfg.LogFormat, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	// checkは結果を標準出力に書くため、ログは標準エラー出力に分ける
	out, logWriter := w, w
	if cmd == CommandCheck {
		logWriter = os.Stderr
	}

	cfg, err := Init(logWriter)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("store_backend", cfg.StoreBackend),
		slog.String("trace_exporter", cfg.TraceExporter),
	)

	shutdownTracing, err := telemetry.SetupTracing(cfg.TraceExporter, logWriter)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Warn("failed to flush traces", slog.String("error", err.Error()))
		}
	}()

	// SIGINTまたはSIGTERMシグナルでキャンセルされるコンテキスト
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandCheck:
		source := newTLSSource(cfg)
		return runCheck(ctx, source, out, commandArgs(args))
	default:
		return runServe(ctx, cfg)
	}
}

// components はserve/workerで共有する依存関係の集合。
type components struct {
	store     *registry.Store
	source    certsource.Source
	registry  *prometheus.Registry
	collector *metrics.Collector
	close     func() error
}

// buildComponents は永続化媒体・メトリクス・証明書ソースを構築する。
func buildComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	medium, closeFn, err := openMedium(ctx, cfg)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	return &components{
		store:     registry.NewStore(medium, slog.Default(), collector),
		source:    newTLSSource(cfg),
		registry:  reg,
		collector: collector,
		close:     closeFn,
	}, nil
}

// newTLSSource は設定に従った証明書ソースを生成する。
func newTLSSource(cfg *config.Config) *certsource.TLSSource {
	return certsource.NewTLSSource(certsource.TLSSourceConfig{
		Port:                 cfg.CertPort,
		Timeout:              cfg.CertTimeout,
		AllowPrivateNetworks: cfg.CertAllowPrivateNetworks,
	})
}

// openMedium はSTORE_BACKENDに対応する永続化媒体を開く。
// 返却されるクローズ関数は接続を持たない媒体でも非nilである。
func openMedium(ctx context.Context, cfg *config.Config) (repository.RegistryMedium, func() error, error) {
	noop := func() error { return nil }

	switch cfg.StoreBackend {
	case config.BackendXML, "":
		slog.Info("using XML registry file", slog.String("path", cfg.RegistryFile))
		return repository.NewXMLFileRegistry(cfg.RegistryFile), noop, nil

	case config.BackendPostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		return repository.NewPostgresRegistryRepo(db), db.Close, nil

	case config.BackendSQLite:
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		slog.Info("using SQLite registry", slog.String("path", cfg.SQLitePath))
		return repository.NewSQLiteRegistryRepo(db), db.Close, nil

	case config.BackendRedis:
		client, err := database.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("redis connection established",
			slog.String("redis_url", maskDatabaseURL(cfg.RedisURL)),
			slog.String("key", cfg.RedisKey),
		)
		return repository.NewRedisRegistryRepo(client, cfg.RedisKey), client.Close, nil

	case config.BackendMemory:
		slog.Warn("using in-memory registry; records are lost on exit")
		return repository.NewMemoryRegistry(), noop, nil

	default:
		return nil, nil, fmt.Errorf("unsupported store backend: %q", cfg.StoreBackend)
	}
}

// newAPIHandler はレジストリサービスとWHOISを束ねたHTTPハンドラーを構築する。
func newAPIHandler(cfg *config.Config, c *components, rl *middleware.RateLimiter) http.Handler {
	guard := security.NewDomainGuard()
	service := registry.NewService(c.source, c.store, guard, slog.Default(), c.collector)

	return handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rl,
		StatusRecorder:    c.collector,

		DomainService: service,

		WhoisClient:     whois.NewClient(cfg.WhoisTimeout, slog.Default()),
		DomainValidator: guard,

		HealthChecker: c.store,
		Gatherer:      c.registry,
	})
}

// runServe はAPIサーバーモードで起動する。
// 永続化媒体を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	c, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.close()

	if err := c.store.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize registry: %w", err)
	}

	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitRegistration))
	defer rl.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      newAPIHandler(cfg, c, rl),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if err := serveUntilDone(ctx, server, "API server"); err != nil {
		return err
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 証明書スキャンを定期実行し、/metricsで残日数を公開する。レジストリは変更しない。
func runWorker(ctx context.Context, cfg *config.Config) error {
	c, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.close()

	if err := c.store.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize registry: %w", err)
	}

	scheduler := scan.NewScheduler(c.store, c.source, c.collector, slog.Default(), cfg.ScanMaxConcurrent)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      metrics.SetupMetricsRoute(c.registry),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	slog.Info("worker starting",
		slog.Duration("scan_interval", cfg.ScanInterval),
		slog.Int("max_concurrent", cfg.ScanMaxConcurrent),
	)

	// スキャナをバックグラウンドで起動し、メトリクスサーバーをメインgoroutineで実行する。
	// サーバーが起動に失敗した場合もスキャナを止める
	scanCtx, cancelScan := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		scheduler.Start(scanCtx, cfg.ScanInterval)
	}()

	err = serveUntilDone(ctx, server, "worker metrics server")
	cancelScan()
	<-done
	if err != nil {
		return err
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// serveUntilDone はctxがキャンセルされるまでサーバーを実行し、その後シャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}
	return nil
}

// checkResult はcheckサブコマンドの1行分の出力。
type checkResult struct {
	Domain string              `json:"domain"`
	Record *model.DomainRecord `json:"record,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// runCheck は各ドメインの証明書を登録せずに確認し、1ドメイン1行のJSONで出力する。
// 1件でも失敗した場合はすべて出力した後にエラーを返す。
func runCheck(ctx context.Context, source certsource.Source, out io.Writer, names []string) error {
	if len(names) == 0 {
		return errors.New("check requires at least one domain")
	}

	store := registry.NewStore(repository.NewMemoryRegistry(), slog.Default(), nil)
	service := registry.NewService(source, store, security.NewDomainGuard(), slog.Default(), nil)

	enc := json.NewEncoder(out)
	failed := 0
	for _, name := range names {
		res := checkResult{Domain: name}
		rec, err := service.CheckDomain(ctx, name)
		if err != nil {
			failed++
			res.Error = err.Error()
		} else {
			res.Record = &rec
		}
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d checks failed", failed, len(names))
	}
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("migrate requires DATABASE_URL")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("schema_version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL は接続URLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
