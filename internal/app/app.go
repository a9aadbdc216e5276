// Package app はアプリケーションの起動と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/hitoshi/jobwrap/internal/config"
	"github.com/hitoshi/jobwrap/internal/database"
	"github.com/hitoshi/jobwrap/internal/dedup"
	"github.com/hitoshi/jobwrap/internal/enrich"
	"github.com/hitoshi/jobwrap/internal/feed"
	"github.com/hitoshi/jobwrap/internal/geoip"
	"github.com/hitoshi/jobwrap/internal/handler"
	"github.com/hitoshi/jobwrap/internal/logger"
	"github.com/hitoshi/jobwrap/internal/metrics"
	"github.com/hitoshi/jobwrap/internal/middleware"
	"github.com/hitoshi/jobwrap/internal/reconcile"
	"github.com/hitoshi/jobwrap/internal/repository"
	"github.com/hitoshi/jobwrap/internal/security"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

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

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandReconcile:
		return runReconcile(cfg)
	case CommandDedup:
		return runDedup(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はフィード配信サーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	publishedRepo := repository.NewPostgresPublishedPostingRepo(db)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. フィードキャッシュ（REDIS_URLが設定されている場合のみ有効）
	var cache feed.Cache
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse REDIS_URL: %w", err)
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()
		cache = redisClient
		slog.Info("feed cache enabled",
			slog.Duration("ttl", cfg.FeedCacheTTL),
		)
	}

	// 5. フィードサービスの初期化
	feedService := feed.NewService(publishedRepo, cache, cfg.FeedCacheTTL, slog.Default())

	// 6. ジオ解決（GEO_LOOKUP_BASEが設定されている場合のみ有効）
	var geoResolver geoip.Resolver
	if cfg.GeoLookupBase != "" {
		geoResolver = geoip.NewLookuper(cfg.GeoLookupBase, cfg.GeoLookupTimeout, slog.Default())
	}

	// 7. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.FeedRate = rate.Limit(float64(cfg.RateLimitFeed) / 60.0)
	rateLimiterCfg.FeedBurst = cfg.RateLimitFeed
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:             slog.Default(),
		GeoResolver:        geoResolver,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        rateLimiter,
		FeedService:        feedService,
		DB:                 db,
		Collector:          collector,
		Gatherer:           registry,
	})

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("feed server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down feed server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("feed server stopped gracefully")
	return nil
}

// buildEngineFromDB は調整エンジンと重複排除パスの依存関係をワイヤリングする。
func buildEngineFromDB(cfg *config.Config, db *sql.DB, collector metrics.MetricsCollector) (*reconcile.Engine, *dedup.Deduplicator) {
	stagedRepo := repository.NewPostgresStagedPostingRepo(db)
	publishedRepo := repository.NewPostgresPublishedPostingRepo(db)

	improver := enrich.NewClient(enrich.Config{
		APIKey:        cfg.OpenAIAPIKey,
		Model:         cfg.OpenAIModel,
		Endpoint:      cfg.OpenAIEndpoint,
		Timeout:       cfg.EnrichTimeout,
		RatePerMinute: cfg.EnrichRatePerMinute,
	}, slog.Default())

	sanitizer := security.NewContentSanitizer()

	engine := reconcile.NewEngine(
		stagedRepo, publishedRepo, improver, sanitizer, collector, slog.Default(),
	)
	deduplicator := dedup.NewDeduplicator(publishedRepo, collector, slog.Default())

	return engine, deduplicator
}

// newSerializedJob は多重実行ガード付きのcron.Jobを返す。
// 前回の実行が終わっていない間に来たトリガーはスキップされる。
// 起動直後の即時実行もこのジョブ経由で行うことで、同一ジョブの
// 同時実行が常に高々1つに抑えられる。
func newSerializedJob(fn func()) cron.Job {
	chain := cron.NewChain(cron.SkipIfStillRunning(cronSlogLogger{logger: slog.Default()}))
	return chain.Then(cron.FuncJob(fn))
}

// cronSlogLogger はcronのログ出力をslogへ委譲するアダプタ。
// スキップされたトリガーはInfoレベルで記録される。
type cronSlogLogger struct {
	logger *slog.Logger
}

func (l cronSlogLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, slog.Any("details", keysAndValues))
}

func (l cronSlogLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg,
		slog.String("error", err.Error()),
		slog.Any("details", keysAndValues),
	)
}

// runWorker はスケジューラモードで起動する。
// cronスケジュールに従って調整処理と重複排除を定期実行する。
// 起動直後にも両方を1回ずつ実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	if err := cfg.RequireOpenAIAPIKey(); err != nil {
		return err
	}

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. エンジンのワイヤリング
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	engine, deduplicator := buildEngineFromDB(cfg, db, collector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runReconcileJob := func() {
		if _, err := engine.Run(ctx); err != nil {
			slog.Error("調整処理に失敗しました", slog.String("error", err.Error()))
		}
	}
	runDedupJob := func() {
		if _, err := deduplicator.Run(ctx); err != nil {
			slog.Error("重複排除に失敗しました", slog.String("error", err.Error()))
		}
	}

	// 3. cronスケジューラの構築
	// cronは同一ジョブでもトリガーごとに新しいgoroutineで実行するため、
	// スケジュール間隔より処理が長引くと多重実行になる。差分計算と挿入が
	// 並走すると同じレコードを二重昇格させるため、各ジョブをガードで包み、
	// 実行中の再トリガーはスキップさせる。
	reconcileJob := newSerializedJob(runReconcileJob)
	dedupJob := newSerializedJob(runDedupJob)

	c := cron.New()
	if _, err := c.AddJob(cfg.ReconcileSchedule, reconcileJob); err != nil {
		return fmt.Errorf("invalid RECONCILE_SCHEDULE %q: %w", cfg.ReconcileSchedule, err)
	}
	if _, err := c.AddJob(cfg.DedupSchedule, dedupJob); err != nil {
		return fmt.Errorf("invalid DEDUP_SCHEDULE %q: %w", cfg.DedupSchedule, err)
	}

	slog.Info("worker starting",
		slog.String("reconcile_schedule", cfg.ReconcileSchedule),
		slog.String("dedup_schedule", cfg.DedupSchedule),
	)

	// 起動直後に1回ずつ実行する。スケジュール実行と同じガード付きジョブを
	// 経由させ、初回実行とスケジュール実行が重ならないようにする。
	go func() {
		reconcileJob.Run()
		dedupJob.Run()
	}()

	c.Start()

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down worker...")
	cancel()

	// 実行中のジョブの完了を待つ
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		slog.Warn("worker shutdown timed out")
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runReconcile は調整処理を1回だけ実行する。
func runReconcile(cfg *config.Config) error {
	if err := cfg.RequireOpenAIAPIKey(); err != nil {
		return err
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	engine, _ := buildEngineFromDB(cfg, db, collector)

	summary, err := engine.Run(context.Background())
	if err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}

	slog.Info("reconciliation finished",
		slog.Int64("pruned", summary.Pruned),
		slog.Int("promoted", summary.Promoted),
		slog.Int("failed", summary.Failed),
		slog.Int("missing", len(summary.Missing)),
	)
	return nil
}

// runDedup は重複排除を1回だけ実行する。
func runDedup(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	_, deduplicator := buildEngineFromDB(cfg, db, collector)

	deleted, err := deduplicator.Run(context.Background())
	if err != nil {
		return fmt.Errorf("deduplication failed: %w", err)
	}

	slog.Info("deduplication finished",
		slog.Int64("deleted", deleted),
	)
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
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

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
