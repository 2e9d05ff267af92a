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

	"github.com/hitoshi/blossom/internal/chatview"
	"github.com/hitoshi/blossom/internal/check"
	"github.com/hitoshi/blossom/internal/config"
	"github.com/hitoshi/blossom/internal/database"
	"github.com/hitoshi/blossom/internal/find"
	"github.com/hitoshi/blossom/internal/handler"
	"github.com/hitoshi/blossom/internal/httpclient"
	"github.com/hitoshi/blossom/internal/logger"
	"github.com/hitoshi/blossom/internal/metrics"
	"github.com/hitoshi/blossom/internal/middleware"
	"github.com/hitoshi/blossom/internal/migration"
	"github.com/hitoshi/blossom/internal/model"
	"github.com/hitoshi/blossom/internal/notify"
	"github.com/hitoshi/blossom/internal/ocr"
	"github.com/hitoshi/blossom/internal/reddit"
	"github.com/hitoshi/blossom/internal/report"
	"github.com/hitoshi/blossom/internal/repository"
	"github.com/hitoshi/blossom/internal/sampler"
	"github.com/hitoshi/blossom/internal/security"
	"github.com/hitoshi/blossom/internal/slack"
	"github.com/hitoshi/blossom/internal/slackbot"
	"github.com/hitoshi/blossom/internal/sponsor"
	"github.com/hitoshi/blossom/internal/submission"
	"github.com/hitoshi/blossom/internal/transcription"
	"github.com/hitoshi/blossom/internal/volunteer"
	"github.com/hitoshi/blossom/internal/worker/ingest"
	"github.com/hitoshi/blossom/internal/worker/queue"
)

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. .envの読み込み（既存の環境変数は上書きしない）
	if err := config.LoadDotEnv(os.Getenv("DOTENV_PATH")); err != nil {
		return nil, fmt.Errorf("failed to load dotenv: %w", err)
	}

	// 2. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 3. 環境変数から設定を読み込む
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
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandIngest:
		return runIngest(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandBootstrap:
		return runBootstrap(cfg)
	default:
		return runServe(cfg)
	}
}

// components はserveとingestで共有するドメインサービス一式。
type components struct {
	queue         *queue.Queue
	collector     *metrics.Collector
	registry      *prometheus.Registry
	submissions   *submission.Service
	transcription *transcription.Service
	volunteers    *volunteer.Service
	reports       *report.Service
	finder        *find.Service
	bot           *slackbot.Bot
	sponsors      *sponsor.Handler
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")
	return db, nil
}

// wire はリポジトリ・外部クライアント・ドメインサービスを構築する。
func wire(cfg *config.Config, db *sql.DB) *components {
	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sourceRepo := repository.NewPostgresSourceRepo(db)
	submissionRepo := repository.NewPostgresSubmissionRepo(db)
	transcriptionRepo := repository.NewPostgresTranscriptionRepo(db)
	checkRepo := repository.NewPostgresCheckRepo(db)
	migrationRepo := repository.NewPostgresMigrationRepo(db)

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. Slackクライアントとワーカーキュー
	slackClient := slack.NewClient(
		httpclient.NewClient(httpclient.WithLogger(logger.Component("httpclient"))),
		cfg.SlackAPIURL, cfg.SlackBotToken, logger.Component("slack"),
	)
	q := queue.New(cfg.WorkerQueueSize, logger.Component("queue"),
		queue.WithSynchronous(cfg.WorkerSync),
		queue.WithMetrics(collector),
		queue.WithPanicReporter(notify.PanicReporter(slackClient, cfg.SlackErrorChannel, logger.Component("queue"))),
	)
	renderer := chatview.New(cfg.SlackWorkspaceURL)
	notifier := notify.New(slackClient, q, cfg.SlackModChannel, logger.Component("notify"))

	// 4. ドメインサービス
	checkService := check.NewService(
		checkRepo, transcriptionRepo, submissionRepo, userRepo,
		renderer, slackClient, q, cfg.SlackCheckChannel, logger.Component("check"),
		check.WithMetrics(collector),
	)
	decider := sampler.New(
		sampler.WithLowActivity(sampler.NewInactivityPredicate(transcriptionRepo, cfg.LowActivityDays, nil)),
	)
	subOpts := []submission.Option{
		submission.WithRankNotifier(notifier),
		submission.WithMetrics(collector),
		submission.WithQueueWindows(cfg.ExpiredDefaultHours, cfg.ArchivistDelay),
	}
	if cfg.OCRAPIKey != "" {
		ocrClient := ocr.NewClient(
			httpclient.NewClient(
				httpclient.WithAttemptTimeout(cfg.OCRTimeout),
				httpclient.WithLogger(logger.Component("httpclient")),
			),
			cfg.OCRAPIKey, logger.Component("ocr"),
			ocr.WithEndpoints(cfg.OCREndpoints...),
			ocr.WithMetrics(collector),
		)
		scheduler := ocr.NewScheduler(ocrClient, submissionRepo, transcriptionRepo, userRepo, q, logger.Component("ocr"))
		subOpts = append(subOpts, submission.WithOCR(scheduler))
	} else {
		slog.Warn("OCR_API_KEY is not set; OCR is disabled")
	}
	submissionService := submission.NewService(
		userRepo, sourceRepo, submissionRepo, transcriptionRepo,
		decider, checkService, logger.Component("submission"),
		subOpts...,
	)
	transcriptionService := transcription.NewService(
		transcriptionRepo, submissionRepo, userRepo, sourceRepo, logger.Component("transcription"),
	)
	volunteerService := volunteer.NewService(
		userRepo, sourceRepo, submissionRepo, transcriptionRepo, logger.Component("volunteer"),
	)
	reportService := report.NewService(
		submissionRepo, userRepo, reddit.NewLogActions(logger.Component("reddit")),
		renderer, slackClient, q, cfg.SlackReportChannel, logger.Component("report"),
	)
	migrationService := migration.NewService(
		migrationRepo, userRepo, renderer, slackClient, q, cfg.SlackModChannel, logger.Component("migration"),
	)
	finder := find.NewService(submissionRepo, transcriptionRepo, userRepo)

	// 5. Slack bot とwebhook
	bot := slackbot.New(slackbot.Deps{
		Volunteers: volunteerService,
		Checks:     checkService,
		Migrations: migrationService,
		Reports:    reportService,
		Finder:     finder,
		Renderer:   renderer,
		Poster:     slackClient,
		Queue:      q,
		Metrics:    collector,
		Logger:     logger.Component("slackbot"),
	})
	sponsors := sponsor.NewHandler(cfg.GitHubSponsorsSecret, cfg.SlackSponsorChannel, notifier, logger.Component("sponsor"))

	return &components{
		queue:         q,
		collector:     collector,
		registry:      registry,
		submissions:   submissionService,
		transcription: transcriptionService,
		volunteers:    volunteerService,
		reports:       reportService,
		finder:        finder,
		bot:           bot,
		sponsors:      sponsors,
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーとワーカーキューを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	c := wire(cfg, db)

	// ルーターの構築（RATE_LIMIT_* はreq/min単位）
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitWrite))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:               slog.Default(),
		APIKey:               cfg.APIKey,
		RateLimiter:          rateLimiter,
		StatusMetrics:        c.collector,
		SubmissionService:    c.submissions,
		ReportService:        c.reports,
		TranscriptionService: c.transcription,
		FindService:          handler.NewFindServiceAdapter(c.finder),
		VolunteerService:     c.volunteers,
		SlackBot:             c.bot,
		SponsorWebhook:       c.sponsors,
		SlackSigningSecret:   cfg.SlackSigningSecret,
		MetricsHandler:       metrics.Handler(c.registry),
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// ワーカーキューはシャットダウン時に残りのタスクを実行してから終了する
	queueCtx, stopQueue := context.WithCancel(context.Background())
	queueDone := make(chan struct{})
	go func() {
		defer close(queueDone)
		c.queue.Run(queueCtx)
	}()

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	stopQueue()
	select {
	case <-queueDone:
	case <-ctx.Done():
		slog.Warn("worker queue did not drain before the shutdown deadline")
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runIngest はフィード取り込みワーカーを起動する。
// 取り込んだ投稿のOCRもこのプロセスのワーカーキューで実行する。
func runIngest(cfg *config.Config) error {
	if len(cfg.IngestFeeds) == 0 {
		return fmt.Errorf("INGEST_FEEDS is not set")
	}

	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	c := wire(cfg, db)

	guard := security.NewGuard(cfg.IngestTimeout)
	fetcher := ingest.NewFetcher(
		c.submissions, guard, security.NewTextSanitizer(), c.collector,
		logger.Component("ingest"), cfg.IngestMaxSize,
	)
	scheduler := ingest.NewScheduler(cfg.IngestFeeds, fetcher, logger.Component("ingest"), cfg.IngestMaxConcurrent)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down ingest worker...")
		cancel()
	}()

	queueDone := make(chan struct{})
	go func() {
		defer close(queueDone)
		c.queue.Run(ctx)
	}()

	// スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.IngestInterval)
	<-queueDone

	slog.Info("ingest worker stopped gracefully")
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

// runBootstrap はシステムユーザーと組み込みソースを作成する。
func runBootstrap(cfg *config.Config) error {
	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := bootstrap(ctx, repository.NewPostgresUserRepo(db), repository.NewPostgresSourceRepo(db)); err != nil {
		return err
	}
	slog.Info("bootstrap completed successfully")
	return nil
}

// systemUsers はbootstrapで作成するユーザー。
var systemUsers = []model.User{
	{Username: model.UsernameTOR, IsBot: true},
	{Username: model.UsernameOCRBot, IsBot: true},
	{Username: model.UsernameArchivist, IsBot: true},
	{Username: model.UsernameAdmin, IsStaff: true, IsVolunteer: true, AcceptedCoC: true},
}

// bootstrap はシステムユーザーと組み込みソースを冪等に作成する。
func bootstrap(ctx context.Context, users repository.UserRepository, sources repository.SourceRepository) error {
	for _, name := range model.BuiltinSources {
		if _, err := sources.Ensure(ctx, name); err != nil {
			return fmt.Errorf("failed to ensure source %s: %w", name, err)
		}
	}

	for _, tmpl := range systemUsers {
		existing, err := users.FindByUsername(ctx, tmpl.Username)
		if err != nil {
			return fmt.Errorf("failed to find user %s: %w", tmpl.Username, err)
		}
		if existing != nil {
			continue
		}
		u := tmpl
		u.DateJoined = time.Now()
		if err := users.Create(ctx, &u); err != nil {
			return fmt.Errorf("failed to create user %s: %w", tmpl.Username, err)
		}
		slog.Info("system user created", slog.String("username", u.Username))
	}
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
