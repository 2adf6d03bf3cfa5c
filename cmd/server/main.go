package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/koopa0/tetris-battle/internal"
	"github.com/koopa0/tetris-battle/internal/migrations"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

func main() {
	// 解析命令行參數
	configPath := flag.String("config", "config.yaml", "配置檔案路徑")
	flag.Parse()

	// 載入配置
	config, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	config.ApplyDefaults()
	config.ApplyEnv()

	// 設定日誌
	var logger *slog.Logger
	if config.Log.Format == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLogLevel(config.Log.Level),
		}))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLogLevel(config.Log.Level),
		}))
	}
	slog.SetDefault(logger)

	ctx := context.Background()

	// 連接 Redis（快取是盡力而為，連不上就停用）
	var redisClient *redis.Client
	if config.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:         config.Redis.Addr,
			Password:     config.Redis.Password,
			DB:           config.Redis.DB,
			PoolSize:     config.Redis.PoolSize,
			MinIdleConns: config.Redis.MinIdleConns,
			MaxRetries:   config.Redis.MaxRetries,
			ReadTimeout:  config.Redis.ReadTimeout,
			WriteTimeout: config.Redis.WriteTimeout,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("連接 Redis 失敗，對局快取停用", "error", err)
			_ = redisClient.Close()
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	// 連接 PostgreSQL
	// 使用 pgxpool 而非單一連線
	pgConfig, err := pgxpool.ParseConfig(config.PostgresDSN())
	if err != nil {
		logger.Error("解析 PostgreSQL 配置失敗", "error", err)
		os.Exit(1)
	}
	if config.Postgres.MaxConns > 0 {
		pgConfig.MaxConns = config.Postgres.MaxConns
	}
	if config.Postgres.MinConns > 0 {
		pgConfig.MinConns = config.Postgres.MinConns
	}

	pgPool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		logger.Error("連接 PostgreSQL 失敗", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	// 執行資料庫遷移
	migrator, err := migrations.New(config.PostgresURL(), logger)
	if err != nil {
		logger.Error("創建遷移管理器失敗", "error", err)
		os.Exit(1)
	}
	if err := migrator.Up(); err != nil {
		logger.Error("執行資料庫遷移失敗", "error", err)
		os.Exit(1)
	}
	_ = migrator.Close()

	// 對局事件發佈（未配置 NATS 時為空實作）
	var events internal.MatchEvents = internal.NopMatchEvents{}
	if config.NATS.Enabled && config.NATS.URL != "" {
		natsEvents, err := internal.NewNATSMatchEvents(config.NATS.URL, config.NATS.SubjectPrefix, logger)
		if err != nil {
			logger.Warn("連接 NATS 失敗，事件發佈停用", "error", err)
		} else {
			events = natsEvents
			defer natsEvents.Close()
		}
	}

	// 組裝服務
	matchmaker := internal.NewMatchmaker(config.Game.WaitTimeout, logger)
	registry := internal.NewRegistry(logger)
	cache := internal.NewSessionCache(redisClient, config.Game.CacheTTL, logger)
	store := internal.NewStore(pgPool, logger)
	svc := internal.NewService(matchmaker, registry, cache, store, events, logger)
	handler := internal.NewHandler(svc, logger)
	wsHub := internal.NewWebSocketHub(svc, logger)

	// 設定路由
	mux := http.NewServeMux()

	// HTTP API 路由
	mux.Handle("/", handler.Routes())

	// WebSocket 路由（不過日誌中間件：包裝 ResponseWriter 會破壞升級）
	mux.HandleFunc("GET /ws/join", wsHub.ServeWS)

	// 創建 HTTP 服務器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Server.Port),
		Handler:      mux,
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// 啟動伺服器
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("對戰服務器啟動", "port", config.Server.Port)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("服務器錯誤", "error", err)
			os.Exit(1)
		}

	case sig := <-shutdown:
		logger.Info("收到關閉信號，開始優雅關閉", "signal", sig)

		// 給予 30 秒時間完成當前請求
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// 停止接受新連接
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("服務器關閉失敗", "error", err)
			if closeErr := srv.Close(); closeErr != nil {
				logger.Error("強制關閉服務器失敗", "error", closeErr)
			}
		}

		// 關閉所有進行中對局的推送通道
		registry.CloseAll()
	}

	logger.Info("服務器已關閉")
}

// loadConfig 載入配置檔案
//
// 檔案不存在時返回零值配置（全靠預設值與環境變數），
// 方便本地直接啟動。
func loadConfig(path string) (*internal.Config, error) {
	// #nosec G304 - path 來自命令行參數，非外部輸入
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &internal.Config{}, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var config internal.Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &config, nil
}

// parseLogLevel 解析日誌級別
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
