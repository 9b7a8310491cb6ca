// Command speechgate runs the realtime voice gateway.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/speechgate/speechgate/internal/dotenv"
	"github.com/speechgate/speechgate/pkg/gateway/config"
	"github.com/speechgate/speechgate/pkg/gateway/server"
)

func run(ctx context.Context, stderr io.Writer) error {
	logger := slog.New(slog.NewJSONHandler(stderr, nil))
	slog.SetDefault(logger)

	if err := dotenv.Load(); err != nil {
		return err
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse SG_REDIS_URL: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not reachable at startup", "error", err)
	}

	gw, err := server.New(cfg, redisClient, logger)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	logger.Info("starting gateway",
		"addr", cfg.Addr,
		"stt_url", cfg.STTURL,
		"llm_url", cfg.LLMURL,
		"tts_url", cfg.TTSURL,
	)

	if err := gw.Run(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("gateway stopped")
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "speechgate: %v\n", err)
		os.Exit(1)
	}
}
