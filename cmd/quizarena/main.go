package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/natefell/quizarena/internal/app"
	"github.com/natefell/quizarena/internal/config"
	"github.com/natefell/quizarena/internal/logger"
	"github.com/natefell/quizarena/pkg/questions"
)

var (
	version = "dev"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `QuizArena - Real-time 1v1 Quiz Battles

Usage:
  quizarena [options]

Options:
  -version       Show version and exit

Environment:
  QUIZARENA_ADDR          Listen address (default ":8080")
  QUIZARENA_DB            SQLite database path (default "quizarena.db")
  QUIZARENA_QUESTION_URL  Question service base URL
  QUIZARENA_JWT_SECRET    Connection token signing secret (required)
  QUIZARENA_LOG_LEVEL     Log level: debug, info, warn, error (default "info")
`)
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("quizarena %s\n", version)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewWithLevel(logger.ParseLevel(cfg.LogLevel))

	questionClient := questions.NewHTTPClient(log, cfg.QuestionSvcURL)

	a, err := app.New(log, cfg, questionClient)
	if err != nil {
		log.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		log.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("Server stopped")
}
