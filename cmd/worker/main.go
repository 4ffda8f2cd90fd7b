package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/unclebandit/portal-dispatch/internal/app"
	"github.com/unclebandit/portal-dispatch/internal/config"
	"github.com/unclebandit/portal-dispatch/internal/db"
	"github.com/unclebandit/portal-dispatch/internal/logger"
	"github.com/unclebandit/portal-dispatch/internal/queue"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		panic("load config: " + err.Error())
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("init logger: " + err.Error())
	}
	defer log.Sync()

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatal("failed to connect to DB", zap.Error(err))
	}
	defer conn.Close()

	rdb, err := app.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("failed to connect to Redis", zap.Error(err))
	}
	if rdb != nil {
		defer rdb.Close()
	}

	q, err := app.DialQueue(cfg.AMQP, log)
	if err != nil {
		log.Fatal("failed to connect to RabbitMQ", zap.Error(err))
	}

	svc, err := app.Build(cfg, log, conn, rdb, q)
	if err != nil {
		log.Fatal("failed to build services", zap.Error(err))
	}

	if err := register(q, svc.Pipeline, svc.SentHook, log); err != nil {
		log.Fatal("failed to register consumers", zap.Error(err))
	}
	log.Info("Worker running, waiting for jobs...",
		zap.String("dispatch_queue", cfg.AMQP.DispatchQueue),
		zap.String("sent_queue", cfg.AMQP.SentQueue))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down worker...")
	if err := q.Close(); err != nil {
		log.Error("queue close error", zap.Error(err))
	}
}

// register subscribes the dispatch pipeline and the sent hook to their topics.
func register(q queue.Queue, runner dispatchRunner, confirmer sentConfirmer, log *zap.Logger) error {
	if err := q.Subscribe(queue.TopicCampaignDispatch, dispatchHandler(runner, log)); err != nil {
		return err
	}
	return q.Subscribe(queue.TopicMessageSent, sentHandler(confirmer, log))
}
