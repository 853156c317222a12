package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"dramapipe/internal/broker"
	"dramapipe/internal/config"
	"dramapipe/internal/daemon"
	"dramapipe/internal/logging"
	"dramapipe/internal/queue"
	"dramapipe/internal/workflow"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		log.Fatalf("open queue store: %v", err)
	}

	b, err := broker.NewAsynqBroker(cfg)
	if err != nil {
		log.Fatalf("connect broker: %v", err)
	}
	defer b.Close()

	dispatcher := workflow.NewDispatcher(cfg, store, b, logger)
	if err := registerExecutors(dispatcher, cfg, logger); err != nil {
		log.Fatalf("wire executors: %v", err)
	}

	intake := workflow.NewIntake(store, b, logger)
	worker, err := workflow.NewWorker(cfg, dispatcher, logger)
	if err != nil {
		log.Fatalf("build worker pool: %v", err)
	}
	scheduler, err := workflow.NewScheduler(cfg, intake, logger)
	if err != nil {
		log.Fatalf("build daily scheduler: %v", err)
	}
	if scheduler != nil {
		// Daily cron ticks arrive through the same worker pool.
		worker.HandleFunc(workflow.TaskTypeDaily, scheduler.HandleDaily)
	}

	d, err := daemon.New(cfg, store, logger, daemon.Components{
		Intake:     intake,
		Dispatcher: dispatcher,
		Worker:     worker,
		Sweeper:    workflow.NewSweeper(cfg, store, b, logger),
		Scheduler:  scheduler,
	})
	if err != nil {
		log.Fatalf("create daemon: %v", err)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		log.Fatalf("start daemon: %v", err)
	}

	<-ctx.Done()
	logger.Info("dramapiped shutting down")
}
