package main

import (
	"log/slog"

	"dramapipe/internal/artifacts"
	"dramapipe/internal/config"
	"dramapipe/internal/idempotency"
	"dramapipe/internal/services/assembly"
	"dramapipe/internal/services/publish"
	"dramapipe/internal/services/script"
	"dramapipe/internal/services/thumbnail"
	"dramapipe/internal/services/voice"
	"dramapipe/internal/stage"
)

type executorRegistrar interface {
	Register(stage.Executor)
}

func registerExecutors(reg executorRegistrar, cfg *config.Config, logger *slog.Logger) error {
	if reg == nil || cfg == nil {
		return nil
	}

	store := artifacts.NewStore(cfg)
	cache, err := idempotency.NewCache(cfg)
	if err != nil {
		return err
	}

	reg.Register(script.NewExecutor(script.NewClient(cfg.Script), store, cache, logger))
	reg.Register(voice.NewExecutor(voice.NewClient(cfg.Voice), store, cache, logger))
	reg.Register(assembly.NewExecutor(cfg.Assembly, store, logger))
	reg.Register(thumbnail.NewExecutor(cfg.Assembly, store, logger))
	reg.Register(publish.NewExecutor(publish.NewClient(cfg.Publish), cache, logger))
	return nil
}
