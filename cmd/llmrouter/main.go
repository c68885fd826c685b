// Package main is the entry point for the llmrouter gateway demo host.
package main

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/howard-nolan/llmrouter/internal/config"
	"github.com/howard-nolan/llmrouter/internal/core/admission"
	"github.com/howard-nolan/llmrouter/internal/core/cache"
	"github.com/howard-nolan/llmrouter/internal/core/gateway"
	"github.com/howard-nolan/llmrouter/internal/core/httpexec"
	"github.com/howard-nolan/llmrouter/internal/core/logging"
	"github.com/howard-nolan/llmrouter/internal/core/metrics"
	"github.com/howard-nolan/llmrouter/internal/core/model"
	"github.com/howard-nolan/llmrouter/internal/core/pipeline"
	"github.com/howard-nolan/llmrouter/internal/core/template"
	"github.com/howard-nolan/llmrouter/internal/server"
)

const sweepInterval = 30 * time.Second

func main() {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logging.NewStd(nil)
	settings := config.NewSettings(cfg)

	store, err := template.New(cfg.Gateway.TemplateRoot, settings, logger)
	if err != nil {
		log.Fatalf("failed to load template store: %v", err)
	}

	registry := prometheus.NewRegistry()
	sink := metrics.NewPrometheus(registry)

	exec := httpexec.NewExecutor(httpexec.WithMetrics(sink))
	exec.ApplyConfiguredTimeout(settings.HTTPTimeout())

	adm := admission.New(sink)

	chatCache, embedCache := buildCaches(cfg, settings, logger)
	defer chatCache.Stop()
	defer embedCache.Stop()

	retry := httpexec.DefaultRetryPolicy()
	chatPipeline := pipeline.NewChatPipeline(store, exec, adm, chatCache, retry, logger, sink)
	embedPipeline := pipeline.NewEmbeddingPipeline(store, exec, adm, embedCache, retry, logger, sink)

	gw := gateway.New(settings, store, chatPipeline, embedPipeline, logger)

	srv := server.New(gw, logger, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Printf("llmrouter listening on :%d", cfg.Server.Port)
	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// buildCaches wires the chat and embedding cache stores, layering an
// optional Redis tier on top of the always-present in-memory LRU when the
// host config names a Redis address, and starting each store's background
// sweeper.
func buildCaches(cfg *config.Config, settings *config.Settings, logger logging.Logger) (*cache.Store[*model.UniformChatResponse], *cache.Store[[]float32]) {
	ttl := settings.CacheTTL()
	if !settings.IsCacheEnabled() {
		ttl = 0
	}
	maxEntries := cfg.Gateway.CacheMaxEntries

	var redisClient *redis.Client
	if addr := settings.GetCacheRedisAddr(); addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: addr})
	}

	chatOpts := []cache.Option[*model.UniformChatResponse]{cache.WithLogger[*model.UniformChatResponse](logger)}
	embedOpts := []cache.Option[[]float32]{cache.WithLogger[[]float32](logger)}
	if maxEntries > 0 {
		chatOpts = append(chatOpts, cache.WithMaxEntries[*model.UniformChatResponse](maxEntries))
		embedOpts = append(embedOpts, cache.WithMaxEntries[[]float32](maxEntries))
	}
	if redisClient != nil {
		chatOpts = append(chatOpts, cache.WithRedis[*model.UniformChatResponse](redisClient))
		embedOpts = append(embedOpts, cache.WithRedis[[]float32](redisClient))
	}

	chatCache := cache.New[*model.UniformChatResponse](ttl, chatOpts...)
	embedCache := cache.New[[]float32](ttl, embedOpts...)
	chatCache.StartSweeper(sweepInterval)
	embedCache.StartSweeper(sweepInterval)
	return chatCache, embedCache
}
