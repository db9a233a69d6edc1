package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/yourusername/toolgate/abuse"
	"github.com/yourusername/toolgate/api"
	"github.com/yourusername/toolgate/cache"
	"github.com/yourusername/toolgate/config"
	"github.com/yourusername/toolgate/credential"
	"github.com/yourusername/toolgate/limiter"
	"github.com/yourusername/toolgate/metrics"
	"github.com/yourusername/toolgate/middleware"
	"github.com/yourusername/toolgate/store"
	"github.com/yourusername/toolgate/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("❌ Failed to load config:", err)
	}

	st := buildStore(cfg)
	defer st.Close()

	lim := limiter.New(st, cfg.DailyLimit)
	detector := abuse.NewDetector(st, cfg.Policy, cfg.RiskThreshold, cfg.BanDuration)
	pool := credential.NewPool(cfg.UpstreamAPIKeys)
	if pool.Size() == 0 {
		log.Println("⚠️  UPSTREAM_API_KEYS not set; upstream calls will fail")
	}
	responseCache := cache.New(st, cfg.CacheTTL)
	client := upstream.NewClient(pool, responseCache, cfg.UpstreamEndpoint)
	metricsTracker := metrics.NewMetrics()

	router := mux.NewRouter()

	handler := api.NewHandler(lim, detector, metricsTracker)
	router.HandleFunc("/rate-limit", handler.RateLimit).Methods("GET", "POST")
	router.HandleFunc("/health", healthHandler).Methods("GET")
	router.Handle("/metrics", api.NewMetricsHandler(metricsTracker)).Methods("GET")

	adminHandler := api.NewAdminHandler(pool, responseCache, cfg.AdminToken)
	adminHandler.RegisterRoutes(router)

	gate := middleware.NewGate(lim, detector, metricsTracker)
	completion := api.NewCompletionHandler(client, metricsTracker)
	router.Handle("/api/complete", gate.Middleware(completion)).Methods("POST")

	log.Println("🚦 ToolGate access layer")
	log.Printf("📍 Listening on :%s", cfg.ServerPort)
	log.Printf("   Daily limit %d, cache TTL %s, %d credential(s)", cfg.DailyLimit, cfg.CacheTTL, pool.Size())
	log.Println("   POST /rate-limit      - check/increment (typed action)")
	log.Println("   GET  /rate-limit      - read-only status")
	log.Println("   POST /api/complete    - gated completion endpoint")
	log.Println("   GET  /metrics         - metrics snapshot")
	log.Println("   GET  /admin/credentials, POST /admin/cache/clear (token)")

	if err := http.ListenAndServe(":"+cfg.ServerPort, router); err != nil {
		log.Fatal("Server failed:", err)
	}
}

// buildStore picks the state backend. Missing or broken Redis configuration
// never aborts startup: the layer degrades to in-process state instead.
func buildStore(cfg *config.Config) store.Store {
	if cfg.RedisURL == "" {
		log.Println("⚠️  REDIS_URL not set, using in-memory state (single instance only)")
		return store.NewMemoryStore()
	}

	redisStore, err := store.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Printf("⚠️  Invalid REDIS_URL, using in-memory state: %v", err)
		return store.NewMemoryStore()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := redisStore.Ping(ctx); err != nil {
		log.Printf("⚠️  Redis unreachable at startup, failover will serve from memory: %v", err)
	} else {
		log.Println("✅ Connected to Redis")
	}
	return store.NewFailoverStore(redisStore)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "toolgate",
		"version": "1.0.0",
	})
}
