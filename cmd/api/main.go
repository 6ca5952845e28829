package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classroll/internal/attendance"
	"classroll/internal/auth"
	"classroll/internal/config"
	"classroll/internal/feed"
	"classroll/internal/handler"
	"classroll/internal/store"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func openStore(ctx context.Context, cfg config.App) (attendance.Store, func(), error) {
	if cfg.StoreBackend == "memory" {
		log.Println("using in-memory record store")
		return attendance.NewMemStore(), func() {}, nil
	}
	db, err := store.NewDB(ctx, cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		return nil, nil, err
	}
	repo := attendance.NewRepository(db.Client)
	if err := repo.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return repo, func() { _ = db.Close() }, nil
}

func openBroker(cfg config.App) (feed.Broker, func(), error) {
	if cfg.PubSubBackend == "memory" {
		log.Println("using in-memory pub/sub")
		return feed.NewInMemory(64), func() {}, nil
	}
	rdb, err := store.NewRedis(cfg.RedisAddr)
	if err != nil {
		return nil, nil, err
	}
	return feed.NewRedisBroker(rdb.Client), func() { _ = rdb.Close() }, nil
}

func runHTTP(cfg config.App) error {
	ctx := context.Background()

	records, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	broker, closeBroker, err := openBroker(cfg)
	if err != nil {
		return err
	}
	defer closeBroker()

	live := feed.New(broker, feed.Options{
		Topic:     cfg.FeedTopic,
		SeenKey:   cfg.FeedSeenKey,
		SeenLimit: cfg.FeedSeenLimit,
		Retry:     cfg.FeedRetry,
		Mask:      cfg.FeedMask,
		Location:  cfg.Location,
	})
	events := attendance.NewLifecycle(records, live, cfg.Location)
	h := handler.New(handler.Deps{
		Students: attendance.NewStudents(records),
		Admins:   attendance.NewAdmins(records),
		Events:   events,
		Recorder: attendance.NewRecorder(records, events, live),
		Feed:     live,
		Sessions: auth.Sessions{
			Key:    cfg.JWTSigningKey,
			Issuer: cfg.JWTIssuer,
			TTL:    cfg.SessionTTL,
			Secure: cfg.Production(),
		},
		Location:     cfg.Location,
		CheckInLimit: cfg.RateLimitPerMin,
	})

	r := gin.New()

	// Recovery middleware
	r.Use(gin.Recovery())

	// Custom logger
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	// Security headers
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		storeHealthy := records.Healthy(c.Request.Context())
		brokerHealthy := live.Healthy(c.Request.Context())
		status := http.StatusOK
		if !storeHealthy || !brokerHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "store": storeHealthy, "broker": brokerHealthy})
	})

	h.Register(r)

	// No read or write timeouts: live-feed streams stay open until the client leaves.
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete; streams are cut.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
		_ = srv.Close()
	}

	log.Println("Server exited")
	return nil
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
