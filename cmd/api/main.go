package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classattend/internal/auth"
	"classattend/internal/config"
	"classattend/internal/feed"
	"classattend/internal/httpmiddleware"
	"classattend/internal/roster"
	"classattend/internal/session"
	"classattend/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var pub feed.Publisher
	if cfg.FeedBackend == "memory" {
		pub = feed.NewInMemory(64)
	} else {
		pub = feed.NewRedisFeed(redisClient.Client, "classattend:events")
	}

	repo := session.NewRepository(db.Client)
	dir := roster.NewRepository(db.Client)
	svc := session.NewService(repo, dir, pub, cfg.GracePeriod)
	reporter := session.NewReporter(repo, dir, redisClient.Client, cfg.SummaryCacheTTL)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/auth/token", func(c *gin.Context) {
		var req struct {
			UserID string `json:"user_id" binding:"required"`
			Role   string `json:"role" binding:"required,oneof=teacher student"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if _, err := dir.User(c.Request.Context(), req.UserID); err != nil {
			if errors.Is(err, roster.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "unknown user"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "user lookup failed"})
			return
		}
		tokens, err := auth.Issue(req.UserID, req.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	authGroup := r.Group("/v1", auth.UserAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	authGroup.POST("/sessions", func(c *gin.Context) {
		var req struct {
			ClassroomID    string            `json:"classroom_id" binding:"required"`
			TeacherID      string            `json:"teacher_id" binding:"required"`
			ScheduledStart time.Time         `json:"scheduled_start" binding:"required"`
			ScheduledEnd   time.Time         `json:"scheduled_end" binding:"required"`
			Geofence       *session.Geofence `json:"geofence"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if sub := claimsSubject(c); sub != "" && sub != req.TeacherID {
			c.JSON(http.StatusForbidden, gin.H{"error": "caller mismatch"})
			return
		}
		sess, err := svc.Create(c.Request.Context(), req.ClassroomID, req.TeacherID, req.ScheduledStart, req.ScheduledEnd, req.Geofence)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, sess)
	})

	transition := func(fn func(ctx context.Context, id string) (session.Session, error)) gin.HandlerFunc {
		return func(c *gin.Context) {
			sess, err := fn(c.Request.Context(), c.Param("id"))
			if err != nil {
				writeErr(c, err)
				return
			}
			c.JSON(http.StatusOK, sess)
		}
	}
	authGroup.POST("/sessions/:id/activate", transition(svc.Activate))
	authGroup.POST("/sessions/:id/close", transition(svc.Close))
	authGroup.POST("/sessions/:id/cancel", transition(svc.Cancel))

	authGroup.DELETE("/sessions/:id", func(c *gin.Context) {
		if err := svc.Remove(c.Request.Context(), c.Param("id")); err != nil {
			writeErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	authGroup.POST("/sessions/:id/checkins", func(c *gin.Context) {
		var req struct {
			UserID string   `json:"user_id" binding:"required"`
			Lat    *float64 `json:"lat"`
			Lon    *float64 `json:"lon"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if sub := claimsSubject(c); sub != "" && sub != req.UserID {
			c.JSON(http.StatusForbidden, gin.H{"error": "caller mismatch"})
			return
		}
		var loc *session.Location
		if req.Lat != nil && req.Lon != nil {
			loc = &session.Location{Lat: *req.Lat, Lon: *req.Lon}
		}
		rec, created, err := svc.CheckIn(c.Request.Context(), c.Param("id"), req.UserID, loc)
		if err != nil {
			writeErr(c, err)
			return
		}
		status := http.StatusCreated
		if !created {
			status = http.StatusOK
		}
		c.JSON(status, gin.H{"record": rec, "already_marked": !created})
	})

	authGroup.GET("/sessions/:id", func(c *gin.Context) {
		sess, err := svc.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, sess)
	})

	authGroup.GET("/sessions/:id/records", func(c *gin.Context) {
		id := c.Param("id")
		if _, err := svc.Get(c.Request.Context(), id); err != nil {
			writeErr(c, err)
			return
		}
		records, err := repo.ListRecords(c.Request.Context(), id)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	authGroup.GET("/sessions/:id/summary", func(c *gin.Context) {
		summary, err := reporter.SummaryByStatus(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"summary": summary})
	})

	authGroup.GET("/classrooms/:id/attendance-percentage", func(c *gin.Context) {
		percentages, err := reporter.AttendancePercentage(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"percentages": percentages})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

func claimsSubject(c *gin.Context) string {
	claimsAny, _ := c.Get("claims")
	claims, _ := claimsAny.(auth.Claims)
	return claims.Subject
}

// writeErr maps the engine's typed errors onto HTTP statuses; anything
// untyped is an internal error and never leaks storage details.
func writeErr(c *gin.Context, err error) {
	switch session.CodeOf(err) {
	case session.CodeNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case session.CodeInvalidState:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case session.CodeForbidden:
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case session.CodeInvalidArgument:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Printf("internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
