package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/text/language"

	"presenca/internal/auth"
	"presenca/internal/checkin"
	"presenca/internal/config"
	"presenca/internal/httpmiddleware"
	"presenca/internal/metrics"
	"presenca/internal/queue"
	"presenca/internal/report"
	"presenca/internal/rest"
	"presenca/internal/store"
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

// deps carries everything the router needs, so tests can assemble it from
// fakes without touching postgres or redis.
type deps struct {
	svc           *checkin.Service
	reports       *report.Engine
	authenticator auth.Authenticator
	q             queue.Queue
	loc           *time.Location
	limiter       *httpmiddleware.IPRateLimiter
	storeHealthy  func(context.Context) bool
	redisHealthy  func(context.Context) bool
	dailyCount    func(ctx context.Context, date string) (int64, error)
}

func runHTTP(cfg config.App) error {
	var (
		records      checkin.RecordStore
		configs      checkin.ConfigStore
		storeHealthy func(context.Context) bool
	)

	switch cfg.StoreBackend {
	case "rest":
		client := rest.New(cfg.RESTBaseURL, cfg.RESTAPIKey)
		records, configs = client, client
		storeHealthy = func(ctx context.Context) bool { return client.Health(ctx) == nil }
		log.Printf("using rest store backend: %s", cfg.RESTBaseURL)
	default:
		db, err := store.NewDB(context.Background(), cfg.DatabaseURL)
		if err != nil {
			if db == nil {
				return err
			}
			log.Printf("warning: db not reachable: %v", err)
		}
		defer func() {
			if db != nil {
				_ = db.Close()
			}
		}()
		repo := checkin.NewRepository(db.Client)
		records, configs = repo, repo
		storeHealthy = func(ctx context.Context) bool {
			return db.Client.PingContext(ctx) == nil
		}
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		// Single-process dev mode only: nothing consumes this queue when
		// the worker runs as its own binary.
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "presenca:checkins")
	}

	loc := cfg.Location()

	tag, err := language.Parse(cfg.Locale)
	if err != nil {
		log.Printf("invalid COLLATION_LOCALE %q, using pt-BR: %v", cfg.Locale, err)
		tag = language.BrazilianPortuguese
	}

	r := newRouter(cfg, deps{
		svc:           checkin.NewService(records, configs, loc),
		reports:       report.NewEngine(tag),
		authenticator: auth.NewStaticAuthenticator(cfg.InstructorUser, cfg.InstructorPass),
		q:             q,
		loc:           loc,
		limiter:       httpmiddleware.NewIPRateLimiter(cfg.RateLimitPerMin, cfg.RateLimitPerMin),
		storeHealthy:  storeHealthy,
		redisHealthy:  redisClient.Healthy,
		dailyCount:    redisClient.DailyCount,
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

	// Give outstanding requests 10 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// newRouter wires all routes and middleware onto a fresh gin engine.
func newRouter(cfg config.App, d deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		ctx := c.Request.Context()
		redisHealthy := d.redisHealthy(ctx)
		dbHealthy := d.storeHealthy(ctx)
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "store": dbHealthy})
	})

	// Public: whether check-ins are currently accepted. The form polls this
	// before rendering.
	r.GET("/v1/status", func(c *gin.Context) {
		conf := d.svc.GetConfig(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"checkin_enabled": conf.Accepting, "updated_at": conf.UpdatedAt})
	})

	r.POST("/v1/checkins", d.limiter.GinMiddleware(), func(c *gin.Context) {
		var req struct {
			FullName  string `json:"nome_completo" binding:"required"`
			Matricula string `json:"matricula" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		client := checkin.ClientInfo{
			IP:         c.ClientIP(),
			UserAgent:  c.Request.UserAgent(),
			DeviceHint: c.GetHeader("X-Device-Hint"),
		}

		rec, err := d.svc.Submit(c.Request.Context(), req.FullName, req.Matricula, client)
		if err != nil {
			status, msg, outcome := submitFailure(err)
			metrics.SubmissionsTotal.WithLabelValues(outcome).Inc()
			c.JSON(status, gin.H{"error": msg})
			return
		}
		metrics.SubmissionsTotal.WithLabelValues(metrics.OutcomeRegistered).Inc()

		// Stats are best-effort: a full or unreachable queue never fails
		// the submission.
		evt := queue.Event{RecordID: rec.ID, Date: rec.Date, Matricula: rec.Matricula}
		if err := d.q.Publish(c.Request.Context(), evt); err != nil {
			log.Printf("queue publish failed: %v", err)
		}

		c.JSON(http.StatusCreated, rec)
	})

	r.POST("/v1/instructor/login", func(c *gin.Context) {
		var req struct {
			Username string `json:"username" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !d.authenticator.Verify(req.Username, req.Password) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		tokens, err := auth.Issue(req.Username, auth.RoleInstructor, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	instructor := r.Group("/v1/instructor", auth.InstructorAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	instructor.GET("/records", func(c *gin.Context) {
		recs, err := d.svc.ListRecords(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
			return
		}

		window := windowFromQuery(c, d.loc)
		sortMode := report.Sort(c.DefaultQuery("sort", string(report.ByTimeDesc)))
		view := d.reports.View(recs, window, sortMode, c.Query("q"))
		c.JSON(http.StatusOK, gin.H{"records": view, "count": len(view)})
	})

	instructor.DELETE("/records/:id", func(c *gin.Context) {
		if err := d.svc.DeleteRecord(c.Request.Context(), c.Param("id")); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "delete failed"})
			return
		}
		metrics.RecordDeletes.Inc()
		c.Status(http.StatusNoContent)
	})

	instructor.GET("/config", func(c *gin.Context) {
		c.JSON(http.StatusOK, d.svc.GetConfig(c.Request.Context()))
	})

	instructor.PUT("/config", func(c *gin.Context) {
		var req struct {
			Accepting *bool `json:"checkin_enabled" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		actor := auth.RoleInstructor
		if claimsAny, ok := c.Get("claims"); ok {
			if claims, ok := claimsAny.(auth.Claims); ok && claims.Subject != "" {
				actor = claims.Subject
			}
		}
		conf, err := d.svc.SetConfig(c.Request.Context(), *req.Accepting, actor)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "config update failed"})
			return
		}
		metrics.ConfigToggles.WithLabelValues(strconv.FormatBool(conf.Accepting)).Inc()
		c.JSON(http.StatusOK, conf)
	})

	instructor.GET("/stats/today", func(c *gin.Context) {
		today := time.Now().In(d.loc).Format("2006-01-02")
		count, err := d.dailyCount(c.Request.Context(), today)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stats unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": today, "count": count})
	})

	return r
}

// submitFailure maps a Submit error to an HTTP status, a user-facing
// message, and a metrics outcome label.
func submitFailure(err error) (int, string, string) {
	var dup *checkin.DuplicateError
	switch {
	case errors.Is(err, checkin.ErrCheckinClosed):
		return http.StatusForbidden, "check-in is currently closed", metrics.OutcomeClosed
	case errors.Is(err, checkin.ErrInvalidName):
		return http.StatusUnprocessableEntity, "full name must contain at least two words", metrics.OutcomeInvalidName
	case errors.Is(err, checkin.ErrMissingIdentifier):
		return http.StatusUnprocessableEntity, "matricula is required", metrics.OutcomeMissingMatricula
	case errors.As(err, &dup):
		return http.StatusConflict, "already checked in today at " + dup.TimeLabel, metrics.OutcomeDuplicate
	default:
		return http.StatusServiceUnavailable, "storage unavailable, try again", metrics.OutcomeStorageError
	}
}

// windowFromQuery builds the reporting window from view/date/month/year
// query params, defaulting to today's day view.
func windowFromQuery(c *gin.Context, loc *time.Location) report.Window {
	now := time.Now().In(loc)
	switch c.DefaultQuery("view", report.ModeDay) {
	case report.ModeMonth:
		return report.Month(c.DefaultQuery("month", now.Format("2006-01")))
	case report.ModeYear:
		return report.Year(c.DefaultQuery("year", now.Format("2006")))
	default:
		return report.Day(c.DefaultQuery("date", now.Format("2006-01-02")))
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

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
