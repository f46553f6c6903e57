package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"aegis/pkg/anchor"
	"aegis/pkg/audit"
	"aegis/pkg/config"
	"aegis/pkg/filters"
	"aegis/pkg/gateway"
	"aegis/pkg/hardening"
	"aegis/pkg/httpx"
	"aegis/pkg/metrics"
	"aegis/pkg/models"
	"aegis/pkg/providers"
	"aegis/pkg/ratelimit"
	"aegis/pkg/session"
	"aegis/pkg/store"
	"aegis/pkg/stream"
	"aegis/pkg/telemetry"
	"aegis/pkg/trust"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

// Server owns the long-lived gateway state. Everything is constructed once
// in runGateway and shared by reference into the request handlers; no
// handler instantiates spine state on its own.
type Server struct {
	Config   config.Config
	Pipeline *gateway.Pipeline
	Audit    *audit.Log
	Sessions *session.Manager
	Trust    *trust.System
	Limiter  ratelimit.Checker
	Router   *providers.StaticRouter
	Metrics  *metrics.Registry
	Events   *stream.Hub
	Archive  *audit.PostgresArchive

	MaxRequestBodyBytes int64
}

type initTelemetryFunc func(ctx context.Context, service string) (func(context.Context) error, error)
type openRedisFunc func(ctx context.Context) (*redis.Client, error)
type openArchiveFunc func(ctx context.Context) (*audit.PostgresArchive, error)
type listenFunc func(server *http.Server) error
type startLoopsFunc func(ctx context.Context, s *Server)

// Testable variables for main()
var (
	logFatalf     = log.Fatalf
	initTelemetry = telemetry.Init
	openRedisFn   = store.NewRedis
	openArchiveFn = func(ctx context.Context) (*audit.PostgresArchive, error) {
		pool, err := store.NewPostgresPool(ctx)
		if err != nil {
			return nil, err
		}
		return &audit.PostgresArchive{DB: pool}, nil
	}
	listenFn     = func(server *http.Server) error { return server.ListenAndServe() }
	startLoopsFn = func(ctx context.Context, s *Server) {
		go s.sessionCleanupLoop(ctx)
		go s.metricsLoop(ctx)
		if s.Config.Anchor.BaseURL != "" {
			poller := &anchor.Poller{
				Source:   &anchor.HTTPSource{BaseURL: s.Config.Anchor.BaseURL, Client: telemetry.InstrumentClient(&http.Client{Timeout: 10 * time.Second})},
				Interval: s.Config.AnchorInterval(),
				OnUpdate: s.applyAnchor,
			}
			go poller.Run(ctx)
		}
	}
)

func main() {
	configPath := flag.String("config", env("AEGIS_CONFIG", ""), "path to YAML config")
	flag.Parse()
	if err := runGateway(*configPath, initTelemetry, openRedisFn, openArchiveFn, listenFn, startLoopsFn); err != nil {
		logFatalf("gateway: %v", err)
	}
}

func runGateway(
	configPath string,
	initTelemetry initTelemetryFunc,
	openRedis openRedisFunc,
	openArchive openArchiveFunc,
	listen listenFunc,
	startLoops startLoopsFunc,
) error {
	ctx := context.Background()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	shutdown, err := initTelemetry(ctx, "aegis-gateway")
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := hardening.ValidateProduction(hardening.Options{
		Service:              "gateway",
		Environment:          env("ENVIRONMENT", env("APP_ENV", "")),
		StrictProdSecurity:   env("STRICT_PROD_SECURITY", "true"),
		DatabaseEnabled:      cfg.UsePostgres,
		DatabaseRequireTLS:   env("AEGIS_DATABASE_REQUIRE_TLS", ""),
		RedisAddr:            env("AEGIS_REDIS_ADDR", ""),
		RedisRequireTLS:      env("AEGIS_REDIS_REQUIRE_TLS", ""),
		RedisTLSSkipVerify:   env("AEGIS_REDIS_TLS_SKIP_VERIFY", ""),
		AllowedOrigins:       cfg.AllowedOrigins,
		AdminToken:           cfg.AdminToken,
		AuthTokensConfigured: len(cfg.AuthTokens) > 0,
	}); err != nil {
		return err
	}

	s, err := buildServer(ctx, cfg, openRedis, openArchive)
	if err != nil {
		return err
	}

	if startLoops != nil {
		startLoops(ctx, s)
	}

	log.Printf("gateway listening on %s", cfg.ListenAddr)
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 60),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	if listen == nil {
		return errors.New("listen function required")
	}
	return listen(server)
}

func buildServer(ctx context.Context, cfg config.Config, openRedis openRedisFunc, openArchive openArchiveFunc) (*Server, error) {
	var redisClient *redis.Client
	if cfg.UseRedis {
		client, err := openRedis(ctx)
		if err != nil {
			log.Printf("redis unavailable, using in-memory buckets and cache: %v", err)
		} else {
			redisClient = client
		}
	}

	auditOpts := []audit.Option{audit.WithCapacity(cfg.AuditCapacity)}
	var archive *audit.PostgresArchive
	if cfg.UsePostgres && openArchive != nil {
		a, err := openArchive(ctx)
		if err != nil {
			return nil, fmt.Errorf("audit archive: %w", err)
		}
		if err := a.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("audit archive migrate: %w", err)
		}
		archive = a
		auditOpts = append(auditOpts, audit.WithSink(a))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := audit.NewKafkaPublisher(audit.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		if err != nil {
			return nil, fmt.Errorf("kafka publisher: %w", err)
		}
		auditOpts = append(auditOpts, audit.WithSink(pub))
	}

	auditLog := audit.NewLog(auditOpts...)
	sessions := session.NewManager()
	sessions.SetTimeout(cfg.SessionTimeout())
	trustSys := trust.NewSystem()
	trustSys.SetDecayRate(cfg.TrustDecayRate)

	var limiter ratelimit.Checker
	if redisClient != nil {
		limiter = ratelimit.NewRedisLimiter(redisClient, cfg.Layers())
	} else {
		limiter = ratelimit.NewLimiter(cfg.Layers())
	}

	router := providers.NewStaticRouter()
	client := telemetry.InstrumentClient(&http.Client{Timeout: time.Millisecond * time.Duration(envInt("UPSTREAM_TIMEOUT_MS", 30000))})
	for _, pc := range cfg.Providers {
		router.Register(&providers.HTTPProvider{
			ProviderName: pc.Name,
			BaseURL:      strings.TrimRight(pc.BaseURL, "/"),
			APIKey:       env(pc.APIKeyEnv, ""),
			Model:        pc.Model,
			Client:       client,
			Retries:      envInt("UPSTREAM_RETRIES", 1),
			RetryDelay:   time.Millisecond * time.Duration(envInt("UPSTREAM_RETRY_DELAY_MS", 100)),
		})
	}

	cache := store.NewCache(ctx, redisClient)
	inputFilters := []gateway.InputFilter{
		filters.NewReplayFilter(cache, cfg.ReplayTTL()),
	}
	if len(cfg.AuthTokens) > 0 {
		inputFilters = append(inputFilters, filters.NewAuthFilter(cfg.AuthTokens, trustSys))
	}
	if len(cfg.BlockedTerms) > 0 {
		inputFilters = append(inputFilters, filters.NewBlocklistFilter(cfg.BlockedTerms))
	}
	if cfg.MaxPromptChars > 0 {
		inputFilters = append(inputFilters, &filters.LengthCapFilter{MaxChars: cfg.MaxPromptChars})
	}
	outputFilters := []gateway.OutputFilter{filters.EmptyResponseFilter{}}
	if len(cfg.RedactSecrets) > 0 {
		outputFilters = append(outputFilters, &filters.RedactFilter{Secrets: cfg.RedactSecrets})
	}

	reg := metrics.NewRegistry()
	hub := stream.NewHub()
	s := &Server{
		Config:   cfg,
		Audit:    auditLog,
		Sessions: sessions,
		Trust:    trustSys,
		Limiter:  limiter,
		Router:   router,
		Metrics:  reg,
		Events:   hub,
		Archive:  archive,
		Pipeline: &gateway.Pipeline{
			Audit:             auditLog,
			Sessions:          sessions,
			Limiter:           limiter,
			Router:            router,
			InputFilters:      inputFilters,
			OutputFilters:     outputFilters,
			Metrics:           reg,
			Events:            hub,
			CostPerKiloTokens: cfg.CostPerKiloTokens,
		},
		MaxRequestBodyBytes: int64(envInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
	}
	// Trust gating of the pipeline is opt-in: with no auth tokens
	// configured, admission stays open and trust is tracked but not
	// enforced.
	if len(cfg.AuthTokens) > 0 {
		s.Pipeline.Trust = trustSys
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(strings.Join(s.Config.AllowedOrigins, ",")))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(telemetry.HTTPMiddleware("aegis-gateway"))
	r.Use(s.limitRequestBodyMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, 200, map[string]string{"status": "ok", "service": "gateway"})
	})
	r.Get("/metrics", s.Metrics.Handler())
	r.Get("/metrics/prometheus", s.Metrics.PrometheusHandler())

	r.Post("/v1/complete", s.handleComplete)
	r.Post("/v1/sessions", s.createSession)
	r.Get("/v1/sessions/{session_id}", s.getSession)
	r.Post("/v1/sessions/{session_id}/end", s.endSession)
	r.Get("/v1/sessions/{session_id}/verify", s.verifySession)
	r.Get("/v1/audit/export", s.exportAudit)
	r.Get("/v1/audit/verify", s.verifyAudit)
	r.Get("/v1/trust/{entity}", s.getTrust)
	r.Get("/v1/providers", s.listProviders)
	r.Get("/v1/events", s.streamEvents)
	r.Get("/v1/limits", s.limitStats)

	r.Group(func(admin chi.Router) {
		admin.Use(s.adminOnly)
		admin.Post("/v1/anchor", s.setAnchor)
		admin.Post("/v1/trust/{entity}/violation", s.recordViolation)
		admin.Post("/v1/trust/{entity}/positive", s.recordPositive)
		admin.Post("/v1/providers/{provider}/health", s.setProviderHealth)
		admin.Get("/v1/audit/history/verify", s.verifyHistory)
	})
	return r
}

// applyAnchor propagates a fresh block anchor to the audit chain and
// publishes it to stream subscribers.
func (s *Server) applyAnchor(a *models.BTCAnchor) {
	if err := s.Audit.SetAnchor(a.Height, a.Hash); err != nil {
		log.Printf("anchor rejected: %v", err)
		return
	}
	s.Metrics.SetGauge("anchor_height", float64(a.Height))
	s.Events.Publish(stream.NewEvent(stream.EventAnchorUpdated, a))
}

func (s *Server) sessionCleanupLoop(ctx context.Context) {
	interval := envDurationSec("SESSION_CLEANUP_INTERVAL_SEC", 60)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sessions.CleanupExpired(); n > 0 {
				log.Printf("expired %d idle sessions", n)
			}
		}
	}
}

func (s *Server) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	s.updateOperationalMetrics()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.updateOperationalMetrics()
		}
	}
}

func (s *Server) updateOperationalMetrics() {
	s.Metrics.SetGauge("sessions_active", float64(s.Sessions.Len()))
	s.Metrics.SetGauge("audit_entries", float64(s.Audit.Len()))
	stats := s.Limiter.Stats()
	s.Metrics.SetGauge("rate_allowed_total", float64(stats.Allowed))
	s.Metrics.SetGauge("rate_rejected_total", float64(stats.Rejected))
	s.Metrics.SetGauge("cost_recorded_total", stats.TotalCost)
	s.Metrics.SetGauge("stream_subscribers", float64(s.Events.Len()))
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: 200}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		path := r.Method + " " + r.URL.Path
		s.Metrics.Observe(path, rec.code, elapsed)
		s.Metrics.Histograms.ObserveDuration("http", elapsed)
	})
}

func (s *Server) limitRequestBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.MaxRequestBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// adminOnly gates mutating control-plane routes behind the static admin
// bearer token. With no token configured every admin route is refused.
func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Config.AdminToken == "" {
			httpx.Error(w, http.StatusForbidden, "admin routes disabled")
			return
		}
		if bearerToken(r) != s.Config.AdminToken {
			httpx.Error(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func env(k, def string) string {
	if k == "" {
		return def
	}
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}
