package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/certman/internal/metrics"
	"github.com/hitoshi/certman/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	StatusRecorder    middleware.StatusRecorder

	// ドメイン登録簿
	DomainService DomainServiceInterface

	// WHOIS
	WhoisClient     WhoisLookuper
	DomainValidator DomainValidator

	// 運用
	HealthChecker HealthChecker
	Gatherer      prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RequestID → Logging → SecurityHeaders → CORS → Metrics → RateLimit(General)
//
// /health と /metrics はレート制限の外に配置する。
// RateLimiterがnilの場合はレート制限を行わない。リミッターの停止は呼び出し側が行う。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	general, registration := passThrough, passThrough
	if deps.RateLimiter != nil {
		general = deps.RateLimiter.GeneralMiddleware()
		registration = deps.RateLimiter.RegistrationMiddleware()
	}
	var recorder middleware.StatusRecorder = metrics.Nop{}
	if deps.StatusRecorder != nil {
		recorder = deps.StatusRecorder
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewMetricsMiddleware(recorder))

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	domainHandler := NewDomainHandler(deps.DomainService)

	r.Group(func(r chi.Router) {
		r.Use(general)

		// ドメイン登録簿
		r.Route("/api/domains", func(r chi.Router) {
			r.Get("/", domainHandler.ListDomains)
			// POST /api/domains - 登録（登録専用レート制限を追加）
			r.With(registration).Post("/", domainHandler.AddDomain)
			r.Delete("/{domain}", domainHandler.RemoveDomain)
		})

		r.With(registration).Post("/api/check", domainHandler.CheckDomain)

		if deps.WhoisClient != nil {
			whoisHandler := NewWhoisHandler(deps.WhoisClient, deps.DomainValidator)
			r.Get("/api/whois/{domain}", whoisHandler.Lookup)
		}
	})

	return r
}

func passThrough(next http.Handler) http.Handler {
	return next
}
