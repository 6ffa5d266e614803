package apiapp

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/avikhrest/coursea/backend/internal/config"
	accesssvc "github.com/avikhrest/coursea/backend/internal/services/access"
	analyticsvc "github.com/avikhrest/coursea/backend/internal/services/analytics"
	authsvc "github.com/avikhrest/coursea/backend/internal/services/auth"
	catalogsvc "github.com/avikhrest/coursea/backend/internal/services/catalog"
	purchasesvc "github.com/avikhrest/coursea/backend/internal/services/purchases"
	ratesvc "github.com/avikhrest/coursea/backend/internal/services/rate"
	"github.com/avikhrest/coursea/backend/internal/transport/http/handlers"
)

type Dependencies struct {
	AnalyticsService *analyticsvc.Service
	AccessService    *accesssvc.Service
	AuthService      *authsvc.Service
	CatalogService   *catalogsvc.Service
	PurchaseService  *purchasesvc.Service
	RateLimiter      *ratesvc.Limiter
	Logger           *zap.Logger
	Config           config.Config
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler()
	catalogHandler := handlers.NewCatalogHandler(deps.CatalogService)
	accessHandler := handlers.NewAccessHandler(deps.AccessService)
	purchaseHandler := handlers.NewPurchaseHandler(deps.PurchaseService, deps.AccessService)
	purchaseHandler.AttachLimiter(deps.RateLimiter)
	eventsHandler := handlers.NewEventsHandler(deps.AnalyticsService)
	authMW := AuthMiddleware(deps.AuthService, deps.Logger)

	r.Get("/healthz", healthHandler.Get)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/courses", catalogHandler.List)
		r.Get("/courses/{id}", catalogHandler.Get)
		r.With(authMW).Post("/checkout", purchaseHandler.Checkout)
		r.With(authMW).Get("/purchases", purchaseHandler.List)
		r.With(authMW).Get("/purchases/{id}", purchaseHandler.Get)
		r.With(authMW).Get("/access", accessHandler.List)
		r.With(authMW).Get("/access/{course_id}", accessHandler.Check)
		r.Post("/events/batch", eventsHandler.Batch)
	})
}
