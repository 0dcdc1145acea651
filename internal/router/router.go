package router

import (
	"net/http"

	"github.com/fogon-pos/api/internal/config"
	"github.com/fogon-pos/api/internal/database"
	"github.com/fogon-pos/api/internal/handler"
	mw "github.com/fogon-pos/api/internal/middleware"
	"github.com/fogon-pos/api/internal/service"
	"github.com/fogon-pos/api/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
)

// New creates a Chi router with all application routes wired up.
func New(cfg *config.Config, queries *database.Queries, pool *pgxpool.Pool, hub *ws.Hub) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","version":"1.0.0"}`))
	})

	// Auth routes (public)
	authHandler := handler.NewAuthHandler(queries, cfg.JWTSecret)
	authHandler.RegisterRoutes(r)

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/floor", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, cfg.JWTSecret, w, r)
	})

	// Services. Stores built through newStore closures so transactional code
	// paths get tx-scoped queries.
	orderService := service.NewOrderService(queries, pool, func(db database.DBTX) service.OrderStore {
		return database.New(db)
	})
	settlementService := service.NewSettlementService(pool, func(db database.DBTX) service.SettlementStore {
		return database.New(db)
	})
	smallBoxService := service.NewSmallBoxService(queries, pool, func(db database.DBTX) service.SmallBoxStore {
		return database.New(db)
	})
	occupancyService := service.NewOccupancyService(queries)

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		// Orders
		orderHandler := handler.NewOrderHandler(orderService, settlementService, queries, hub)
		r.Route("/orders", orderHandler.RegisterRoutes)

		// Tables (occupancy derived per request)
		tableHandler := handler.NewTableHandler(queries, occupancyService)
		r.Route("/tables", tableHandler.RegisterRoutes)

		// Cash register
		smallBoxHandler := handler.NewSmallBoxHandler(smallBoxService, queries, hub)
		r.Route("/smallbox", func(r chi.Router) {
			smallBoxHandler.RegisterRoutes(r)

			// Register deletion is an admin-only corrective action.
			r.Group(func(r chi.Router) {
				r.Use(mw.RequireRole("ADMIN"))
				smallBoxHandler.RegisterAdminRoutes(r)
			})
		})
	})

	return r
}
