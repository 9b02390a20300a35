package routes

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/volleylive/scoreboard/handlers"
)

func SetupRoutes(
	router *chi.Mux,
	matchHandler *handlers.MatchHandler,
	webSocketHandler *handlers.WebSocketHandler,
	allowedOrigins []string,
) {
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	router.Route("/matches", func(r chi.Router) {
		r.Get("/", matchHandler.ListMatchesHandler)
		r.Post("/", matchHandler.CreateMatchHandler)

		r.Route("/{matchID}", func(r chi.Router) {
			r.Get("/", matchHandler.GetMatchHandler)
			r.Delete("/", matchHandler.DeleteMatchHandler)

			r.Post("/points/{side}", matchHandler.AddPointHandler)
			r.Delete("/points/{side}", matchHandler.RemovePointHandler)
			r.Post("/swap", matchHandler.SwapTeamsHandler)
			r.Post("/end-set", matchHandler.EndSetHandler)
		})
	})

	router.Get("/ws", webSocketHandler.ServeGlobalWs)
	router.Get("/ws/matches/{matchID}", webSocketHandler.ServeMatchWs)
}
