package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/DanielEskinazi/pointing-poker-sub001/internal/auth"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/engine"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/repository"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/store"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/transport/rest/handler"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/transport/ws"
)

// Container holds all dependencies for the router.
type Container struct {
	Sessions repository.SessionRepo
	Players  repository.PlayerRepo
	State    *store.StateStore
	Auth     *auth.Service
	Engine   *engine.Engine
	Hub      *ws.Hub
}

// NewRouter creates the API router with all endpoints.
func NewRouter(c *Container) http.Handler {
	r := mux.NewRouter()

	sessionHandler := handler.NewSessionHandler(c.Sessions, c.Players, c.State, c.Auth, c.Engine)
	wsHandler := ws.NewHandler(c.Hub, c.Engine, c.Sessions)

	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/sessions", sessionHandler.Create).Methods("POST", "OPTIONS")
	v1.HandleFunc("/sessions/{id}", sessionHandler.Get).Methods("GET", "OPTIONS")
	v1.HandleFunc("/sessions/{id}", sessionHandler.End).Methods("DELETE", "OPTIONS")
	v1.HandleFunc("/sessions/{id}/join", sessionHandler.Join).Methods("POST", "OPTIONS")

	// WebSocket route (token optional, in query param)
	v1.HandleFunc("/ws/sessions/{id}", wsHandler.ServeWS).Methods("GET")

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}).Handler(r)
}
