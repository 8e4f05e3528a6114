package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/gitmonke/go-video-summary/engine"
)

// NewRouter wires the Coordinator's external contract onto a mux.Router
// wrapped in permissive CORS, matching the glue surface's own route table.
func NewRouter(eng *engine.Engine, logger *slog.Logger) http.Handler {
	h := NewHandlers(eng, logger)

	r := mux.NewRouter()

	r.HandleFunc("/summary/start", h.Start).Methods("POST")
	r.HandleFunc("/summary/status/{taskId}", h.Status).Methods("GET")
	r.HandleFunc("/summary/get", h.Get).Methods("GET")
	r.HandleFunc("/summary/active", h.Active).Methods("GET")
	r.HandleFunc("/summary/versions", h.Versions).Methods("GET")
	r.HandleFunc("/summary/version", h.Version).Methods("GET")
	r.HandleFunc("/summary/delete/{videoPath}", h.Delete).Methods("DELETE")
	r.HandleFunc("/summary/stats", h.Stats).Methods("GET")
	r.HandleFunc("/ai-health", h.Health).Methods("GET")
	r.HandleFunc("/ai-model/pull", h.Pull).Methods("POST")

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	return c.Handler(r)
}
