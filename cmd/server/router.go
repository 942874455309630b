package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pagelift/pagelift-api/internal/api"
)

// setupRouter builds the HTTP routing table.
func setupRouter(tasks *api.TaskHandler, ws *api.WSHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", tasks.CreateTask)
			r.Get("/", tasks.ListTasks)
			r.Get("/queue/status", tasks.QueueStatus)
			r.Get("/ws", ws.Subscribe)
			r.Get("/{id}", tasks.GetTask)
			r.Post("/{id}/retry", tasks.RetryTask)
			r.Post("/{id}/cancel", tasks.CancelTask)
			r.Delete("/{id}", tasks.DeleteTask)
		})
	})

	return r
}
