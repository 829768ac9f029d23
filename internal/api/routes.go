// Package api is the thin HTTP façade over the dispatch service: submit
// endpoints, task fetch, and the admin account surface.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"mjgate/internal/service"
	"mjgate/internal/store"
)

// Dependencies wires the handlers.
type Dependencies struct {
	Service   *service.Service
	Tasks     store.TaskStore
	Validator *Validator
	Log       *zap.Logger

	APISecret string
	JWTSecret string
}

// Routes builds the router.
func Routes(d Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestLogger(d.Log))

	r.Route("/mj", func(r chi.Router) {
		r.Use(SecretAuth(d.APISecret, d.Log))

		r.Route("/submit", func(r chi.Router) {
			r.Post("/imagine", d.submitImagine)
			r.Post("/show", d.submitShow)
			r.Post("/change", d.submitChange)
			r.Post("/describe", d.submitDescribe)
			r.Post("/shorten", d.submitShorten)
			r.Post("/blend", d.submitBlend)
			r.Post("/action", d.submitAction)
			r.Post("/modal", d.submitModal)
			r.Post("/video-extend", d.submitVideoExtend)
		})

		r.Route("/task", func(r chi.Router) {
			r.Get("/{id}/fetch", d.fetchTask)
			r.Get("/{id}/seed", d.taskSeed)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(JWTAuth(d.JWTSecret, d.Log))
		r.Post("/account/{channelId}/sync", d.accountSync)
		r.Post("/account/{channelId}/version", d.accountVersion)
		r.Post("/account/{channelId}/action", d.accountAction)
	})

	return r
}
