package main

import (
	"encoding/json"
	"net/http"

	interceptor "github.com/always-cache/resource-interceptor"
	"github.com/always-cache/resource-interceptor/cache"
	"github.com/always-cache/resource-interceptor/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type cachesResponse struct {
	Active string   `json:"active"`
	State  string   `json:"state,omitempty"`
	Caches []string `json:"caches"`
}

// adminRouter serves health, metrics and cache management.
// DELETE /caches/{name} removes a resource so that it is fetched from the network again.
// POST /register installs and activates a fresh version built by newVersion.
func adminRouter(reg *interceptor.Registration, storage cache.Storage, m *metrics.Metrics, newVersion func() *interceptor.Interceptor) http.Handler {
	router := chi.NewRouter()

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if reg.Active() == nil {
			http.Error(w, "no version in control", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})

	router.Handle("/metrics", m.Handler())

	router.Get("/caches", func(w http.ResponseWriter, r *http.Request) {
		keys, err := storage.Keys()
		if err != nil {
			log.Error().Err(err).Msg("Could not list caches")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		res := cachesResponse{Caches: keys}
		if active := reg.Active(); active != nil {
			res.Active = active.Version()
			res.State = active.State().String()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(res)
	})

	// DELETE /caches/{name}?url=/path removes one stored resource from a store
	router.Delete("/caches/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if !storage.Has(name) {
			http.Error(w, "no such cache", http.StatusNotFound)
			return
		}
		target := r.URL.Query().Get("url")
		if target == "" {
			http.Error(w, "url is required", http.StatusBadRequest)
			return
		}
		req, err := http.NewRequest(http.MethodGet, target, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		store, err := storage.Open(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		deleted, err := store.Delete(req)
		if err != nil {
			log.Error().Err(err).Str("cache", store.Name()).Msg("Could not delete cache entry")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !deleted {
			http.Error(w, "not cached", http.StatusNotFound)
			return
		}
		log.Info().Str("cache", store.Name()).Str("url", target).Msg("Cache entry deleted")
		w.WriteHeader(http.StatusNoContent)
	})

	router.Post("/register", func(w http.ResponseWriter, r *http.Request) {
		next := newVersion()
		if err := reg.Register(r.Context(), next); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.Write([]byte(next.Version()))
	})

	return router
}
