// Package api is the HTTP surface of the lead intake service.
package api

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/osr-alliance/backend-lead-intake/store"
)

type Config struct {
	Store  store.Store
	Logger *logrus.Logger

	// AllowedOrigins for CORS; "*" allows any origin. Empty disables CORS headers.
	AllowedOrigins []string
}

// NewHandler returns the service's routes wrapped in request id, logging, panic recovery and CORS.
func NewHandler(conf *Config) http.Handler {
	log := conf.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	l := newLeads(conf.Store)

	router := mux.NewRouter()
	router.HandleFunc("/leads", l.Create).Methods(http.MethodPost)
	router.HandleFunc("/leads", l.List).Methods(http.MethodGet)
	router.HandleFunc("/leads/{id:[0-9]+}", l.Get).Methods(http.MethodGet)
	router.HandleFunc("/health", Health).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	var h http.Handler = router
	if len(conf.AllowedOrigins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(conf.AllowedOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Content-Type", requestIDHeader}),
			handlers.ExposedHeaders([]string{requestIDHeader}),
		)(h)
	}
	h = recovery(h)
	h = logRequests(log)(h)
	h = requestID(h)

	return h
}
