package middleware

import (
	"net/http"

	"github.com/go-chi/cors"

	"pipeline-crm-backend/pkg/config"
)

// CORS builds the CORS middleware from the allowed origins. Credentials are
// only allowed for an explicit origin list, since the session travels in a
// cookie.
func CORS(cfg *config.Config) func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-Requested-With",
			"Cache-Control",
			"Last-Event-ID",
		},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}

	if len(cfg.AllowedOrigins) == 0 || containsWildcard(cfg.AllowedOrigins) {
		opts.AllowedOrigins = []string{"*"}
		opts.AllowCredentials = false
	} else {
		opts.AllowCredentials = true
	}
	return cors.Handler(opts)
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
