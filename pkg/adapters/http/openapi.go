package http

import (
	"fmt"
	"net/http"

	"github.com/aretw0/relay/api"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
)

// WithValidation rejects requests that do not match doc with 400.
// Paths doc does not describe, such as /metrics, are not checked.
func WithValidation(doc *openapi3.T) Option {
	return func(s *Server) {
		s.spec = doc
	}
}

// validator returns the validation middleware. A document that cannot be routed fails
// every request with 500 rather than serving unvalidated input.
func (s *Server) validator() func(http.Handler) http.Handler {
	router, err := legacy.NewRouter(s.spec)
	if err != nil {
		err = fmt.Errorf("failed to build OpenAPI router: %w", err)
		s.logger.Error("Request validation unavailable", "err", err)
		return func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			})
		}
	}
	return func(next http.Handler) http.Handler {
		return s.validateRequests(router, next)
	}
}

func (s *Server) validateRequests(router routers.Router, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, params, err := router.FindRoute(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		if r.ContentLength != 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
			if r.Header.Get("Content-Type") == "" {
				r.Header.Set("Content-Type", "application/json")
			}
		}
		input := &openapi3filter.RequestValidationInput{
			Request:    r,
			PathParams: params,
			Route:      route,
			Options: &openapi3filter.Options{
				AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
			},
		}
		if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
			s.logger.Warn("Request does not match OpenAPI spec", "method", r.Method, "path", r.URL.Path, "err", err)
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetSpec handles GET /openapi.yaml.
func (s *Server) GetSpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/yaml")
	if _, err := w.Write(api.Spec); err != nil {
		s.logger.Debug("Failed to write OpenAPI spec", "err", err)
	}
}

// GetSwagger handles GET /swagger.
func (s *Server) GetSwagger(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := w.Write([]byte(swaggerHTML)); err != nil {
		s.logger.Debug("Failed to write Swagger page", "err", err)
	}
}

const swaggerHTML = `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>Relay API Documentation</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui.css" />
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui-bundle.js" crossorigin></script>
<script>
    window.onload = () => {
    window.ui = SwaggerUIBundle({
        url: '/openapi.yaml',
        dom_id: '#swagger-ui',
    });
    };
</script>
</body>
</html>
`
