//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

// swaggerSpec is a minimal OpenAPI document registered with swag so the UI has
// something to serve before `swag init` output is generated into docs/.
const swaggerSpec = `{
  "swagger": "2.0",
  "info": {"title": "analyzerd API", "version": "1.0",
    "description": "Text analysis with adaptive engine lifecycle and result cache."},
  "basePath": "/",
  "paths": {
    "/analyze": {"post": {"summary": "Analyze text", "tags": ["analysis"]}},
    "/analyze-bulk": {"post": {"summary": "Analyze up to 50 texts", "tags": ["analysis"]}},
    "/stats": {"get": {"summary": "Service statistics", "tags": ["status"]}},
    "/kinds": {"get": {"summary": "Configured kinds", "tags": ["status"]}},
    "/admin/cache/clear": {"post": {"summary": "Drop all cached results", "tags": ["admin"]}},
    "/admin/loader/pause": {"post": {"summary": "Pause background loading", "tags": ["admin"]}},
    "/admin/loader/resume": {"post": {"summary": "Resume background loading", "tags": ["admin"]}},
    "/admin/evict/{kind}": {"post": {"summary": "Evict a loaded kind", "tags": ["admin"]}}
  }
}`

type staticDoc struct{}

func (staticDoc) ReadDoc() string { return swaggerSpec }

func init() {
	if _, err := swag.ReadDoc(); err != nil {
		swag.Register(swag.Name, staticDoc{})
	}
}

// MountSwagger serves the Swagger UI under /swagger/.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}
