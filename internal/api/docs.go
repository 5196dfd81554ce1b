package api

import (
	_ "embed"
	"net/http"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openAPISpec []byte

var (
	openAPIJSONOnce sync.Once
	openAPIJSON     any
	openAPIJSONErr  error
)

// OpenAPIHandler serves the embedded OpenAPI document.
func (s *Server) OpenAPIHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openAPISpec)
}

// OpenAPIJSONHandler serves the same document converted to JSON for tools
// that do not read YAML.
func (s *Server) OpenAPIJSONHandler(w http.ResponseWriter, r *http.Request) {
	openAPIJSONOnce.Do(func() {
		var doc map[string]any
		openAPIJSONErr = yaml.Unmarshal(openAPISpec, &doc)
		openAPIJSON = doc
	})
	if openAPIJSONErr != nil {
		writeProblem(w, http.StatusInternalServerError, "OpenAPI not available", openAPIJSONErr.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, openAPIJSON)
}

// DocsHandler serves a minimal ReDoc page referencing /openapi.yaml
func (s *Server) DocsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`<!DOCTYPE html><html><head><title>zonedispatch API</title>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <script src="https://cdn.jsdelivr.net/npm/redoc@next/bundles/redoc.standalone.js"></script>
    </head><body>
    <redoc spec-url="/openapi.yaml"></redoc>
    </body></html>`))
}
