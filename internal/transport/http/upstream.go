package httptransport

import (
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	nethttputil "net/http/httputil"
	"net/url"

	"profilegate/internal/gate"
)

// NewUpstream returns the handler for requests the gate lets through. With a
// URL it reverse-proxies to the presentation app; without one it serves a
// placeholder page so the gate can run standalone.
func NewUpstream(rawURL string, logger *slog.Logger) (http.Handler, error) {
	if rawURL == "" {
		return placeholderHandler(), nil
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("upstream url %q must be absolute", rawURL)
	}

	proxy := &nethttputil.ReverseProxy{
		Rewrite: func(pr *nethttputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.ErrorContext(r.Context(), "upstream request failed",
				"path", r.URL.Path,
				"error", err,
			)
			w.WriteHeader(http.StatusBadGateway)
		},
	}
	return proxy, nil
}

var placeholderPage = template.Must(template.New("page").Parse(`<!doctype html>
<html><head><title>{{.Path}}</title></head>
<body><h1>{{.Path}}</h1><p>{{if .SignedIn}}Signed in{{else}}Signed out{{end}}</p></body></html>
`))

func placeholderHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = placeholderPage.Execute(w, struct {
			Path     string
			SignedIn bool
		}{
			Path:     r.URL.Path,
			SignedIn: gate.SessionFromContext(r.Context()) != nil,
		})
	})
}
