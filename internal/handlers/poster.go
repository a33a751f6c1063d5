// internal/handlers/poster.go
package handlers

import (
	"io"
	"net/http"
	"strconv"
	"strings"
)

// PosterHandler proxies artwork from a provider:
// GET /api/poster/{provider}/{key}?width=600
func (s *Server) PosterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerName, key, ok := splitProviderKey(r.URL.Path, "/api/poster/")
		if !ok {
			http.Error(w, "missing provider or key", http.StatusBadRequest)
			return
		}

		p, ok := s.providerByName(providerName)
		if !ok {
			http.Error(w, "invalid provider", http.StatusNotFound)
			return
		}

		width := 600
		if raw := r.URL.Query().Get("width"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				width = parsed
			}
		}

		body, headers, err := p.GetArtwork(r.Context(), key, width)
		if err != nil {
			s.logger.WithField("error", err).Warn("artwork fetch failed")
			http.Error(w, "failed to fetch artwork", http.StatusInternalServerError)
			return
		}
		defer body.Close()

		for name, values := range headers {
			for _, v := range values {
				w.Header().Add(name, v)
			}
		}
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, body); err != nil {
			s.logger.WithField("error", err).Debug("artwork stream interrupted")
		}
	}
}

// LinkHandler redirects to a provider's canonical URL for a media key:
// GET /api/link/{provider}/{key}
func (s *Server) LinkHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerName, key, ok := splitProviderKey(r.URL.Path, "/api/link/")
		if !ok {
			http.Error(w, "missing provider or key", http.StatusBadRequest)
			return
		}

		p, ok := s.providerByName(providerName)
		if !ok {
			http.Error(w, "invalid provider", http.StatusNotFound)
			return
		}

		url, err := p.GetCanonicalURL(r.Context(), key)
		if err != nil {
			s.logger.WithField("error", err).Warn("canonical link lookup failed")
			http.Error(w, "link not found", http.StatusNotFound)
			return
		}
		http.Redirect(w, r, url, http.StatusFound)
	}
}

// splitProviderKey parses "{prefix}{provider}/{key...}" path segments.
func splitProviderKey(path, prefix string) (providerName, key string, ok bool) {
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
