// internal/handlers/server.go
package handlers

import (
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cinematch/cinematch/internal/auth"
	"github.com/cinematch/cinematch/internal/config"
	"github.com/cinematch/cinematch/internal/i18n"
	"github.com/cinematch/cinematch/internal/middleware"
	"github.com/cinematch/cinematch/internal/provider"
	"github.com/cinematch/cinematch/internal/room"
	"github.com/cinematch/cinematch/internal/session"
)

// Server wires the HTTP surface around one loaded configuration. A
// config reload tears the Server down and builds a fresh one.
type Server struct {
	cfg        *config.Config
	configPath string
	registry   *room.Registry
	providers  []provider.Provider
	tokens     *auth.TokenIssuer
	translator *i18n.Translator
	logger     *logrus.Logger

	// reload is closed-over by the setup flow; firing it asks main to
	// restart with the new config.
	reload func()
}

// NewServer assembles the handler dependencies.
func NewServer(cfg *config.Config, configPath string, providers []provider.Provider, logger *logrus.Logger, reload func()) (*Server, error) {
	tokens, err := auth.NewTokenIssuer()
	if err != nil {
		return nil, err
	}
	translator, err := i18n.New()
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:        cfg,
		configPath: configPath,
		registry:   room.NewRegistry(providers, cfg.MatchThreshold, logger),
		providers:  providers,
		tokens:     tokens,
		translator: translator,
		logger:     logger,
		reload:     reload,
	}, nil
}

// Registry exposes the room registry, mainly for tests.
func (s *Server) Registry() *room.Registry { return s.registry }

// Mux builds the route table. The websocket endpoint is not behind basic
// auth: clients authenticate in-protocol. With rootPath configured the
// whole table mounts under that prefix, for serving behind a
// path-rewriting reverse proxy.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	logged := middleware.LogMiddleware(s.logger)
	authed := BasicAuthMiddleware(s.cfg.BasicAuth)

	mux.Handle("/api/ws", logged(http.HandlerFunc(s.WSHandler())))
	mux.Handle("/api/poster/", logged(authed(http.HandlerFunc(s.PosterHandler()))))
	mux.Handle("/api/link/", logged(authed(http.HandlerFunc(s.LinkHandler()))))
	mux.Handle("/health", http.HandlerFunc(HealthHandler))
	mux.Handle("/", logged(authed(http.FileServer(http.Dir(s.cfg.StaticPath)))))

	if root := strings.Trim(s.cfg.RootPath, "/"); root != "" {
		outer := http.NewServeMux()
		outer.Handle("/"+root+"/", http.StripPrefix("/"+root, mux))
		return outer
	}
	return mux
}

// newSession builds the per-connection session with this server's
// collaborators.
func (s *Server) newSession() *session.Session {
	return session.New(session.Deps{
		Config:        s.cfg,
		ConfigPath:    s.configPath,
		Registry:      s.registry,
		Providers:     s.providers,
		Tokens:        s.tokens,
		Translator:    s.translator,
		RequestReload: s.reload,
	}, s.logger)
}

// providerByName resolves the {provider} URL segment for poster/link
// routes.
func (s *Server) providerByName(name string) (provider.Provider, bool) {
	for _, p := range s.providers {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// HealthHandler reports liveness.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
