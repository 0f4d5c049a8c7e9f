// Package httpapi is the HTTP access layer: it authenticates requests by
// bearer session token, checks project ownership and translates service
// results into JSON responses.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/levelstore/internal/common"
	"github.com/dmitrijs2005/levelstore/internal/logging"
	"github.com/dmitrijs2005/levelstore/internal/server/auth"
	"github.com/dmitrijs2005/levelstore/internal/server/models"
	"github.com/dmitrijs2005/levelstore/internal/server/projects"
	"github.com/go-chi/chi/v5"
	chimid "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MaxSceneBytes bounds the size of an uploaded scene document.
const MaxSceneBytes = 32 << 20

const maxFormBytes = 64 << 10

type AuthService interface {
	Register(ctx context.Context, username, email, password string) (*models.User, error)
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
	Logout(ctx context.Context, token string) error
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

type ProjectService interface {
	Create(ctx context.Context, ownerID, title string) (*models.Project, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.Project, error)
	Get(ctx context.Context, uid string) (*models.Project, error)
	Rename(ctx context.Context, uid, title string) (*models.Project, error)
	Remove(ctx context.Context, uid string) error
	GetScene(ctx context.Context, uid string) (models.Scene, error)
	SaveScene(ctx context.Context, uid string, doc []byte) error
	GetBackups(ctx context.Context, uid string) ([]models.Backup, error)
	RevertToBackup(ctx context.Context, uid string, index int) (models.Scene, error)
}

var (
	_ AuthService    = (*auth.Service)(nil)
	_ ProjectService = (*projects.Service)(nil)
)

type RouterConfig struct {
	Auth     AuthService
	Projects ProjectService
	Logger   logging.Logger
	// Ready reports whether the server can take traffic; nil means always.
	Ready   func(ctx context.Context) error
	Metrics bool
}

type Server struct {
	auth     AuthService
	projects ProjectService
	logger   logging.Logger
	ready    func(ctx context.Context) error
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Server{
		auth:     cfg.Auth,
		projects: cfg.Projects,
		logger:   logger.With("module", "http"),
		ready:    cfg.Ready,
	}

	r := chi.NewRouter()
	r.Use(chimid.RequestID)
	r.Use(chimid.RealIP)
	r.Use(loggerMiddleware(s.logger))
	r.Use(chimid.Recoverer)
	if cfg.Metrics {
		r.Use(prometheusMiddleware)
	}

	r.Get("/healthz", s.health)
	if cfg.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(chimid.AllowContentType("application/json"))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.register)
			r.Post("/login", s.login)
			r.Group(func(r chi.Router) {
				r.Use(s.requireSession)
				r.Post("/logout", s.logout)
				r.Get("/me", s.me)
			})
		})

		r.Route("/projects", func(r chi.Router) {
			r.Use(s.requireSession)
			r.Get("/", s.listProjects)
			r.Post("/", s.createProject)

			r.Route("/{uid:[0-9a-f-]+}", func(r chi.Router) {
				r.Use(s.requireOwner)
				r.Get("/", s.getProject)
				r.Patch("/", s.renameProject)
				r.Delete("/", s.removeProject)
				r.Get("/scene", s.getScene)
				r.Put("/scene", s.saveScene)
				r.Get("/backups", s.getBackups)
				r.Post("/backups/{index:[0-9]+}/revert", s.revert)
			})
		})
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func isAbsent(err error) bool {
	return errors.Is(err, common.ErrorNotFound) || errors.Is(err, common.ErrorUnauthorized)
}

// decode reads a small JSON body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
