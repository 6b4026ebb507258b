package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopsheet/shopsheet/internal/utils"
	"github.com/shopsheet/shopsheet/pkg/apply"
	"github.com/shopsheet/shopsheet/pkg/etsy"
	"github.com/shopsheet/shopsheet/pkg/preview"
	"github.com/shopsheet/shopsheet/pkg/storage"
)

// DefaultMaxUpload caps uploaded sheet size.
const DefaultMaxUpload = 32 << 20

// Server is the JSON API behind the dashboard.
type Server struct {
	Catalog etsy.Catalog
	Preview *preview.Engine
	Apply   *apply.Engine
	Store   storage.ProgressStore
	Audit   storage.AuditLog

	Username string
	Password string

	MaxUpload int64

	// applyMu allows a single apply run at a time.
	applyMu sync.Mutex
}

func New(cat etsy.Catalog, pe *preview.Engine, ae *apply.Engine, store storage.ProgressStore, audit storage.AuditLog, user, pass string) *Server {
	return &Server{
		Catalog:   cat,
		Preview:   pe,
		Apply:     ae,
		Store:     store,
		Audit:     audit,
		Username:  user,
		Password:  pass,
		MaxUpload: DefaultMaxUpload,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		if s.Username != "" || s.Password != "" {
			r.Use(middleware.BasicAuth("shopsheet", map[string]string{s.Username: s.Password}))
		}
		r.Post("/preview", s.handlePreview)
		r.Post("/apply", s.handleApply)
		r.Post("/backup", s.handleBackup)
		r.Get("/export", s.handleExport)
		r.Get("/progress", s.handleProgress)
		r.Get("/history", s.handleHistory)
	})
	return r
}

func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	utils.Log.Infof("Starting dashboard API on %s", addr)
	return srv.ListenAndServe()
}
