package handlers

import (
	"bytes"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"toll-plaza/internal/auth"
	"toll-plaza/internal/storage"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// SessionConfig controls how session cookies are issued.
type SessionConfig struct {
	Secret   string
	Duration time.Duration
	Secure   bool
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	db              *storage.DB
	signer          *auth.Signer
	templates       fs.FS
	logger          *zap.Logger
	secureCookie    bool
	sessionDuration time.Duration
	validate        *validator.Validate
}

// NewHandlers creates a new Handlers instance. templates must contain
// base.html and one file per view at its root.
func NewHandlers(db *storage.DB, templates fs.FS, logger *zap.Logger, sc SessionConfig) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		db:              db,
		signer:          auth.NewSigner(sc.Secret),
		templates:       templates,
		logger:          logger,
		secureCookie:    sc.Secure,
		sessionDuration: sc.Duration,
		validate:        newValidator(),
	}
}

// Index renders the landing page.
func (h *Handlers) Index(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "index.html", nil)
}

func (h *Handlers) render(w http.ResponseWriter, r *http.Request, viewName string, data any) {
	h.renderStatus(w, r, http.StatusOK, viewName, data)
}

// renderStatus executes the view into a buffer first so a template failure
// can still answer 500 instead of a half-written page.
func (h *Handlers) renderStatus(w http.ResponseWriter, r *http.Request, status int, viewName string, data any) {
	tmpl, err := template.ParseFS(h.templates, "base.html", viewName)
	if err != nil {
		h.logger.Error("parse template", zap.String("view", viewName), zap.Error(err))
		http.Error(w, "Template error", http.StatusInternalServerError)
		return
	}
	target := "base.html"
	if r.Header.Get("HX-Request") == "true" {
		target = "content"
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, target, data); err != nil {
		h.logger.Error("execute template", zap.String("view", viewName), zap.Error(err))
		http.Error(w, "Template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Debug("write response", zap.Error(err))
	}
}
