package webapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"helmetgen/internal/metrics"
)

// multipart framing and the optional "n" field on top of the image itself
const multipartOverhead = 1 << 20

type Deps struct {
	Store    *Store
	Pipeline *Pipeline
	Metrics  *metrics.Registry
	// BlobHandler serves locally stored objects under /blobs/. Nil when
	// objects live elsewhere.
	BlobHandler    http.Handler
	Templates      fs.FS
	Static         fs.FS
	AllowedOrigins []string
	MaxUploadBytes int64
}

type Server struct {
	store          *Store
	pipeline       *Pipeline
	metrics        *metrics.Registry
	blobHandler    http.Handler
	templates      *template.Template
	staticFS       http.FileSystem
	allowedOrigins []string
	maxUploadBytes int64
}

func NewServer(deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Pipeline == nil {
		return nil, errors.New("webapp: store and pipeline are required")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewRegistry()
	}
	s := &Server{
		store:          deps.Store,
		pipeline:       deps.Pipeline,
		metrics:        deps.Metrics,
		blobHandler:    deps.BlobHandler,
		allowedOrigins: deps.AllowedOrigins,
		maxUploadBytes: deps.MaxUploadBytes,
	}
	if deps.Templates != nil {
		tmpl, err := loadTemplates(deps.Templates)
		if err != nil {
			return nil, err
		}
		s.templates = tmpl
	}
	if deps.Static != nil {
		s.staticFS = http.FS(deps.Static)
	}
	return s, nil
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
	}))

	r.Get("/", s.handleIndex)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	if s.staticFS != nil {
		r.Handle("/static/*", http.StripPrefix("/static/", s.staticHandler()))
	}
	if s.blobHandler != nil {
		r.Handle("/blobs/*", http.StripPrefix("/blobs", s.blobHandler))
	}

	api := func(r chi.Router) {
		r.Get("/feed", s.handleFeed)
		r.Get("/stats", s.handleStats)
		r.Post("/generate", s.handleGenerate)
	}
	api(r)
	r.Route("/api", api)
	return r
}

func (s *Server) origins() []string {
	if len(s.allowedOrigins) == 0 {
		return []string{"*"}
	}
	return s.allowedOrigins
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.templates == nil {
		http.NotFound(w, r)
		return
	}
	ctx := r.Context()
	total, err := s.store.Total(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("index: read total failed")
	}
	items, err := s.store.ListRecent(ctx, DefaultFeedLimit)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("index: read feed failed")
	}
	s.render(w, "index", PageData{
		Title:          "Helmet up",
		Total:          total,
		Digits:         counterDigits(total),
		Feed:           items,
		MaxUploadBytes: s.maxUploadBytes,
		FeedLimit:      DefaultFeedLimit,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.writeError(w, r, newError(KindPersistence, "Database unavailable", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	limit := FeedLimit(r.URL.Query().Get("limit"))
	items, err := s.store.ListRecent(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, newError(KindPersistence, "Failed to read feed", err))
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, FeedResponse{Items: items})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	total, err := s.store.Total(r.Context())
	if err != nil {
		s.writeError(w, r, newError(KindPersistence, "Failed to read stats", err))
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, StatsResponse{Total: total})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartOverhead)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		if isBodyTooLarge(err) {
			s.writeError(w, r, invalidInput("Image too large"))
			return
		}
		s.writeError(w, r, &Error{Kind: KindInvalidInput, Message: "Invalid multipart form", Detail: err.Error()})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeError(w, r, invalidInput("No image provided"))
		return
	}
	defer file.Close()
	if s.maxUploadBytes > 0 && header.Size > s.maxUploadBytes {
		s.writeError(w, r, &Error{
			Kind:    KindInvalidInput,
			Message: "Image too large",
			Detail:  fmt.Sprintf("%d bytes exceeds the %d byte limit", header.Size, s.maxUploadBytes),
		})
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, &Error{Kind: KindInvalidInput, Message: "Failed to read image", Detail: err.Error()})
		return
	}

	urls, err := s.pipeline.Generate(r.Context(), GenerationRequest{
		Image:       data,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Count:       s.pipeline.VariantCount(r.FormValue("n")),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, GenerateResponse{Images: urls})
}

// FeedLimit resolves the raw "limit" query value into [1, MaxFeedLimit].
func FeedLimit(raw string) int {
	return clampParam(raw, DefaultFeedLimit, 1, MaxFeedLimit)
}

func counterDigits(total int64) []string {
	s := fmt.Sprintf("%03d", total)
	s = s[len(s)-3:]
	return strings.Split(s, "")
}

func isBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large")
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := asError(err)
	status := e.Status()
	logger := zerolog.Ctx(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error().Str("kind", string(e.Kind)).Str("detail", e.Detail).Msg(e.Message)
	} else {
		logger.Warn().Str("kind", string(e.Kind)).Str("detail", e.Detail).Msg(e.Message)
	}
	s.metrics.Inc(r.Context(), "request_errors_total", map[string]string{"kind": string(e.Kind)}, 1)
	writeJSON(w, status, e.Response())
}

func (s *Server) staticHandler() http.Handler {
	fileServer := http.FileServer(s.staticFS)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") || r.URL.Path == "" {
			http.NotFound(w, r)
			return
		}
		switch path.Ext(r.URL.Path) {
		case ".js", ".css":
			w.Header().Set("Cache-Control", "public, max-age=300")
		}
		fileServer.ServeHTTP(w, r)
	})
}

func (s *Server) render(w http.ResponseWriter, page string, data PageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, "base", map[string]any{
		"Page": page,
		"Data": data,
	}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func loadTemplates(root fs.FS) (*template.Template, error) {
	funcs := template.FuncMap{
		"fmtTime": func(t time.Time) string {
			if t.IsZero() {
				return "-"
			}
			return t.Local().Format("2006-01-02 15:04:05")
		},
	}
	tmpl := template.New("base").Funcs(funcs)
	err := fs.WalkDir(root, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != ".html" {
			return nil
		}
		_, parseErr := tmpl.ParseFS(root, p)
		return parseErr
	})
	if err != nil {
		return nil, err
	}
	if tmpl.Lookup("base") == nil {
		return nil, errors.New("missing base template")
	}
	return tmpl, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
