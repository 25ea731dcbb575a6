// Package web serves the help center HTTP API
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/renderinc/helpdesk-search/internal/answer"
	"github.com/renderinc/helpdesk-search/internal/ingest"
	"github.com/renderinc/helpdesk-search/internal/lock"
	"github.com/renderinc/helpdesk-search/internal/metrics"
	"github.com/renderinc/helpdesk-search/internal/retrieval"
	"github.com/renderinc/helpdesk-search/internal/storage"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 10 << 20

// Options holds the collaborators of the Server. Ingest may be nil when no upstream is configured.
type Options struct {
	Store          storage.Store
	Retrieval      *retrieval.Engine
	Answers        *answer.Pipeline
	Ingest         *ingest.Coordinator
	Locker         lock.Locker
	Metrics        *metrics.Metrics
	AllowedOrigins []string
	RequestTimeout time.Duration
	MigrateTTL     time.Duration
}

type Server struct {
	store     storage.Store
	retrieval *retrieval.Engine
	answers   *answer.Pipeline
	ingest    *ingest.Coordinator
	locker    lock.Locker
	metrics   *metrics.Metrics
	opts      Options
	log       logrus.FieldLogger
}

func NewServer(opts Options, log logrus.FieldLogger) *Server {
	if opts.Locker == nil {
		opts.Locker = lock.NewLocal()
	}
	if opts.MigrateTTL <= 0 {
		opts.MigrateTTL = 10 * time.Minute
	}
	return &Server{
		store:     opts.Store,
		retrieval: opts.Retrieval,
		answers:   opts.Answers,
		ingest:    opts.Ingest,
		locker:    opts.Locker,
		metrics:   opts.Metrics,
		opts:      opts,
		log:       log.WithField("component", "web"),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Routes are served at the root and under /api
	for _, prefix := range []string{"", "/api"} {
		mux.HandleFunc("GET "+prefix+"/health", s.handleHealth)
		mux.HandleFunc("GET "+prefix+"/articles/exists", s.handleArticlesExist)
		mux.HandleFunc("GET "+prefix+"/articles", s.handleListArticles)
		mux.HandleFunc("GET "+prefix+"/articles/{id}", s.handleGetArticle)
		mux.HandleFunc("GET "+prefix+"/categories", s.handleCategories)
		mux.HandleFunc("POST "+prefix+"/search", s.handleSearch)
		mux.HandleFunc("POST "+prefix+"/ask", s.handleAsk)
		mux.HandleFunc("POST "+prefix+"/migrate", s.handleMigrate)
		mux.HandleFunc("POST "+prefix+"/ingest", s.handleStartIngest)
		mux.HandleFunc("GET "+prefix+"/ingest/status", s.handleIngestStatus)
	}
	mux.Handle("GET /metrics", s.metrics.Handler())

	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
	})

	return c.Handler(s.instrument(mux))
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request carrying ctx
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument assigns a request id, applies the request timeout and body limit, and logs and
// measures every request. The mux sets r.Pattern on the request passed here.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		if s.opts.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
			defer cancel()
		}
		r = r.WithContext(ctx)
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		s.metrics.RecordHTTPRequest(route, rec.status, elapsed)

		entry := s.log.WithFields(logrus.Fields{
			"request_id": id,
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"duration":   elapsed.Round(time.Microsecond).String(),
		})
		if rec.status >= http.StatusInternalServerError {
			entry.Warn("Request failed")
		} else {
			entry.Info("Request")
		}
	})
}
