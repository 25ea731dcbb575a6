package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/renderinc/helpdesk-search/internal/document"
	"github.com/renderinc/helpdesk-search/internal/lock"
	"github.com/renderinc/helpdesk-search/internal/retrieval"
	"github.com/renderinc/helpdesk-search/internal/storage"
)

// errIngestDisabled is returned by the ingest routes when no upstream is configured
var errIngestDisabled = errors.New("ingestion is not configured")

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.WithError(err).Error("Health check failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status": "error",
			"error":  "document store unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleArticlesExist(w http.ResponseWriter, r *http.Request) {
	exists, err := s.store.TableExists(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

type listResponse struct {
	Articles []*document.Document `json:"articles"`
	Total    int                  `json:"total"`
}

func (s *Server) handleListArticles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, r, errInvalidRequest)
			return
		}
		limit = n
	}

	docs, err := s.store.List(r.Context(), storage.ListOptions{
		Category: q.Get("category"),
		Keyword:  q.Get("keyword"),
		Limit:    retrieval.ClampLimit(limit, retrieval.ListLimit),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []*document.Document{}
	}
	writeJSON(w, http.StatusOK, listResponse{Articles: docs, Total: len(docs)})
}

func (s *Server) handleGetArticle(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, r, errInvalidRequest)
		return
	}

	doc, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.store.Categories(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if cats == nil {
		cats = []document.CategoryCount{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": cats})
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// searchResult is a stored document with its relevance
type searchResult struct {
	*document.Document
	Rank float64 `json:"rank"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Limit < 0 {
		s.writeError(w, r, errInvalidRequest)
		return
	}

	matches, err := s.retrieval.Search(r.Context(), req.Query, req.Limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	results := make([]searchResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, searchResult{Document: m.Document, Rank: m.Score})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type askRequest struct {
	Question        string `json:"question"`
	ContextArticles int    `json:"context_articles"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	ans, err := s.answers.Answer(r.Context(), req.Question, req.ContextArticles)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

type migrateResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleMigrate(w http.ResponseWriter, r *http.Request) {
	release, err := s.locker.TryLock(r.Context(), lock.Maintenance, s.opts.MigrateTTL)
	if err != nil {
		status, msg := classify(err)
		writeJSON(w, status, migrateResponse{Error: msg})
		return
	}
	defer release()

	result, err := s.store.EnsureSchema(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Migration failed")
		writeJSON(w, http.StatusInternalServerError, migrateResponse{Error: "migration failed"})
		return
	}

	s.metrics.RecordSchema(result.String())
	if n, err := s.store.Count(r.Context()); err == nil {
		s.metrics.SetDocumentsStored(n)
	}
	entry := s.log.WithFields(logrus.Fields{"result": result.String()})
	message := "schema is up to date"
	switch result {
	case storage.SchemaCreated:
		message = "documents table created"
		entry.Info("Schema created")
	case storage.SchemaRecreated:
		message = "documents table recreated; existing documents were removed"
		entry.Warn("Schema recreated, stored documents were dropped")
	}
	writeJSON(w, http.StatusOK, migrateResponse{Success: true, Message: message, Result: result.String()})
}

func (s *Server) handleStartIngest(w http.ResponseWriter, r *http.Request) {
	if s.ingest == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: errIngestDisabled.Error(), RequestID: RequestID(r.Context())})
		return
	}
	if err := s.ingest.Start(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	if s.ingest == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: errIngestDisabled.Error(), RequestID: RequestID(r.Context())})
		return
	}
	writeJSON(w, http.StatusOK, s.ingest.Status())
}
