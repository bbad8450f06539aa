package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pbaille/deskorg/internal/tagstore"
	"github.com/sirupsen/logrus"
)

// Server exposes the tag store of one base directory over HTTP
type Server struct {
	store tagstore.Store
	base  string
	addr  string
	log   *logrus.Entry

	mu sync.RWMutex
}

// New creates a new API server. Relative paths in requests resolve against base.
func New(s tagstore.Store, base, addr string, log *logrus.Entry) *Server {
	return &Server{store: s, base: base, addr: addr, log: log}
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Tags
	mux.HandleFunc("GET /tags", s.listTags)
	mux.HandleFunc("GET /files/tags", s.fileTags)
	mux.HandleFunc("POST /files/tags", s.addTag)
	mux.HandleFunc("DELETE /files/tags", s.removeTag)

	// Search
	mux.HandleFunc("GET /search", s.search)

	// Health check
	mux.HandleFunc("GET /health", s.health)

	return withCORS(s.withLogging(mux))
}

// Run serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.addr).Info("starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// withCORS adds CORS headers for frontend development
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		h.ServeHTTP(w, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("request")
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// TagCount is one tag with the number of files carrying it
type TagCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func (s *Server) listTags(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	counts := s.store.AllTags()
	s.mu.RUnlock()

	tags := make([]TagCount, 0, len(counts))
	for name, n := range counts {
		tags = append(tags, TagCount{Name: name, Count: n})
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tags": tags,
	})
}

// FileTags is the tag set of one file
type FileTags struct {
	Path string   `json:"path"`
	Tags []string `json:"tags"`
}

func (s *Server) fileTags(w http.ResponseWriter, r *http.Request) {
	path, ok := s.resolve(r.URL.Query().Get("path"))
	if !ok {
		writeError(w, http.StatusBadRequest, "query parameter 'path' is required")
		return
	}

	s.mu.RLock()
	tags := s.store.ListTags(path)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, FileTags{Path: path, Tags: tags})
}

// TagRequest is the request body for adding or removing a tag
type TagRequest struct {
	Path string `json:"path"`
	Tag  string `json:"tag"`
}

func (s *Server) addTag(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, s.store.AddTag)
}

func (s *Server) removeTag(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, s.store.RemoveTag)
}

// mutate applies op and saves the store before answering
func (s *Server) mutate(w http.ResponseWriter, r *http.Request, op func(path, tag string) error) {
	var req TagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	path, ok := s.resolve(req.Path)
	if !ok || strings.TrimSpace(req.Tag) == "" {
		writeError(w, http.StatusBadRequest, "path and tag are required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Pick up tags written by other processes since the last request
	if err := s.store.Load(r.Context()); err != nil {
		s.log.WithError(err).Error("reload tags")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := op(path, req.Tag); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.Save(r.Context()); err != nil {
		s.log.WithError(err).Error("save tags")
		// drop the unsaved change so reads match the file
		if lerr := s.store.Load(context.WithoutCancel(r.Context())); lerr != nil {
			s.log.WithError(lerr).Error("reload tags")
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, FileTags{Path: path, Tags: s.store.ListTags(path)})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	if tag == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'tag' is required")
		return
	}

	s.mu.RLock()
	paths := s.store.SearchByTag(tag)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tag":   tag,
		"paths": paths,
	})
}

// resolve makes path absolute against the base directory
func (s *Server) resolve(path string) (string, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", false
	}
	return tagstore.Resolve(s.base, path), true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
