// Package httpapi is the thin HTTP binder over the pipeline core: it owns
// none of the pipeline's state machine, only request parsing, response
// encoding, and mapping kinderrors.Kind onto HTTP status codes (spec.md §6,
// §7). Route registration follows the teacher's chi.Router service pattern.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"labpipe/internal/data"
	"labpipe/internal/domain"
	"labpipe/internal/kinderrors"
	"labpipe/internal/objectstore"
	"labpipe/internal/pipeline"
	"labpipe/internal/storegw"
)

const maxUploadBytes = 10 << 20 // 10 MB, per spec.md §6

// uploadRateLimit caps a single client to this many uploads per window,
// protecting the OCR/LLM pipeline from being flooded by one caller.
const (
	uploadRateLimitRequests = 20
	uploadRateLimitWindow   = time.Minute
)

// Server wires the six document routes onto a chi router.
type Server struct {
	store     *storegw.Store
	storage   objectstore.Gateway
	orch      *pipeline.Orchestrator
	sse       *pipeline.SSESerializer
	logger    *slog.Logger
	origins   []string
	uploadLim *rateLimiter
}

func New(store *storegw.Store, storage objectstore.Gateway, orch *pipeline.Orchestrator, sse *pipeline.SSESerializer, logger *slog.Logger, corsOrigins []string) *Server {
	return &Server{
		store:     store,
		storage:   storage,
		orch:      orch,
		sse:       sse,
		logger:    logger,
		origins:   corsOrigins,
		uploadLim: newRateLimiter(uploadRateLimitRequests, uploadRateLimitWindow),
	}
}

// Router builds the chi.Mux exposing /api/v1/documents/....
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(s.cors)

	r.Route("/api/v1/documents", func(r chi.Router) {
		r.With(s.uploadLim.middleware).Post("/upload", s.handleUpload)
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleGet)
		r.Delete("/{id}", s.handleDelete)
		r.Post("/{id}/retry", s.handleRetry)
		r.Get("/{id}/stream", s.handleStream)
	})

	return r
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.origins) == 0 {
		return true
	}
	for _, o := range s.origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// writeError maps a kinderrors.Kind to the HTTP status spec.md §7 requires.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind := kinderrors.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case kinderrors.InputInvalid:
		status = http.StatusBadRequest
	case kinderrors.NotFound:
		status = http.StatusNotFound
	case kinderrors.NotRetryable:
		status = http.StatusConflict
	case kinderrors.StorageUnavailable, kinderrors.RecordStoreUnavailable, kinderrors.LLMUnavailable:
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		logger.Error("unhandled error", "error", err)
	}

	message := err.Error()
	if kind != "" {
		message = string(kind) + ": " + message
	}
	http.Error(w, message, status)
}

func mimeKindFromContentType(contentType string) (domain.MimeKind, bool) {
	switch contentType {
	case "application/pdf":
		return domain.MimePDF, true
	case "image/png":
		return domain.MimePNG, true
	case "image/jpeg", "image/jpg":
		return domain.MimeJPEG, true
	default:
		return "", false
	}
}

// newDocumentID is a thin indirection so tests can stub id generation if ever needed.
func newDocumentID() string {
	return data.NewID().String()
}
