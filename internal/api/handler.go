package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/gonkalabs/pii-sentinel/internal/audit"
	"github.com/gonkalabs/pii-sentinel/internal/classify"
	"github.com/gonkalabs/pii-sentinel/internal/gate"
	"github.com/gonkalabs/pii-sentinel/internal/parse"
	"github.com/gonkalabs/pii-sentinel/internal/pipeline"
)

// DefaultMaxUploadBytes caps an upload when Options.MaxUploadBytes is zero.
const DefaultMaxUploadBytes = 32 << 20

// Scanner runs one upload. *pipeline.Scanner implements it.
type Scanner interface {
	Scan(ctx context.Context, u pipeline.Upload) (*pipeline.Result, error)
}

// History lists a subject's recorded scans. *audit.Store implements it.
type History interface {
	Recent(ctx context.Context, subjectID string, limit int) ([]audit.Entry, error)
}

// Options configures a Handler. Scanner is required.
type Options struct {
	Scanner Scanner
	// Authorizer defaults to an anonymous free-tier subject.
	Authorizer gate.Authorizer
	// Quota is optional; nil means unlimited.
	Quota gate.Quota
	// History enables GET /history when set.
	History        History
	MaxUploadBytes int64
	RequestTimeout time.Duration
}

// Handler implements all HTTP endpoints.
type Handler struct {
	scanner        Scanner
	authorizer     gate.Authorizer
	quota          gate.Quota
	history        History
	maxUploadBytes int64
	requestTimeout time.Duration
}

// New creates a Handler.
func New(opts Options) *Handler {
	if opts.Authorizer == nil {
		opts.Authorizer = gate.Static{Subject: gate.Subject{ID: "anonymous", Tier: gate.TierFree}}
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Handler{
		scanner:        opts.Scanner,
		authorizer:     opts.Authorizer,
		quota:          opts.Quota,
		history:        opts.History,
		maxUploadBytes: opts.MaxUploadBytes,
		requestTimeout: opts.RequestTimeout,
	}
}

// Routes returns the router serving all endpoints.
func (h *Handler) Routes() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		requestLogger,
		middleware.Recoverer,
	)
	if h.requestTimeout > 0 {
		r.Use(middleware.Timeout(h.requestTimeout))
	}

	r.Get("/health", h.health)
	r.Post("/predict", h.predict)
	if h.history != nil {
		r.Get("/history", h.listHistory)
	}
	return r
}

// ---------- endpoints ----------

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) predict(w http.ResponseWriter, r *http.Request) {
	// The quota decision is taken before the body is read.
	subject, err := h.admit(r, true)
	if err != nil {
		writeErr(w, statusFor(err), err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErr(w, http.StatusRequestEntityTooLarge, "upload exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
			return
		}
		writeErr(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "missing form field \"file\"")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "failed to read upload: "+err.Error())
		return
	}

	mime := hdr.Header.Get("Content-Type")
	if mime == "application/octet-stream" {
		// Browsers send this for anything unknown; let the content decide.
		mime = ""
	}

	res, err := h.scanner.Scan(r.Context(), pipeline.Upload{
		Filename:  hdr.Filename,
		Data:      data,
		MIME:      mime,
		Purpose:   r.FormValue("purpose"),
		SubjectID: subject.ID,
	})
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			slog.Error("api: scan failed", "file", hdr.Filename, "err", err)
		} else {
			slog.Info("api: scan rejected", "file", hdr.Filename, "status", status, "err", err)
		}
		writeErr(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	subject, err := h.admit(r, false)
	if err != nil {
		writeErr(w, statusFor(err), err.Error())
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := h.history.Recent(r.Context(), subject.ID, limit)
	if err != nil {
		slog.Error("api: history failed", "err", err)
		writeErr(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"scans": entries})
}

// admit authorizes the caller and, when consume is set, charges one scan
// against its quota.
func (h *Handler) admit(r *http.Request, consume bool) (gate.Subject, error) {
	// A missing token is left for the authorizer to reject.
	token, _ := gate.BearerToken(r.Header.Get("Authorization"))
	subject, err := h.authorizer.Authorize(r.Context(), token)
	if err != nil {
		return gate.Subject{}, err
	}
	if consume && h.quota != nil {
		if err := h.quota.Allow(r.Context(), subject); err != nil {
			return gate.Subject{}, err
		}
	}
	return subject, nil
}

// statusFor maps pipeline and gate errors to HTTP status codes.
func statusFor(err error) int {
	var (
		unsupported *parse.UnsupportedFormatError
		malformed   *parse.MalformedInputError
		empty       *parse.EmptyDocumentError
		mismatch    *classify.FeatureSchemaMismatchError
	)
	switch {
	case errors.As(err, &unsupported):
		return http.StatusUnsupportedMediaType
	case errors.As(err, &malformed), errors.As(err, &empty):
		return http.StatusBadRequest
	case errors.As(err, &mismatch):
		return http.StatusInternalServerError
	case errors.Is(err, gate.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, gate.ErrQuotaExceeded):
		return http.StatusForbidden
	case errors.Is(err, gate.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// ---------- helpers ----------

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Info("api: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
