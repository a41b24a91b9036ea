package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"analyzerd/internal/manager"
	"analyzerd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Analyze(ctx context.Context, text string, kinds []manager.Kind, opts manager.Options, callOpts ...manager.AnalyzeOption) (map[manager.Kind]manager.Outcome, error)
	AnalyzeBulk(ctx context.Context, texts []string, kinds []manager.Kind, opts manager.Options, callOpts ...manager.AnalyzeOption) ([]manager.BulkItem, error)
	Stats() types.StatsResponse
	Kinds() []manager.Kind
	Spec(kind manager.Kind) (manager.KindSpec, bool)
	Ready() bool
	ClearCache()
	PauseLoader()
	ResumeLoader()
	Evict(ctx context.Context, kind manager.Kind) error
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: orDefault(corsAllowedOrigins, []string{"*"}),
			AllowedMethods: orDefault(corsAllowedMethods, []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders: orDefault(corsAllowedHeaders, []string{"Content-Type", "X-Request-Id", "X-Log-Level"}),
			MaxAge:         300,
		}))
	}

	h := &handlers{svc: svc}
	r.Group(func(r chi.Router) {
		r.Use(inflightMiddleware)
		r.Post("/analyze", h.analyze)
		r.Post("/analyze-bulk", h.analyzeBulk)
		r.Get("/stats", h.stats)
		r.Get("/kinds", h.kinds)
		r.Route("/admin", func(r chi.Router) {
			r.Post("/cache/clear", h.clearCache)
			r.Post("/loader/pause", h.pauseLoader)
			r.Post("/loader/resume", h.resumeLoader)
			r.Post("/evict/{kind}", h.evict)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}

type handlers struct {
	svc Service
}

// analyze godoc
// @Summary      Analyze text
// @Description  Runs the requested kinds over the text. Per-kind failures are reported in "errors" without failing the request.
// @Tags         analysis
// @Accept       json
// @Produce      json
// @Param        request  body      types.AnalyzeRequest  true  "Analysis request"
// @Success      200      {object}  types.AnalyzeResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      415      {object}  types.ErrorResponse
// @Failure      503      {object}  types.ErrorResponse
// @Router       /analyze [post]
func (h *handlers) analyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	lvl := requestLogLevel(r)
	var req types.AnalyzeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSONError(w, http.StatusBadRequest, "text is required")
		return
	}
	kinds, err := parseKinds(req.Kinds, h.svc.Kinds())
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if lvl >= LevelDebug {
		zlog.Debug().Str("request_id", middleware.GetReqID(r.Context())).Int("text_len", len(req.Text)).Int("kinds", len(kinds)).Msg("analyze start")
	}

	ctx, cancel := requestContext(r)
	defer cancel()
	out, err := h.svc.Analyze(ctx, req.Text, kinds, manager.Options(req.Options), manager.UseCache(useCache(req.UseCache)))
	if err != nil {
		status := statusFor(err)
		writeJSONError(w, status, err.Error())
		logEnd(r, lvl, "analyze end", status, start, err)
		return
	}

	resp := NewAnalyzeResponse(out)
	countOutcomes(resp.Results, resp.Errors)
	resp.ProcessingMS = float64(time.Since(start).Microseconds()) / 1000
	writeJSON(w, http.StatusOK, resp)
	logEnd(r, lvl, "analyze end", http.StatusOK, start, nil)
}

// analyzeBulk godoc
// @Summary      Analyze up to 50 texts
// @Description  Runs the same kinds over every text. Each item carries its index; a rejected text fails only its own item.
// @Tags         analysis
// @Accept       json
// @Produce      json
// @Param        request  body      types.BulkAnalyzeRequest  true  "Bulk analysis request"
// @Success      200      {object}  types.BulkAnalyzeResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      415      {object}  types.ErrorResponse
// @Failure      503      {object}  types.ErrorResponse
// @Router       /analyze-bulk [post]
func (h *handlers) analyzeBulk(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	lvl := requestLogLevel(r)
	var req types.BulkAnalyzeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	kinds, err := parseKinds(req.Kinds, h.svc.Kinds())
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()
	items, err := h.svc.AnalyzeBulk(ctx, req.Texts, kinds, manager.Options(req.Options), manager.UseCache(useCache(req.UseCache)))
	if err != nil {
		status := statusFor(err)
		writeJSONError(w, status, err.Error())
		logEnd(r, lvl, "analyze-bulk end", status, start, err)
		return
	}

	resp := types.BulkAnalyzeResponse{Results: make([]types.BulkItem, 0, len(items))}
	for _, it := range items {
		if it.Err != nil {
			resp.Results = append(resp.Results, types.BulkItem{
				Index: it.Index,
				Error: &types.KindError{Code: manager.ErrorCode(it.Err), Message: it.Err.Error()},
			})
			continue
		}
		one := NewAnalyzeResponse(it.Outcomes)
		countOutcomes(one.Results, one.Errors)
		resp.Results = append(resp.Results, types.BulkItem{Index: it.Index, Results: one.Results, Errors: one.Errors})
	}
	resp.TotalProcessed = len(resp.Results)
	resp.ProcessingMS = float64(time.Since(start).Microseconds()) / 1000
	writeJSON(w, http.StatusOK, resp)
	logEnd(r, lvl, "analyze-bulk end", http.StatusOK, start, nil)
}

// decodeJSONBody enforces the JSON content type and the body size limit. It
// writes the error response and returns false when the body is unusable.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func useCache(v *bool) bool { return v == nil || *v }

func countOutcomes(results map[string]types.KindResult, errs map[string]types.KindError) {
	for name, res := range results {
		if res.CacheHit {
			countOutcome(name, "cache_hit")
		} else {
			countOutcome(name, "ok")
		}
	}
	for name, e := range errs {
		countOutcome(name, e.Code)
	}
}

// NewAnalyzeResponse converts per-kind outcomes into the wire response. Each
// kind lands in exactly one of Results or Errors.
func NewAnalyzeResponse(out map[manager.Kind]manager.Outcome) types.AnalyzeResponse {
	resp := types.AnalyzeResponse{Results: make(map[string]types.KindResult, len(out))}
	for k, oc := range out {
		name := k.String()
		if oc.Err != nil || oc.Result == nil {
			if resp.Errors == nil {
				resp.Errors = make(map[string]types.KindError)
			}
			err := oc.Err
			if err == nil {
				err = errors.New("no result")
			}
			resp.Errors[name] = types.KindError{Code: manager.ErrorCode(err), Message: err.Error()}
			continue
		}
		resp.Results[name] = types.KindResult{
			Label:    oc.Result.Label,
			Score:    oc.Result.Score,
			Severity: oc.Result.Severity,
			Action:   oc.Result.Action,
			Polarity: oc.Result.Polarity,
			Stars:    oc.Result.Stars,
			CacheHit: oc.CacheHit,
		}
	}
	return resp
}

// parseKinds resolves requested kind names; an empty list selects every
// configured kind.
func parseKinds(names []string, configured []manager.Kind) ([]manager.Kind, error) {
	if len(names) == 0 {
		return configured, nil
	}
	out := make([]manager.Kind, 0, len(names))
	for _, n := range names {
		k, err := manager.ParseKind(n)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// stats godoc
// @Summary      Service statistics
// @Tags         status
// @Produce      json
// @Success      200  {object}  types.StatsResponse
// @Router       /stats [get]
func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Stats())
}

// kinds godoc
// @Summary      Configured kinds
// @Tags         status
// @Produce      json
// @Success      200  {object}  types.KindsResponse
// @Router       /kinds [get]
func (h *handlers) kinds(w http.ResponseWriter, r *http.Request) {
	resp := types.KindsResponse{Kinds: []types.KindInfo{}}
	for _, k := range h.svc.Kinds() {
		spec, ok := h.svc.Spec(k)
		if !ok {
			continue
		}
		resp.Kinds = append(resp.Kinds, types.KindInfo{
			Name:          k.String(),
			Priority:      spec.Priority,
			EstimateBytes: spec.EstimateBytes,
			ModelPath:     spec.Source,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// clearCache godoc
// @Summary      Drop all cached results
// @Tags         admin
// @Produce      json
// @Success      200  {object}  map[string]bool
// @Router       /admin/cache/clear [post]
func (h *handlers) clearCache(w http.ResponseWriter, r *http.Request) {
	h.svc.ClearCache()
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

// pauseLoader godoc
// @Summary      Pause background loading
// @Tags         admin
// @Produce      json
// @Success      200  {object}  map[string]bool
// @Router       /admin/loader/pause [post]
func (h *handlers) pauseLoader(w http.ResponseWriter, r *http.Request) {
	h.svc.PauseLoader()
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

// resumeLoader godoc
// @Summary      Resume background loading
// @Tags         admin
// @Produce      json
// @Success      200  {object}  map[string]bool
// @Router       /admin/loader/resume [post]
func (h *handlers) resumeLoader(w http.ResponseWriter, r *http.Request) {
	h.svc.ResumeLoader()
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

// evict godoc
// @Summary      Evict a loaded kind
// @Tags         admin
// @Produce      json
// @Param        kind  path      string  true  "Kind name"
// @Success      200   {object}  map[string]string
// @Failure      404   {object}  types.ErrorResponse
// @Failure      409   {object}  types.ErrorResponse
// @Router       /admin/evict/{kind} [post]
func (h *handlers) evict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	k, err := manager.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	if err := h.svc.Evict(ctx, k); err != nil {
		status := statusFor(err)
		if manager.IsUnknownKind(err) {
			status = http.StatusNotFound
		}
		writeJSONError(w, status, err.Error())
		logEnd(r, LevelError, "evict", status, start, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"evicted": k.String()})
	logEnd(r, LevelInfo, "evict", http.StatusOK, start, nil)
}
