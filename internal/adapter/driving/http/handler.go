package httphandler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/ericfisherdev/sponsoredissues/internal/application"
	"github.com/ericfisherdev/sponsoredissues/internal/domain/model"
)

const maxTrendingLimit = 100

// Handler is the HTTP driving adapter that serves the JSON API and the GitHub
// webhook.
type Handler struct {
	catalog       *application.CatalogService
	stats         *application.StatsService
	validation    *application.ValidationService
	health        *application.HealthService
	webhookSecret []byte
	logger        *slog.Logger
}

// NewHandler creates a Handler. An empty webhookSecret disables signature
// verification.
func NewHandler(
	catalog *application.CatalogService,
	stats *application.StatsService,
	validation *application.ValidationService,
	health *application.HealthService,
	webhookSecret string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		catalog:       catalog,
		stats:         stats,
		validation:    validation,
		health:        health,
		webhookSecret: []byte(webhookSecret),
		logger:        logger,
	}
}

// RegisterAPIRoutes registers the webhook, JSON API and metrics routes on mux.
// Read routes under /api/v1 answer cross-origin requests from corsOrigins.
func RegisterAPIRoutes(mux *http.ServeMux, h *Handler, corsOrigins []string) {
	api := func(hf http.HandlerFunc) http.Handler { return hf }
	if len(corsOrigins) > 0 {
		c := cors.New(cors.Options{
			AllowedOrigins: corsOrigins,
			AllowedMethods: []string{http.MethodGet},
			AllowedHeaders: []string{"Content-Type"},
		})
		api = func(hf http.HandlerFunc) http.Handler { return c.Handler(hf) }
		// Preflight requests are answered by the cors handler itself.
		mux.Handle("OPTIONS /api/v1/", c.Handler(http.NotFoundHandler()))
	}

	mux.HandleFunc("POST /webhooks/github", h.Webhook)

	mux.Handle("GET /api/v1/health", api(h.Health))
	mux.Handle("GET /api/v1/stats", api(h.Stats))
	mux.Handle("GET /api/v1/trending", api(h.Trending))
	mux.Handle("GET /api/v1/owners/{owner}/issues", api(h.OwnerIssues))
	mux.Handle("GET /api/v1/validate/{kind}/{path...}", api(h.Validate))

	mux.Handle("GET /metrics", promhttp.Handler())
}

// NewServeMux creates an http.Handler with the API routes registered and the
// standard middleware applied.
func NewServeMux(h *Handler, corsOrigins []string, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	RegisterAPIRoutes(mux, h, corsOrigins)
	return ApplyMiddleware(mux, logger)
}

// Health reports storage and GitHub App status together with the payment mode.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.health.Check(r.Context())

	status := http.StatusOK
	if report.Status == application.HealthDown {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, toHealthResponse(report))
}

// Stats returns funding totals across the catalog.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.GlobalStats(r.Context())
	if err != nil {
		h.logger.Error("failed to compute stats", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toStatsResponse(stats))
}

// Trending returns the highest scoring open issues.
func (h *Handler) Trending(w http.ResponseWriter, r *http.Request) {
	limit := application.DefaultTrendingLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxTrendingLimit {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 100")
			return
		}
		limit = n
	}

	trending, err := h.stats.Trending(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to compute trending issues", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]TrendingResponse, 0, len(trending))
	for _, t := range trending {
		resp = append(resp, toTrendingResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

// OwnerIssues returns an owner's open issues ranked by funding. The optional
// repo and number query parameters mark the selection.
func (h *Handler) OwnerIssues(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")
	if !model.IsValidName(owner) {
		writeError(w, http.StatusBadRequest, "invalid owner")
		return
	}

	q := application.OwnerQuery{Owner: owner, Repo: r.URL.Query().Get("repo")}
	if q.Repo != "" && !model.IsValidName(q.Repo) {
		writeError(w, http.StatusBadRequest, "invalid repository name")
		return
	}
	if raw := r.URL.Query().Get("number"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || q.Repo == "" {
			writeError(w, http.StatusBadRequest, "number must be a positive integer and requires repo")
			return
		}
		q.Number = n
	}

	listing, err := h.stats.OwnerIssues(r.Context(), q)
	if err != nil {
		h.logger.Error("failed to list owner issues", "owner", owner, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toOwnerIssuesResponse(listing))
}

// Validate answers a cached existence check. Lookup failures answer false.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")
	identifier := strings.Trim(r.PathValue("path"), "/")
	if identifier == "" {
		writeError(w, http.StatusBadRequest, "missing identifier")
		return
	}

	var exists bool
	switch kind {
	case string(model.ResourceUser), string(model.ResourceRepo), string(model.ResourceIssue):
		exists = h.validation.Exists(r.Context(), model.ResourceKind(kind), identifier)
	case "sponsors":
		exists = h.validation.HasSponsorsProfile(r.Context(), identifier)
	default:
		writeError(w, http.StatusBadRequest, "kind must be one of user, repo, issue, sponsors")
		return
	}

	writeJSON(w, http.StatusOK, ValidateResponse{Kind: kind, Identifier: identifier, Exists: exists})
}
