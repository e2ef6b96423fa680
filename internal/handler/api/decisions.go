package api

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/repository"
	"github.com/wekabeka1996/AuroRA-sub000/internal/ledger"
	"github.com/wekabeka1996/AuroRA-sub000/internal/policy"
	xhttp "github.com/wekabeka1996/AuroRA-sub000/pkg/http"
	"github.com/wekabeka1996/AuroRA-sub000/pkg/logger"
)

// Handler serves the read-only decision and governance API. All state it
// exposes comes from the decision cache and the governance registry, never
// from the decision hot path.
type Handler struct {
	log       *logger.Logger
	decisions repository.DecisionCache
	policies  *policy.Manager
	ledger    *ledger.Ledger
	startedAt time.Time
}

func NewHandler(log *logger.Logger, decisions repository.DecisionCache, policies *policy.Manager, l *ledger.Ledger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{
		log:       log,
		decisions: decisions,
		policies:  policies,
		ledger:    l,
		startedAt: time.Now(),
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	g := e.Group("/api")
	g.GET("/decisions/:profile", h.LatestDecision)
	g.GET("/policies", h.Policies)
	g.GET("/policies/live", h.LivePolicy)
	g.GET("/policies/:id", h.Policy)
	g.GET("/ledger", h.LedgerSummary)
}

func (h *Handler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(h.startedAt).String(),
	})
}

// LatestDecision returns the most recent decision for one profile.
func (h *Handler) LatestDecision(c echo.Context) error {
	profile := c.Param("profile")
	if profile == "" {
		return xhttp.BadRequestResponse(c, "profile is required")
	}

	rec, ok, err := h.decisions.GetLatest(c.Request().Context(), profile)
	if err != nil {
		h.log.Error("decision cache read failed", logger.String("profile", profile), logger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no decision for profile %s", profile))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=1")
	return xhttp.SuccessResponse(c, rec)
}

// Policies returns the full policy registry in registration order.
func (h *Handler) Policies(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.policies.Records())
}

// Policy returns one policy's record.
func (h *Handler) Policy(c echo.Context) error {
	id := c.Param("id")
	rec, ok := h.policies.Record(id)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("unknown policy %s", id))
	}
	return xhttp.SuccessResponse(c, rec)
}

// LivePolicy returns the currently serving policy, if any.
func (h *Handler) LivePolicy(c echo.Context) error {
	rec, ok := h.policies.Live()
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no live policy"))
	}
	return xhttp.SuccessResponse(c, rec)
}

// LedgerSummary reports the alpha budget position.
func (h *Handler) LedgerSummary(c echo.Context) error {
	snap := h.ledger.Snapshot()
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"total_budget": snap.TotalBudget,
		"cumulative":   snap.Cumulative,
		"remaining":    snap.TotalBudget - snap.Cumulative,
		"entries":      len(snap.Entries),
	})
}

var _ xhttp.Handler = (*Handler)(nil)
