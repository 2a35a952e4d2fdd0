package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rawblock/wallet-pnl-engine/internal/alerting"
	"github.com/rawblock/wallet-pnl-engine/internal/discovery"
	"github.com/rawblock/wallet-pnl-engine/internal/errkind"
	"github.com/rawblock/wallet-pnl-engine/internal/orchestrator"
	"github.com/rawblock/wallet-pnl-engine/pkg/models"
)

// APIHandler wires the orchestrator, discovery scraper, alert manager,
// and job registry to the HTTP surface.
type APIHandler struct {
	orch      *orchestrator.Orchestrator
	registry  *orchestrator.Registry
	scraper   *discovery.Scraper
	alerter   *alerting.Manager
	wsHub     *Hub
	log       *zap.SugaredLogger

	servicesMu      sync.Mutex
	discoveryCancel context.CancelFunc
	discoveryInterval time.Duration
}

func NewHandler(orch *orchestrator.Orchestrator, registry *orchestrator.Registry, scraper *discovery.Scraper, alerter *alerting.Manager, wsHub *Hub, discoveryInterval time.Duration, log *zap.SugaredLogger) *APIHandler {
	return &APIHandler{
		orch:              orch,
		registry:          registry,
		scraper:           scraper,
		alerter:           alerter,
		wsHub:             wsHub,
		log:               log,
		discoveryInterval: discoveryInterval,
	}
}

// SetupRouter mirrors the teacher's router conventions: a CORS
// middleware, a public /api/v1 group, and a bearer-auth + per-IP
// rate-limited protected group for the job and service endpoints.
func SetupRouter(h *APIHandler, bearerToken string, allowedOrigins string, log *zap.SugaredLogger) *gin.Engine {
	r := gin.Default()

	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	pub := r.Group("/api/v1")
	{
		pub.GET("/health", h.handleHealth)
		pub.GET("/stream", h.wsHub.Subscribe)
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := r.Group("/api/v1")
	auth.Use(AuthMiddleware(bearerToken, log))
	auth.Use(NewRateLimiter(30, 5).Middleware())
	{
		auth.POST("/jobs/batch", h.handleSubmitBatch)
		auth.GET("/jobs/:id/status", h.handleJobStatus)
		auth.GET("/jobs/:id/results", h.handleJobResults)
		auth.GET("/jobs/:id/results.csv", h.handleJobResultsCSV)
		auth.POST("/jobs/:id/cancel", h.handleJobCancel)
		auth.POST("/services/:service/:action", h.handleServiceAction)
	}

	return r
}

type submitBatchRequest struct {
	Wallets     []string   `json:"wallets" binding:"required"`
	Chain       string     `json:"chain" binding:"required"`
	TimeFrom    *time.Time `json:"timeFrom"`
	TimeTo      *time.Time `json:"timeTo"`
	RequestedBy string     `json:"requestedBy"`
}

func (h *APIHandler) handleSubmitBatch(c *gin.Context) {
	var req submitBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if len(req.Wallets) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "wallets must not be empty"})
		return
	}

	job, err := h.orch.Submit(c.Request.Context(), req.Wallets, req.Chain, models.TimeRange{From: req.TimeFrom, To: req.TimeTo}, req.RequestedBy)
	if err != nil {
		if errkind.Is(err, errkind.JobCapacity) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"jobId": job.JobID, "status": job.Status})
}

func (h *APIHandler) handleJobStatus(c *gin.Context) {
	job, ok := h.registry.GetJob(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"jobId":    job.JobID,
		"status":   job.Status,
		"progress": job.Progress,
	})
}

func (h *APIHandler) handleJobResults(c *gin.Context) {
	job, ok := h.registry.GetJob(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"jobId":    job.JobID,
		"status":   job.Status,
		"results":  job.Results,
		"warnings": job.Warnings,
	})
}

func (h *APIHandler) handleJobResultsCSV(c *gin.Context) {
	job, ok := h.registry.GetJob(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=\""+job.JobID+"-results.csv\"")
	if err := writeResultsCSV(c.Writer, job.Results); err != nil {
		h.log.Errorw("writing results csv failed", "job_id", job.JobID, "err", err)
	}
}

func (h *APIHandler) handleJobCancel(c *gin.Context) {
	jobID := c.Param("id")
	if !h.orch.Cancel(jobID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found or already finished"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancel_requested", "jobId": jobID})
}

// handleServiceAction starts/stops/restarts the discovery scraper.
// service=pnl is accepted for symmetry with spec.md §6 but is a no-op:
// the orchestrator has no standalone lifecycle, only per-job execution.
func (h *APIHandler) handleServiceAction(c *gin.Context) {
	service := c.Param("service")
	action := c.Param("action")

	if service != "discovery" && service != "pnl" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown service"})
		return
	}
	if service == "pnl" {
		c.JSON(http.StatusOK, gin.H{"service": "pnl", "status": "noop", "action": action})
		return
	}

	h.servicesMu.Lock()
	defer h.servicesMu.Unlock()

	switch action {
	case "start":
		if h.discoveryCancel != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "discovery already running"})
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		h.discoveryCancel = cancel
		go h.scraper.Run(ctx, h.discoveryInterval)
	case "stop":
		if h.discoveryCancel == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "discovery not running"})
			return
		}
		h.discoveryCancel()
		h.discoveryCancel = nil
	case "restart":
		if h.discoveryCancel != nil {
			h.discoveryCancel()
		}
		ctx, cancel := context.WithCancel(context.Background())
		h.discoveryCancel = cancel
		go h.scraper.Run(ctx, h.discoveryInterval)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"service": service, "status": action + "ed"})
}

func (h *APIHandler) handleHealth(c *gin.Context) {
	h.servicesMu.Lock()
	discoveryRunning := h.discoveryCancel != nil
	h.servicesMu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"status": "operational",
		"engine": "wallet-pnl-engine",
		"capabilities": gin.H{
			"discovery_running": discoveryRunning,
		},
	})
}
