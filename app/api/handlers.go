package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/wire-comb/app/tasks"
)

const maxRunsLimit = 500

func NewHandler(db Pinger, stats StatsStore, runs RunStore, scheduler tasks.TaskSchedulerInterface) *Handler {
	return &Handler{
		db:        db,
		stats:     stats,
		runs:      runs,
		scheduler: scheduler,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"database":  "ok",
	}

	status := http.StatusOK
	if err := h.db.Ping(c.Request.Context()); err != nil {
		slog.Error("Database error", "operation", "ping", "error", err)
		health["database"] = "unavailable"
		status = http.StatusServiceUnavailable
	}

	if last, err := h.runs.LastCompletedRun(c.Request.Context()); err == nil && last != nil {
		health["last_completed_run"] = map[string]interface{}{
			"id":       last.ID,
			"job_type": last.JobType,
			"ended_at": last.EndedAt,
		}
	}

	c.JSON(status, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	category := c.Query("category")

	stats, err := h.stats.GetStats(c.Request.Context(), category)
	if err != nil {
		slog.Error("Database error", "operation", "get_stats", "category", category, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	categories := make([]map[string]interface{}, 0, len(stats.Categories))
	for _, cc := range stats.Categories {
		categories = append(categories, map[string]interface{}{
			"category": cc.Category,
			"articles": cc.Articles,
		})
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"total_articles":      stats.TotalArticles,
		"distinct_sources":    stats.DistinctSources,
		"earliest_article":    stats.EarliestArticle,
		"latest_article":      stats.LatestArticle,
		"avg_headline_length": stats.AvgHeadlineLength,
		"missing_bodies":      stats.MissingBodies,
		"unknown_language":    stats.UnknownLanguage,
		"ticker_links":        stats.TickerLinks,
		"categories":          categories,
	})
}

func (h *Handler) GetJobs(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusOK, gin.H{"jobs": []tasks.JobStatus{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": h.scheduler.Status()})
}

func (h *Handler) APIListRuns(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := h.runs.ListRuns(c.Request.Context(), c.Query("job"), limit)
	if err != nil {
		slog.Error("Database error", "operation", "list_runs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	items := make([]map[string]interface{}, 0, len(runs))
	for _, run := range runs {
		item := map[string]interface{}{
			"id":           run.ID,
			"job_type":     run.JobType,
			"mode":         run.Mode,
			"category":     run.Category,
			"window_start": run.WindowStart,
			"window_end":   run.WindowEnd,
			"started_at":   run.StartedAt,
			"ended_at":     run.EndedAt,
			"status":       run.Status,
			"fetched":      run.Counters.Fetched,
			"inserted":     run.Counters.Inserted,
			"updated":      run.Counters.Updated,
			"skipped":      run.Counters.Skipped,
			"failed_pages": run.Counters.FailedPages,
			"api_calls":    run.Counters.APICalls,
		}
		if run.ErrorMessage != "" {
			item["error"] = run.ErrorMessage
		}
		items = append(items, item)
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"runs":  items,
		"total": len(items),
	})
}

func (h *Handler) APITriggerJob(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Scheduler not running"})
		return
	}

	jobType, err := tasks.ParseJobType(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown job"})
		return
	}

	err = h.scheduler.Trigger(jobType)
	switch {
	case errors.Is(err, tasks.ErrJobInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": "Job is already running"})
		return
	case errors.Is(err, tasks.ErrUnknownJob):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not scheduled"})
		return
	case errors.Is(err, tasks.ErrStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Scheduler is shutting down"})
		return
	case err != nil:
		slog.Error("Error triggering job", "type", jobType, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to trigger job",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"message": "Job triggered",
		"job":     jobType,
	})
}
