package dashboard

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zulandar/nudge/internal/agent"
	"github.com/zulandar/nudge/internal/batch"
	"github.com/zulandar/nudge/internal/config"
	"github.com/zulandar/nudge/internal/models"
	"github.com/zulandar/nudge/internal/runlog"
	"go.uber.org/zap"
)

// registerRoutes sets up all API routes on the Gin router.
func (s *Server) registerRoutes() {
	api := s.router.Group("/api")
	api.GET("/dashboard", s.handleDashboard)
	api.GET("/results", s.handleResults)
	api.GET("/students", s.handleStudents)
	api.POST("/upload", s.handleUpload)
	api.GET("/runs", s.handleRuns)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/students/:id/history", s.handleHistory)
	api.GET("/schedule", s.handleSchedule)
	api.GET("/env-status", s.handleEnvStatus)
	api.POST("/run", s.handleRun)
	api.GET("/events", s.handleEvents)

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) fail(c *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) handleDashboard(c *gin.Context) {
	ov, err := s.overview(c.Request.Context())
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, ov)
}

func (s *Server) handleResults(c *gin.Context) {
	rows, err := s.results(c.Request.Context())
	if err != nil {
		s.fail(c, http.StatusBadGateway, err)
		return
	}
	resp := gin.H{"students": rows}
	if last := s.opts.Runner.Last(); last != nil {
		resp["run"] = last
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	runs, err := s.opts.RunLog.Runs(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []models.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	d, err := s.opts.RunLog.Run(c.Request.Context(), c.Param("id"))
	if errors.Is(err, runlog.ErrRunNotFound) {
		s.fail(c, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) handleHistory(c *gin.Context) {
	h, err := s.history(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, h)
}

func (s *Server) handleSchedule(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		entries []models.ScheduleEntry
		err     error
	)
	if due, _ := strconv.ParseBool(c.Query("due")); due {
		entries, err = s.opts.Schedule.Due(ctx, s.opts.Now())
	} else {
		entries, err = s.opts.Schedule.All(ctx)
	}
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []models.ScheduleEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) handleEnvStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.opts.Config.Status())
}

type runRequest struct {
	Mode    string `json:"mode"`
	Confirm string `json:"confirm"`
}

func (s *Server) handleRun(c *gin.Context) {
	var req runRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.fail(c, http.StatusBadRequest, err)
			return
		}
	}
	mode, err := batch.ParseMode(req.Mode)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	if mode == batch.ModeLive && req.Confirm != "yes" {
		c.JSON(http.StatusBadRequest, gin.H{"error": `live runs require "confirm": "yes"`})
		return
	}

	runID, err := s.opts.Runner.Start(s.base, mode, func(sum *agent.Summary, err error) {
		if sum != nil {
			s.logger.Info("run finished",
				zap.String("run_id", sum.RunID),
				zap.String("stop_reason", sum.StopReason),
			)
		}
	})
	var verr *config.ValidationError
	switch {
	case errors.Is(err, batch.ErrRunInProgress):
		current, _ := s.opts.Runner.Status()
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "run_id": current})
		return
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "problems": verr.Problems})
		return
	case err != nil:
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "mode": mode})
}
