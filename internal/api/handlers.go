package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// createRun handles POST /api/v1/runs.
func (s *Server) createRun(c *gin.Context) {
	var body RunRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	view, err := s.Start(body)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, view)
	case errors.Is(err, ErrInvalidRequest):
		respondBadRequest(c, err.Error())
	case errors.Is(err, ErrTooManyRuns):
		respondError(c, http.StatusConflict, err.Error())
	default:
		_ = c.Error(err)
		respondError(c, http.StatusInternalServerError, "failed to start run")
	}
}

// listRuns handles GET /api/v1/runs.
func (s *Server) listRuns(c *gin.Context) {
	runs := s.List()
	c.JSON(http.StatusOK, gin.H{"runs": runs, "total": len(runs)})
}

// getRun handles GET /api/v1/runs/:id. Records are omitted with ?records=false.
func (s *Server) getRun(c *gin.Context) {
	withRecords, err := strconv.ParseBool(c.DefaultQuery("records", "true"))
	if err != nil {
		respondBadRequest(c, "records must be a boolean")
		return
	}
	view, err := s.Get(c.Param("id"), withRecords)
	if err != nil {
		respondNotFound(c, "run")
		return
	}
	c.JSON(http.StatusOK, view)
}

// stopRun handles POST /api/v1/runs/:id/stop.
func (s *Server) stopRun(c *gin.Context) {
	view, err := s.Stop(c.Param("id"))
	if err != nil {
		respondNotFound(c, "run")
		return
	}
	c.JSON(http.StatusAccepted, view)
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

func respondNotFound(c *gin.Context, resource string) {
	respondError(c, http.StatusNotFound, resource+" not found")
}

func respondBadRequest(c *gin.Context, message string) {
	respondError(c, http.StatusBadRequest, message)
}
