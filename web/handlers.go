package web

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-inspect/controller"
	"github.com/nvr-ai/go-inspect/models/postprocess"
)

// thresholdsRequest is the body of PUT /api/thresholds. Both fields are
// required so that a partial body cannot silently zero a threshold.
type thresholdsRequest struct {
	Confidence *float32 `json:"confidence" binding:"required"`
	Overlap    *float32 `json:"overlap" binding:"required"`
}

func (r thresholdsRequest) thresholds() postprocess.Thresholds {
	return postprocess.Thresholds{Confidence: *r.Confidence, Overlap: *r.Overlap}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "inspect",
	})
}

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, s.inspector.Snapshot())
}

func (s *Server) handleCapture(c *gin.Context) {
	if err := s.inspector.Capture(c.Request.Context()); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.inspector.Snapshot())
}

func (s *Server) handleReset(c *gin.Context) {
	if err := s.inspector.Reset(c.Request.Context()); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.inspector.Snapshot())
}

func (s *Server) handleThresholds(c *gin.Context) {
	var req thresholdsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.inspector.SetThresholds(req.thresholds()); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, s.inspector.Snapshot())
}

func (s *Server) handleFrame(c *gin.Context) {
	var buf bytes.Buffer
	if err := s.inspector.WritePNG(&buf); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func (s *Server) handlePreview(c *gin.Context) {
	var buf bytes.Buffer
	if err := s.inspector.WritePreview(c.Request.Context(), &buf); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/jpeg", buf.Bytes())
}

// abortWithError maps orchestrator errors onto HTTP statuses.
func (s *Server) abortWithError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, controller.ErrCamera):
		return http.StatusServiceUnavailable
	case errors.Is(err, controller.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, postprocess.ErrInvalidThresholds):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
