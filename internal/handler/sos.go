package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"sos-guardian/internal/dispatch"
	"sos-guardian/internal/ingest"
	"sos-guardian/internal/model"
	"sos-guardian/internal/signal"
)

type SosHandler struct {
	Ingest *ingest.Service
	Store  signal.Store
	Engine *dispatch.Engine
}

type sosInitBody struct {
	CreatorDeviceID      string `json:"creator_device_id"`
	EncryptedSessionBlob string `json:"encrypted_session_blob"`
}

func (h *SosHandler) Init(c *gin.Context) {
	var body sosInitBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	ev, isNew, err := h.Ingest.Init(c.Request.Context(), body.CreatorDeviceID, body.EncryptedSessionBlob)
	if err != nil {
		if errors.Is(err, ingest.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Storage failed"})
		return
	}

	message := "Emergency dispatch initiated"
	if !isNew {
		message = "Duplicate signal; dispatch already in progress"
	}
	c.JSON(http.StatusCreated, gin.H{
		"session_id": ev.SessionID,
		"status":     ev.Status,
		"message":    message,
	})
}

func (h *SosHandler) Get(c *gin.Context) {
	ev, err := h.Store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, signal.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lookup failed"})
		return
	}
	c.JSON(http.StatusOK, ev)
}

func (h *SosHandler) List(c *gin.Context) {
	var events []model.SosEvent
	var err error

	switch {
	case c.Query("device_id") != "":
		events, err = h.Store.ListByDevice(c.Request.Context(), c.Query("device_id"))
	default:
		status := model.EventStatus(c.Query("status"))
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown status"})
			return
		}
		events, err = h.Store.ListByStatus(c.Request.Context(), status)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Listing failed"})
		return
	}
	if events == nil {
		events = []model.SosEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *SosHandler) Retry(c *gin.Context) {
	ev, err := h.Engine.Retry(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"session_id": ev.SessionID, "status": ev.Status})
	case errors.Is(err, signal.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
	case errors.Is(err, dispatch.ErrNotRetryable):
		c.JSON(http.StatusConflict, gin.H{"error": "Session is not in a retryable state"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Retry failed"})
	}
}

func (h *SosHandler) Cancel(c *gin.Context) {
	if err := h.Engine.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, signal.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cancel failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
