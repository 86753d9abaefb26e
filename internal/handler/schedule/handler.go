package schedule

import (
	"errors"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/scheduler-api/internal/model"
	"github.com/jwalitptl/scheduler-api/internal/notifier"
	"github.com/jwalitptl/scheduler-api/internal/repository"
	"github.com/jwalitptl/scheduler-api/internal/service/schedule"
	"github.com/jwalitptl/scheduler-api/internal/slotgen"
	apperrors "github.com/jwalitptl/scheduler-api/pkg/errors"
	"github.com/jwalitptl/scheduler-api/pkg/httputil"
	"github.com/jwalitptl/scheduler-api/pkg/logger"
)

const streamHeartbeat = 15 * time.Second

type Handler struct {
	service  *schedule.Service
	notifier *notifier.Notifier
	logger   *logger.Logger
}

func NewHandler(service *schedule.Service, notifier *notifier.Notifier, logger *logger.Logger) *Handler {
	return &Handler{service: service, notifier: notifier, logger: logger}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/shifts", h.IngestShift)
	providers := r.Group("/providers/:id")
	{
		providers.GET("/schedule", h.ViewSchedule)
		providers.GET("/schedule/stream", h.StreamSchedule)
	}
}

func (h *Handler) IngestShift(c *gin.Context) {
	var req model.IngestShiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.NewBadRequest(err.Error(), err))
		return
	}

	shift, slots, err := h.service.IngestShift(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, slotgen.ErrInvalidShift) {
			httputil.RespondWithError(c, apperrors.NewBadRequest(err.Error(), err))
			return
		}
		httputil.RespondWithError(c, apperrors.NewInternal(err))
		return
	}

	httputil.RespondWithCreated(c, gin.H{
		"shift": shift,
		"slots": slots,
	})
}

func (h *Handler) ViewSchedule(c *gin.Context) {
	providerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewBadRequest("invalid provider id", err))
		return
	}
	today := time.Now().Format(model.DateLayout)
	from := c.DefaultQuery("from", c.DefaultQuery("date", today))
	to := c.DefaultQuery("to", from)

	slots, err := h.service.ViewSchedule(c.Request.Context(), providerID, from, to)
	if err != nil {
		if errors.Is(err, schedule.ErrInvalidRange) || errors.Is(err, slotgen.ErrInvalidShift) {
			httputil.RespondWithError(c, apperrors.NewBadRequest(err.Error(), err))
			return
		}
		if errors.Is(err, repository.ErrNotFound) {
			httputil.RespondWithError(c, apperrors.NewNotFound("schedule", err))
			return
		}
		httputil.RespondWithError(c, apperrors.NewInternal(err))
		return
	}

	httputil.RespondWithSuccess(c, gin.H{
		"provider_id": providerID,
		"from":        from,
		"to":          to,
		"slots":       slots,
	})
}

// StreamSchedule pushes slot changes for one provider over server-sent
// events. Delivery is best-effort: a client that falls behind misses events
// and should re-read the schedule after reconnecting.
func (h *Handler) StreamSchedule(c *gin.Context) {
	providerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewBadRequest("invalid provider id", err))
		return
	}

	changes, unsubscribe, err := h.notifier.Subscribe(providerID)
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewInternal(err))
		return
	}
	defer unsubscribe()
	h.logger.Debug("schedule stream opened", "provider_id", providerID.String())

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case change, ok := <-changes:
			if !ok {
				return false
			}
			c.SSEvent("slot_change", change)
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", time.Now().UTC().Format(time.RFC3339))
			return true
		}
	})
}
