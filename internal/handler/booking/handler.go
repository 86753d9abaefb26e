package booking

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/scheduler-api/internal/model"
	"github.com/jwalitptl/scheduler-api/internal/repository"
	"github.com/jwalitptl/scheduler-api/internal/service/booking"
	apperrors "github.com/jwalitptl/scheduler-api/pkg/errors"
	"github.com/jwalitptl/scheduler-api/pkg/httputil"
	"github.com/jwalitptl/scheduler-api/pkg/logger"
)

type Handler struct {
	service *booking.Service
	logger  *logger.Logger
}

func NewHandler(service *booking.Service, logger *logger.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/bookings", h.CreateBooking)
	reservations := r.Group("/reservations/:id")
	{
		reservations.GET("", h.GetReservation)
		reservations.POST("/cancel", h.CancelReservation)
	}
	payments := r.Group("/payments")
	{
		payments.POST("/success", h.PaymentSucceeded)
		payments.POST("/cancelled", h.PaymentCancelled)
	}
}

func (h *Handler) CreateBooking(c *gin.Context) {
	var req model.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.NewBadRequest(err.Error(), err))
		return
	}
	slotID, _ := uuid.Parse(req.SlotID)
	userID, _ := uuid.Parse(req.UserID)

	res, err := h.service.RequestBooking(c.Request.Context(), slotID, userID, req.PatientName)
	if err != nil {
		if errors.Is(err, booking.ErrSlotUnavailable) {
			httputil.RespondWithError(c, apperrors.NewConflict("slot is no longer available", err))
			return
		}
		httputil.RespondWithError(c, apperrors.NewInternal(err))
		return
	}

	httputil.RespondWithCreated(c, res)
}

func (h *Handler) GetReservation(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewBadRequest("invalid reservation id", err))
		return
	}

	res, err := h.service.GetReservation(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			httputil.RespondWithError(c, apperrors.NewNotFound("reservation", err))
			return
		}
		httputil.RespondWithError(c, apperrors.NewInternal(err))
		return
	}

	httputil.RespondWithSuccess(c, res)
}

func (h *Handler) CancelReservation(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewBadRequest("invalid reservation id", err))
		return
	}
	// The body is optional; a bare cancel carries no reason.
	var req model.CancelBookingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httputil.RespondWithError(c, apperrors.NewBadRequest(err.Error(), err))
			return
		}
	}

	h.cancel(c, id, req.Reason)
}

func (h *Handler) PaymentSucceeded(c *gin.Context) {
	var req model.PaymentOutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.NewBadRequest(err.Error(), err))
		return
	}
	id, _ := uuid.Parse(req.ReservationID)

	res, err := h.service.ConfirmBooking(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, booking.ErrReservationExpired):
			httputil.RespondWithError(c, apperrors.NewGone("reservation expired before payment completed", err))
		case errors.Is(err, repository.ErrStaleReservation):
			httputil.RespondWithError(c, apperrors.NewConflict("reservation was already resolved", err))
		case errors.Is(err, repository.ErrNotFound):
			httputil.RespondWithError(c, apperrors.NewNotFound("reservation", err))
		default:
			httputil.RespondWithError(c, apperrors.NewInternal(err))
		}
		return
	}

	httputil.RespondWithSuccess(c, res)
}

func (h *Handler) PaymentCancelled(c *gin.Context) {
	var req model.PaymentOutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.NewBadRequest(err.Error(), err))
		return
	}
	id, _ := uuid.Parse(req.ReservationID)

	h.cancel(c, id, "payment cancelled")
}

// cancel releases a reservation. A stale cancel, one racing a confirmation
// or an expiry sweep that already resolved the reservation, is answered
// with the current state rather than an error: cancel collaborators
// redeliver and the outcome they asked for cannot be rolled back anyway.
func (h *Handler) cancel(c *gin.Context, id uuid.UUID, reason string) {
	res, err := h.service.CancelBooking(c.Request.Context(), id, reason)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrStaleReservation):
			h.logger.Info("ignoring stale cancellation", "reservation_id", id.String())
			httputil.RespondWithSuccess(c, res)
		case errors.Is(err, repository.ErrNotFound):
			httputil.RespondWithError(c, apperrors.NewNotFound("reservation", err))
		default:
			httputil.RespondWithError(c, apperrors.NewInternal(err))
		}
		return
	}

	httputil.RespondWithSuccess(c, res)
}
