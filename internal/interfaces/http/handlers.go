package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/garyjia/leave-approval/internal/application/service"
	"github.com/garyjia/leave-approval/internal/domain/event"
	"github.com/garyjia/leave-approval/internal/domain/leave"
	"github.com/garyjia/leave-approval/pkg/utils"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	leave  service.LeaveService
	logger *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(leave service.LeaveService, logger *zap.Logger) *Handlers {
	return &Handlers{leave: leave, logger: logger}
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// SubmitRequest is the body of POST /api/requests
type SubmitRequest struct {
	RequestID     string `json:"requestId"`
	EmployeeName  string `json:"employeeName"`
	EmployeeEmail string `json:"employeeEmail"`
	StartDate     string `json:"startDate"`
	EndDate       string `json:"endDate"`
	Reason        string `json:"reason"`
	ApproverEmail string `json:"approverEmail"`
}

// SubmitResponse is returned with 201 on submission
type SubmitResponse struct {
	RequestID string       `json:"requestId"`
	Status    leave.Status `json:"status"`
}

// DecisionRequest is the body of approve and reject
type DecisionRequest struct {
	Comment   string `json:"comment"`
	DecidedBy string `json:"decidedBy"`
}

// CancelRequest is the body of cancel
type CancelRequest struct {
	Reason string `json:"reason"`
}

// SignalResponse reports how a signal was recorded
type SignalResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Applied bool         `json:"applied"`
	Status  leave.Status `json:"status"`
}

// HealthCheck handles GET /api/health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// ListRequests handles GET /api/requests, optionally filtered by ?status=
func (h *Handlers) ListRequests(c *gin.Context) {
	var filter *leave.Status
	if raw := c.Query("status"); raw != "" {
		status, err := leave.ParseStatus(raw)
		if err != nil {
			h.writeError(c, err)
			return
		}
		filter = &status
	}

	views, err := h.leave.List(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

// SubmitRequest handles POST /api/requests
func (h *Handlers) SubmitRequest(c *gin.Context) {
	var body SubmitRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "ValidationError"})
		return
	}

	id, err := h.leave.Submit(c.Request.Context(), leave.Request{
		RequestID:     utils.SanitizeString(body.RequestID),
		EmployeeName:  utils.SanitizeString(body.EmployeeName),
		EmployeeEmail: utils.SanitizeString(body.EmployeeEmail),
		StartDate:     utils.SanitizeString(body.StartDate),
		EndDate:       utils.SanitizeString(body.EndDate),
		Reason:        utils.SanitizeString(body.Reason),
		ApproverEmail: utils.SanitizeString(body.ApproverEmail),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, SubmitResponse{RequestID: id, Status: leave.StatusPending})
}

// GetRequest handles GET /api/requests/:id
func (h *Handlers) GetRequest(c *gin.Context) {
	state, err := h.leave.Query(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// GetHistory handles GET /api/requests/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	history, err := h.leave.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

// Approve handles POST /api/requests/:id/approve
func (h *Handlers) Approve(c *gin.Context) {
	var body DecisionRequest
	if !h.bindOptional(c, &body) {
		return
	}
	applied, err := h.leave.Approve(c.Request.Context(), c.Param("id"),
		utils.SanitizeString(body.Comment), utils.SanitizeString(body.DecidedBy))
	h.writeSignal(c, applied, err, "Approved")
}

// Reject handles POST /api/requests/:id/reject
func (h *Handlers) Reject(c *gin.Context) {
	var body DecisionRequest
	if !h.bindOptional(c, &body) {
		return
	}
	applied, err := h.leave.Reject(c.Request.Context(), c.Param("id"),
		utils.SanitizeString(body.Comment), utils.SanitizeString(body.DecidedBy))
	h.writeSignal(c, applied, err, "Rejected")
}

// Cancel handles POST /api/requests/:id/cancel
func (h *Handlers) Cancel(c *gin.Context) {
	var body CancelRequest
	if !h.bindOptional(c, &body) {
		return
	}
	applied, err := h.leave.Cancel(c.Request.Context(), c.Param("id"), utils.SanitizeString(body.Reason))
	h.writeSignal(c, applied, err, "Cancelled")
}

// bindOptional accepts an empty body; a malformed one is a 400
func (h *Handlers) bindOptional(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "ValidationError"})
		return false
	}
	return true
}

func (h *Handlers) writeSignal(c *gin.Context, applied event.SignalApplied, err error, verb string) {
	if err != nil {
		h.writeError(c, err)
		return
	}
	message := verb
	if !applied.Applied {
		message = "Request already " + applied.ResultingStatus.String() + "; signal recorded without effect"
	}
	c.JSON(http.StatusOK, SignalResponse{
		Success: true,
		Message: message,
		Applied: applied.Applied,
		Status:  applied.ResultingStatus,
	})
}

// writeError maps domain errors onto status codes
func (h *Handlers) writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "InternalError"
	switch {
	case errors.Is(err, leave.ErrValidation):
		status, code = http.StatusBadRequest, "ValidationError"
	case errors.Is(err, leave.ErrNotFound):
		status, code = http.StatusNotFound, "NotFound"
	case errors.Is(err, leave.ErrAlreadyExists):
		status, code = http.StatusConflict, "AlreadyExists"
	case errors.Is(err, leave.ErrNotCompleted):
		status, code = http.StatusConflict, "NotCompleted"
	case errors.Is(err, leave.ErrHalted):
		status, code = http.StatusServiceUnavailable, "Halted"
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		message = "internal server error"
	}
	c.JSON(status, ErrorResponse{Error: message, Code: code})
}
