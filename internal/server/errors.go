package server

import (
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	billingdomain "github.com/smallbiznis/homeserve/internal/billingschedule/domain"
	bookingdomain "github.com/smallbiznis/homeserve/internal/booking/domain"
	checkoutdomain "github.com/smallbiznis/homeserve/internal/checkout/domain"
	pricingdomain "github.com/smallbiznis/homeserve/internal/pricing/domain"
	webhookdomain "github.com/smallbiznis/homeserve/internal/webhook/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type        string            `json:"type"`
	Code        string            `json:"code,omitempty"`
	Message     string            `json:"message"`
	BookingCode string            `json:"booking_code,omitempty"`
	Errors      []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if fieldErrs := asFieldErrors(err); len(fieldErrs) > 0 {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  fieldErrs,
		}
	}

	var sigErr *webhookdomain.SignatureError
	if errors.As(err, &sigErr) {
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_signature",
			Message: "webhook signature verification failed",
		}
	}

	var unknownSvc *pricingdomain.UnknownServiceError
	if errors.As(err, &unknownSvc) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "unprocessable",
			Code:    "unknown_service",
			Message: "service is not available for booking",
			Errors: []ValidationError{
				{Field: "service_id", Code: "unknown_service", Message: "unknown service"},
			},
		}
	}

	var persistErr *checkoutdomain.PersistenceError
	if errors.As(err, &persistErr) {
		return http.StatusInternalServerError, errorPayload{
			Type:        "internal_error",
			Code:        "booking_not_saved",
			Message:     "payment session was created but the booking could not be saved",
			BookingCode: persistErr.BookingCode,
		}
	}

	var gatewayErr *checkoutdomain.GatewayError
	if errors.As(err, &gatewayErr) {
		return http.StatusBadGateway, errorPayload{
			Type:    "gateway_error",
			Message: "payment provider is unavailable",
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, checkoutdomain.ErrCheckoutNotAllowed),
		errors.Is(err, pricingdomain.ErrBelowFloor):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "unprocessable",
			Code:    errorCode(err),
			Message: "amount cannot be charged",
		}
	case errors.Is(err, bookingdomain.ErrBookingNotFound):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    "booking_not_found",
			Message: "booking not found yet, retry later",
		}
	case errors.Is(err, webhookdomain.ErrEventInProgress):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    "event_in_progress",
			Message: "event is being processed",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the response type and code for request logs.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Code
	if code == "" && len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func asFieldErrors(err error) []ValidationError {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return nil
	}
	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Code:    fe.Tag(),
			Message: "invalid value",
		})
	}
	return out
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, checkoutdomain.ErrInvalidRequest),
		errors.Is(err, pricingdomain.ErrInvalidRecurrence),
		errors.Is(err, pricingdomain.ErrInvalidManualDiscount),
		errors.Is(err, billingdomain.ErrInvalidServiceDate),
		errors.Is(err, billingdomain.ErrInvalidRecurrence),
		errors.Is(err, webhookdomain.ErrInvalidEvent):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, checkoutdomain.ErrServiceDateInPast):
		return "invalid_scheduled_date"
	case errors.Is(err, billingdomain.ErrInvalidServiceDate):
		return "invalid_scheduled_date"
	case errors.Is(err, pricingdomain.ErrInvalidRecurrence),
		errors.Is(err, billingdomain.ErrInvalidRecurrence):
		return "invalid_recurrence"
	case errors.Is(err, pricingdomain.ErrInvalidManualDiscount):
		return "invalid_manual_discount"
	case errors.Is(err, webhookdomain.ErrInvalidEvent):
		return "invalid_event"
	default:
		return "invalid_request"
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_scheduled_date":
		return "scheduled date must be today or later"
	default:
		return "invalid value"
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, checkoutdomain.ErrCheckoutNotAllowed):
		return "checkout_amount_not_allowed"
	case errors.Is(err, pricingdomain.ErrBelowFloor):
		return "final_amount_below_floor"
	default:
		return ""
	}
}
