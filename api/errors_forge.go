package api

import (
	"errors"
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/payrelay"
	"github.com/xraph/payrelay/endpoint"
	"github.com/xraph/payrelay/payment"
)

// mapError converts payrelay errors to Forge HTTP errors.
func mapError(err error) error {
	var (
		epVal  *endpoint.ValidationError
		payVal *payment.ValidationError
	)
	switch {
	case errors.As(err, &epVal), errors.As(err, &payVal):
		return forge.BadRequest(err.Error())
	case errors.Is(err, payrelay.ErrEndpointNotFound):
		return forge.NotFound(err.Error())
	case errors.Is(err, payrelay.ErrPaymentNotFound):
		return forge.NotFound(err.Error())
	case errors.Is(err, payrelay.ErrEventNotFound):
		return forge.NotFound(err.Error())
	case errors.Is(err, payrelay.ErrDeliveryNotFound):
		return forge.NotFound(err.Error())
	case errors.Is(err, payrelay.ErrEventTypeNotFound):
		return forge.NotFound(err.Error())
	case errors.Is(err, payrelay.ErrEndpointRevoked):
		return forge.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, payrelay.ErrPaymentNotPending):
		return forge.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, payrelay.ErrSweepInProgress):
		return forge.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, payrelay.ErrStoreClosed):
		return forge.InternalError(err)
	default:
		return forge.InternalError(err)
	}
}
