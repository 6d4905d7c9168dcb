package domain

import "errors"

// Error taxonomy shared by the pricing engine, the lifecycle services and
// the reconciler. Callers classify with errors.Is; the wrapped message
// carries the detail (product id, session id, ...).
var (
	ErrValidation        = errors.New("validation_error")
	ErrProductNotFound   = errors.New("product_not_found")
	ErrInvalidSize       = errors.New("invalid_size")
	ErrSignatureInvalid  = errors.New("signature_invalid")
	ErrGateway           = errors.New("gateway_error")
	ErrPersistence       = errors.New("persistence_error")
	ErrOrderNotFound     = errors.New("order_not_found")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrSessionExists     = errors.New("payment_session_exists")
)

// Code returns the wire code for a taxonomy error, or "internal_error".
func Code(err error) string {
	for _, e := range []error{
		ErrValidation, ErrProductNotFound, ErrInvalidSize, ErrSignatureInvalid,
		ErrGateway, ErrPersistence, ErrOrderNotFound, ErrInvalidTransition, ErrSessionExists,
	} {
		if errors.Is(err, e) {
			return e.Error()
		}
	}
	return "internal_error"
}
