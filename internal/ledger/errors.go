package ledger

import "errors"

// Domain errors. They are never returned bare from an operation; each one is
// carried in Result.Err so callers can match with errors.Is and show
// Result.Message to the user.
var (
	ErrNotAuthenticated    = errors.New("please login to place orders")
	ErrInsufficientMargin  = errors.New("insufficient margin")
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderNotCancellable = errors.New("only pending orders can be cancelled")
	ErrOrderNotPending     = errors.New("order is not pending")
	ErrPositionNotFound    = errors.New("position not found")
	ErrInvalidOrder        = errors.New("invalid order")
	ErrSymbolHeld          = errors.New("symbol has an open position held by another account")
)

// Result is the outcome of a ledger operation.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	OrderID string `json:"order_id,omitempty"`
	Err     error  `json:"-"`
}

func succeed(msg, orderID string) Result {
	return Result{Success: true, Message: msg, OrderID: orderID}
}

func fail(err error) Result {
	return Result{Message: err.Error(), Err: err}
}
