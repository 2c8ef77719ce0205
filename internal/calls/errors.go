package calls

import "errors"

// Error taxonomy for the signaling surface. Handlers map these to HTTP
// statuses; nothing below this package should depend on HTTP.
var (
	ErrUnauthenticated = errors.New("not authenticated")
	ErrNotAuthorized   = errors.New("not authorized for this call")
	ErrNotFound        = errors.New("call not found")
	ErrInvalidState    = errors.New("operation not valid for current call status")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrSelfCall        = errors.New("cannot call yourself")

	// ErrBusy is the busy-guard rejection; the two variants wrap it so
	// callers can distinguish which side was occupied.
	ErrBusy       = errors.New("user is busy")
	ErrCalleeBusy = errors.New("callee is busy or already in a call")
	ErrCallerBusy = errors.New("caller is already in a call")
)

// IsBusy reports whether err is any busy-guard rejection.
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy) || errors.Is(err, ErrCalleeBusy) || errors.Is(err, ErrCallerBusy)
}
