package errs

import "errors"

// Доменные ошибки. Оборачиваются через fmt.Errorf("%w: ...") и
// переводятся в HTTP-статусы один раз, в handler.
var (
	ErrValidation     = errors.New("validation failed")
	ErrUnauthorized   = errors.New("authentication required")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not found")
	ErrTicketNotFound = errors.New("ticket not found")
	ErrTicketClosed   = errors.New("ticket is closed")
	ErrLocked         = errors.New("locked")
	ErrConflict       = errors.New("revision conflict")
)

// ConflictError — ревизии, участвовавшие в неудачном compare-and-swap.
type ConflictError struct {
	Path     string
	Expected string
}

func (e *ConflictError) Error() string {
	if e.Expected == "" {
		return "revision conflict: " + e.Path + " already exists"
	}
	return "revision conflict: " + e.Path + " changed since revision " + e.Expected
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
