package errors

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalid      = errors.New("invalid")
	ErrConflict     = errors.New("conflict")
	ErrRaceLost     = errors.New("conditional write lost race")
	ErrThrottled    = errors.New("throttled by external service")
	ErrTooMany      = errors.New("too many requests")
	ErrInternal     = errors.New("internal")
	ErrNoTenant     = errors.New("tenant not configured")
)

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsRaceLost(err error) bool {
	return errors.Is(err, ErrRaceLost)
}

func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}
