package domain

import (
	"errors"
	"fmt"
)

var (
	// Configuration errors abort a single cohort.
	ErrInvalidCohortName = errors.New("invalid cohort name")
	ErrDataRootNotFound  = errors.New("data root not found")
	ErrCohortNotFound    = errors.New("cohort not found")

	// Data errors exclude a single pack from a cohort.
	ErrMissingColumn    = errors.New("missing required column")
	ErrEmptyExtract     = errors.New("empty extract")
	ErrMalformedExtract = errors.New("malformed extract")
	ErrNegativeValue    = errors.New("negative transaction value")
	ErrNonFiniteValue   = errors.New("non-finite transaction value")

	// ErrUnauthorized aborts the whole run.
	ErrUnauthorized = errors.New("warehouse authorization failed")
)

type ErrorKind string

const (
	ErrorKindConfiguration ErrorKind = "configuration"
	ErrorKindData          ErrorKind = "data"
	ErrorKindTransient     ErrorKind = "transient_service"
	ErrorKindFatal         ErrorKind = "fatal"
)

// ClassifyError maps an error to the taxonomy; anything unrecognised is
// treated as a service failure that has already exhausted its retries.
func ClassifyError(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return ErrorKindFatal
	case errors.Is(err, ErrInvalidCohortName),
		errors.Is(err, ErrDataRootNotFound),
		errors.Is(err, ErrCohortNotFound):
		return ErrorKindConfiguration
	case errors.Is(err, ErrMissingColumn),
		errors.Is(err, ErrEmptyExtract),
		errors.Is(err, ErrMalformedExtract),
		errors.Is(err, ErrNegativeValue):
		return ErrorKindData
	default:
		return ErrorKindTransient
	}
}

// UnitError is a failure recorded against a (cohort, pack) pair. Pack is
// empty for cohort-level failures and Cohort is empty for run-level ones.
type UnitError struct {
	Cohort  string
	Pack    Pack
	Kind    ErrorKind
	Message string
}

func NewUnitError(cohort string, pack Pack, err error) UnitError {
	return UnitError{
		Cohort:  cohort,
		Pack:    pack,
		Kind:    ClassifyError(err),
		Message: err.Error(),
	}
}

func (e UnitError) Error() string {
	switch {
	case e.Cohort == "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Pack == "":
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Cohort, e.Message)
	default:
		return fmt.Sprintf("%s [%s/%s]: %s", e.Kind, e.Cohort, e.Pack, e.Message)
	}
}
