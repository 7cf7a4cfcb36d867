package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidOrder  = errors.New("invalid order")
	ErrInvalidBar    = errors.New("invalid bar")
	ErrInvalidConfig = errors.New("invalid config")
	ErrRiskRejected  = errors.New("order rejected by risk checks")
	ErrOrderNotFound = errors.New("order not found")
	ErrOrderClosed   = errors.New("order is no longer live")
	ErrNotFound      = errors.New("not found")
)

// ValidationError reports malformed input. It unwraps to ErrInvalidOrder,
// ErrInvalidBar or ErrInvalidConfig.
type ValidationError struct {
	Kind   error
	Reason string
}

func (e *ValidationError) Error() string { return e.Kind.Error() + ": " + e.Reason }
func (e *ValidationError) Unwrap() error { return e.Kind }

func invalidOrder(format string, args ...any) error {
	return &ValidationError{Kind: ErrInvalidOrder, Reason: fmt.Sprintf(format, args...)}
}

func invalidBar(format string, args ...any) error {
	return &ValidationError{Kind: ErrInvalidBar, Reason: fmt.Sprintf(format, args...)}
}

func invalidConfig(format string, args ...any) error {
	return &ValidationError{Kind: ErrInvalidConfig, Reason: fmt.Sprintf(format, args...)}
}

// RejectionError is returned by SubmitOrder when the risk policy fails.
type RejectionError struct {
	Check RiskCheckResult
}

func (e *RejectionError) Error() string {
	return strings.Join(e.Check.Messages(), "; ")
}

func (e *RejectionError) Unwrap() error { return ErrRiskRejected }
