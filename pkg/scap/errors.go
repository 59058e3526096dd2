package scap

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared across the toolkit. Wrap with %w and test with
// errors.Is.
var (
	// ErrNotFound means neither the target identity nor any fallback has a
	// source datastream, even after provisioning.
	ErrNotFound = errors.New("datastream not found")

	// ErrAdaptationFailed means a fallback source exists but every
	// adaptation strategy failed. The wrapping *AdaptationError carries the
	// per-strategy reasons.
	ErrAdaptationFailed = errors.New("datastream adaptation failed")

	// ErrToolMissing means a required external binary is not installed.
	ErrToolMissing = errors.New("required tool not installed")

	// ErrConnectivity means a remote host did not answer the pre-check.
	ErrConnectivity = errors.New("host not reachable")

	// ErrUserAborted means the operator declined a confirmation prompt.
	ErrUserAborted = errors.New("aborted by operator")

	// ErrPartialEvaluation means a scan ran to completion but some rules
	// failed. Reports exist; the outcome is reportable, not fatal.
	ErrPartialEvaluation = errors.New("evaluation finished with failed rules")
)

// StrategyAttempt records one adaptation strategy that was tried and why it
// did not produce a result.
type StrategyAttempt struct {
	Strategy Strategy
	Reason   string
}

// AdaptationError reports that every strategy between a fallback source and
// the target failed. It unwraps to ErrAdaptationFailed.
type AdaptationError struct {
	Target   OSIdentity
	Source   OSIdentity
	Attempts []StrategyAttempt
}

func (e *AdaptationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "adapting %s content for %s failed", e.Source, e.Target)
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "; %s: %s", a.Strategy, a.Reason)
	}
	return b.String()
}

func (e *AdaptationError) Unwrap() error {
	return ErrAdaptationFailed
}
