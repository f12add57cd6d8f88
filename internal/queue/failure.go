package queue

import "fmt"

// FailureKind classifies why a job failed so hosts can offer a remediation.
type FailureKind string

const (
	FailureMissingEncoder   FailureKind = "missing_encoder"
	FailureMissingFilter    FailureKind = "missing_filter"
	FailureMissingDecoder   FailureKind = "missing_decoder"
	FailureMissingLibrary   FailureKind = "missing_library"
	FailureInputNotFound    FailureKind = "input_not_found"
	FailurePermissionDenied FailureKind = "permission_denied"
	FailureConcat           FailureKind = "concat_failed"
	FailureUnknownPreset    FailureKind = "unknown_preset"
	FailureEncoderCrash     FailureKind = "encoder_crash"
)

// Failure describes a terminal job failure.
type Failure struct {
	Kind FailureKind `json:"kind"`
	// Component names the missing capability or the offending path, when known.
	Component string `json:"component,omitempty"`
	Reason    string `json:"reason"`
}

// MissingCapability reports whether the failure stems from the encoder
// build lacking a component.
func (f *Failure) MissingCapability() bool {
	if f == nil {
		return false
	}
	switch f.Kind {
	case FailureMissingEncoder, FailureMissingFilter, FailureMissingDecoder, FailureMissingLibrary:
		return true
	}
	return false
}

// Summary renders a one-line description for logs and tables.
func (f *Failure) Summary() string {
	if f == nil {
		return ""
	}
	if f.Component != "" {
		return fmt.Sprintf("%s (%s): %s", f.Kind, f.Component, f.Reason)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Reason)
}
