package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: network timeouts, temporary service unavailability.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting or quota exhaustion.
	// Should be retried with exponential backoff.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict indicates a remote state conflict.
	// Examples: concurrent modifications, relation constraints still held.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: invalid configuration, failed validation, missing capability.
	ErrorClassPermanent ErrorClass = "permanent"
)

// SyncToolError represents a classified error with context.
// All errors surfaced by the plan loader, the providers, and the engine are
// instances of this type; the Code distinguishes the taxonomy member.
// nolint:revive // SyncToolError is intentionally named to distinguish from standard errors
type SyncToolError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Code identifies the taxonomy member for programmatic handling.
	Code string `json:"code,omitempty"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Resource is the plan-item or provider-item ID that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *SyncToolError) Error() string {
	if e.Resource != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (item=%s, operation=%s)%s",
			e.Class, e.Message, e.Resource, e.Operation, e.unwrapSuffix())
	}
	if e.Resource != "" {
		return fmt.Sprintf("[%s] %s (item=%s)%s", e.Class, e.Message, e.Resource, e.unwrapSuffix())
	}
	return fmt.Sprintf("[%s] %s%s", e.Class, e.Message, e.unwrapSuffix())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *SyncToolError) Unwrap() error {
	return e.Err
}

func (e *SyncToolError) unwrapSuffix() string {
	if e.Err != nil {
		return ": " + e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *SyncToolError) Is(target error) bool {
	t, ok := target.(*SyncToolError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// WithResource adds item context to an error.
func (e *SyncToolError) WithResource(id string) *SyncToolError {
	e.Resource = id
	return e
}

// WithOperation adds operation context to an error.
func (e *SyncToolError) WithOperation(operation string) *SyncToolError {
	e.Operation = operation
	return e
}

// WithCode sets the taxonomy code on an error.
func (e *SyncToolError) WithCode(code string) *SyncToolError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *SyncToolError) WithDetail(key string, value interface{}) *SyncToolError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *SyncToolError {
	return &SyncToolError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *SyncToolError {
	return &SyncToolError{Class: ErrorClassThrottled, Message: message, Err: err}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *SyncToolError {
	return &SyncToolError{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *SyncToolError {
	return &SyncToolError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// Taxonomy codes. Callers map these onto exit codes; tests assert on them.
const (
	ErrCodePlanLoad       = "PLAN_LOAD"
	ErrCodePlanValidation = "PLAN_VALIDATION"
	ErrCodeConfig         = "CONFIG"
	ErrCodeAuth           = "AUTHENTICATION"
	ErrCodeCapability     = "PROVIDER_CAPABILITY"
	ErrCodeProjectURL     = "PROJECT_URL"
	ErrCodeProvider       = "PROVIDER"
	ErrCodePartialCreate  = "CREATE_ITEM_PARTIAL_FAILURE"
	ErrCodeSync           = "SYNC"
	ErrCodePlanSelection  = "PLAN_SELECTION"
	ErrCodeCancelled      = "CANCELLED"
)

// Detail keys for structured payloads.
const (
	detailKeyPartialCreate = "partial_create"
	detailKeyIssues        = "issues"
	detailKeyCapability    = "capability"
	detailKeyCandidates    = "candidates"
)

// ValidationIssue is a single plan validation failure. A validation run
// aggregates every issue before failing, so one error reports them all.
type ValidationIssue struct {
	// ItemID is the offending plan item, when attributable.
	ItemID string `json:"item_id,omitempty"`

	// Field names the field the rule applies to.
	Field string `json:"field,omitempty"`

	// Message describes the violated rule.
	Message string `json:"message"`
}

func (v ValidationIssue) String() string {
	switch {
	case v.ItemID != "" && v.Field != "":
		return fmt.Sprintf("%s.%s: %s", v.ItemID, v.Field, v.Message)
	case v.ItemID != "":
		return fmt.Sprintf("%s: %s", v.ItemID, v.Message)
	default:
		return v.Message
	}
}

// PartialCreateInfo carries the identity a provider managed to assign before
// a multi-step create failed. A later run discovers the partially-created
// item by its marker block and completes it.
type PartialCreateInfo struct {
	// CreatedItemID is the provider item ID, if one was assigned.
	CreatedItemID string `json:"created_item_id,omitempty"`

	// CreatedItemKey is the human-readable reference, if one was assigned.
	CreatedItemKey string `json:"created_item_key,omitempty"`

	// CreatedItemURL is the item URL, if one was assigned.
	CreatedItemURL string `json:"created_item_url,omitempty"`

	// CompletedSteps lists the create steps that finished before the failure.
	CompletedSteps []string `json:"completed_steps,omitempty"`

	// Retryable reports whether the provider considers the failure transient.
	Retryable bool `json:"retryable"`
}

// NewPlanLoadError creates a plan load error (missing file, malformed input,
// schema mismatch).
func NewPlanLoadError(message string, err error) *SyncToolError {
	return NewPermanentError(message, err).WithCode(ErrCodePlanLoad)
}

// NewPlanValidationError creates a validation error aggregating all issues.
func NewPlanValidationError(issues []ValidationIssue) *SyncToolError {
	msgs := make([]string, len(issues))
	for i, issue := range issues {
		msgs[i] = issue.String()
	}
	return NewPermanentError(
		fmt.Sprintf("plan validation failed with %d issue(s): %s", len(issues), strings.Join(msgs, "; ")),
		nil,
	).WithCode(ErrCodePlanValidation).WithDetail(detailKeyIssues, issues)
}

// NewConfigError creates a configuration error.
func NewConfigError(message string, err error) *SyncToolError {
	return NewPermanentError(message, err).WithCode(ErrCodeConfig)
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(message string, err error) *SyncToolError {
	return NewPermanentError(message, err).WithCode(ErrCodeAuth)
}

// NewCapabilityError creates an error for a provider missing a required capability.
func NewCapabilityError(capability string) *SyncToolError {
	return NewPermanentError(
		fmt.Sprintf("provider does not support required capability %q", capability),
		nil,
	).WithCode(ErrCodeCapability).WithDetail(detailKeyCapability, capability)
}

// NewProjectURLError creates an error for an unusable board URL.
func NewProjectURLError(url string, err error) *SyncToolError {
	return NewPermanentError(fmt.Sprintf("invalid project board URL %q", url), err).
		WithCode(ErrCodeProjectURL)
}

// NewProviderError creates a general provider runtime error with the given class.
func NewProviderError(class ErrorClass, message string, err error) *SyncToolError {
	return (&SyncToolError{Class: class, Message: message, Err: err}).WithCode(ErrCodeProvider)
}

// NewPartialCreateError creates the structured error for a create that failed
// mid-sequence. Class follows the retryable flag.
func NewPartialCreateError(message string, info PartialCreateInfo, err error) *SyncToolError {
	class := ErrorClassPermanent
	if info.Retryable {
		class = ErrorClassTransient
	}
	return (&SyncToolError{Class: class, Message: message, Err: err}).
		WithCode(ErrCodePartialCreate).
		WithDetail(detailKeyPartialCreate, info)
}

// NewSyncError wraps an engine-level failure. The class is inherited from the
// wrapped error when it is classified.
func NewSyncError(message string, err error) *SyncToolError {
	class := ErrorClassPermanent
	var inner *SyncToolError
	if errors.As(err, &inner) {
		class = inner.Class
	}
	return (&SyncToolError{Class: class, Message: message, Err: err}).WithCode(ErrCodeSync)
}

// NewPlanSelectionError reports that map-sync discovery found several
// candidate plan IDs and the caller must pick one explicitly.
func NewPlanSelectionError(candidates []string) *SyncToolError {
	return NewPermanentError(
		fmt.Sprintf("multiple plans found: %s (select one with an explicit plan ID)", strings.Join(candidates, ", ")),
		nil,
	).WithCode(ErrCodePlanSelection).WithDetail(detailKeyCandidates, candidates)
}

// NewCancelledError wraps a context cancellation.
func NewCancelledError(err error) *SyncToolError {
	return NewPermanentError("operation cancelled", err).WithCode(ErrCodeCancelled)
}

// PartialCreateDetails extracts the structured partial-create payload from an
// error chain. The second return is false when no such payload exists.
func PartialCreateDetails(err error) (PartialCreateInfo, bool) {
	var e *SyncToolError
	for errors.As(err, &e) {
		if info, ok := e.Details[detailKeyPartialCreate].(PartialCreateInfo); ok {
			return info, true
		}
		if e.Err == nil {
			break
		}
		err = e.Err
	}
	return PartialCreateInfo{}, false
}

// ValidationIssues extracts aggregated validation issues from an error chain.
func ValidationIssues(err error) []ValidationIssue {
	var e *SyncToolError
	for errors.As(err, &e) {
		if issues, ok := e.Details[detailKeyIssues].([]ValidationIssue); ok {
			return issues
		}
		if e.Err == nil {
			break
		}
		err = e.Err
	}
	return nil
}

// MissingCapability extracts the missing capability name from an error chain.
func MissingCapability(err error) string {
	var e *SyncToolError
	for errors.As(err, &e) {
		if name, ok := e.Details[detailKeyCapability].(string); ok {
			return name
		}
		if e.Err == nil {
			break
		}
		err = e.Err
	}
	return ""
}

// PlanCandidates extracts candidate plan IDs from a plan-selection error.
func PlanCandidates(err error) []string {
	var e *SyncToolError
	for errors.As(err, &e) {
		if candidates, ok := e.Details[detailKeyCandidates].([]string); ok {
			return candidates
		}
		if e.Err == nil {
			break
		}
		err = e.Err
	}
	return nil
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *SyncToolError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	var e *SyncToolError
	if errors.As(err, &e) {
		return e.Class == ErrorClassThrottled
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *SyncToolError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *SyncToolError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRetryable returns true if the error can be retried.
// Transient, throttled, and conflict errors are retryable.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsThrottled(err) || IsConflict(err)
}

// HasCode reports whether any error in the chain carries the given taxonomy code.
func HasCode(err error, code string) bool {
	var e *SyncToolError
	for errors.As(err, &e) {
		if e.Code == code {
			return true
		}
		if e.Err == nil {
			break
		}
		err = e.Err
	}
	return false
}
