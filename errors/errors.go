// Package errors holds the typed errors of the supplier resolver. Each type
// reports a sentinel through Is so callers can branch with errors.Is without
// depending on the concrete type.
package errors

import (
	"errors"
	"fmt"
)

// New is the standard library errors.New.
var New = errors.New

// Is is the standard library errors.Is.
var Is = errors.Is

// As is the standard library errors.As.
var As = errors.As

var (
	// ErrInvalidMention indicates a mention was rejected before normalization
	ErrInvalidMention = errors.New("invalid mention")

	// ErrAliasConflict indicates an (alias text, source) pair is owned elsewhere
	ErrAliasConflict = errors.New("alias conflict")

	// ErrStoreUnavailable indicates persistence contention outlasted the retry budget
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrMergeConflict indicates a merge request cannot be applied
	ErrMergeConflict = errors.New("merge conflict")

	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrPassInProgress indicates another merge pass holds the reconciler lock
	ErrPassInProgress = errors.New("merge pass already in progress")
)

// InvalidMentionError rejects malformed ingestion input.
type InvalidMentionError struct {
	Field   string
	Message string
}

func (e *InvalidMentionError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid mention field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid mention: %s", e.Message)
}

// Is implements errors.Is support
func (e *InvalidMentionError) Is(target error) bool {
	return target == ErrInvalidMention
}

// NewInvalidMentionError creates a new InvalidMentionError
func NewInvalidMentionError(field, message string) *InvalidMentionError {
	return &InvalidMentionError{Field: field, Message: message}
}

// AliasConflictError is returned when an alias already belongs to a different
// live supplier than the one requested, or is still waiting for review.
type AliasConflictError struct {
	Text               string
	Source             string
	ExistingSupplierID uint
	RequestedSupplier  uint
	Reason             string
}

func (e *AliasConflictError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("alias %q from %s: %s", e.Text, e.Source, e.Reason)
	}
	return fmt.Sprintf("alias %q from %s belongs to supplier %d, not %d",
		e.Text, e.Source, e.ExistingSupplierID, e.RequestedSupplier)
}

// Is implements errors.Is support
func (e *AliasConflictError) Is(target error) bool {
	return target == ErrAliasConflict
}

// NewAliasConflictError creates a new AliasConflictError
func NewAliasConflictError(text, source string, existing, requested uint) *AliasConflictError {
	return &AliasConflictError{Text: text, Source: source, ExistingSupplierID: existing, RequestedSupplier: requested}
}

// StoreUnavailableError wraps the last transient failure after retries ran out.
type StoreUnavailableError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *StoreUnavailableError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// MergeError represents a merge that cannot be applied
type MergeError struct {
	AbsorbedID uint
	SurvivorID uint
	Message    string
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("cannot merge supplier %d into %d: %s", e.AbsorbedID, e.SurvivorID, e.Message)
}

// Is implements errors.Is support
func (e *MergeError) Is(target error) bool {
	return target == ErrMergeConflict
}

// NewMergeError creates a new MergeError
func NewMergeError(absorbed, survivor uint, message string) *MergeError {
	return &MergeError{AbsorbedID: absorbed, SurvivorID: survivor, Message: message}
}

// NotFoundError represents an error when a resource is not found
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Resource, e.ID)
}

// Is implements errors.Is support
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(resource string, id uint) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: fmt.Sprintf("%d", id)}
}

// ConfigError represents a configuration error
type ConfigError struct {
	Key     string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("configuration error in %s: %s", e.Key, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError
func NewConfigError(key, message string, err error) *ConfigError {
	return &ConfigError{Key: key, Message: message, Err: err}
}
