// Package errors defines the morphoparse error taxonomy: one struct per
// kind, each satisfying error (and Unwrap, for the kinds that wrap an
// underlying cause) so callers can errors.As a specific
// kind when they need to react differently (e.g. retry a TimeoutError but
// not a VerificationError).
package errors

import (
	"fmt"
	"time"
)

// Kind classifies an error for callers that branch on error category
// rather than a specific Go type.
type Kind string

const (
	KindConfig       Kind = "config"
	KindSpawn        Kind = "spawn"
	KindTimeout      Kind = "timeout"
	KindVerification Kind = "verification"
	KindBackend      Kind = "backend"
	KindData         Kind = "data"
	KindNotFound     Kind = "not_found"
	KindCache        Kind = "cache_corruption"
)

// ConfigError signals a configuration error detected before any subprocess
// runs: mismatched delimiters, a missing upstream snapshot, and the like.
type ConfigError struct {
	Field      string
	Underlying error
}

func NewConfigError(field string, err error) *ConfigError {
	return &ConfigError{Field: field, Underlying: err}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error for %s: %v", e.Field, e.Underlying)
}

func (e *ConfigError) Unwrap() error { return e.Underlying }
func (e *ConfigError) Kind() Kind    { return KindConfig }

// SpawnError signals that an external tool could not be started: not on
// PATH, or the fork/exec call itself failed.
type SpawnError struct {
	Argv      []string
	Underlying error
}

func NewSpawnError(argv []string, err error) *SpawnError {
	return &SpawnError{Argv: argv, Underlying: err}
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %v: %v", e.Argv, e.Underlying)
}

func (e *SpawnError) Unwrap() error { return e.Underlying }
func (e *SpawnError) Kind() Kind    { return KindSpawn }

// TimeoutError signals a process runner deadline expiry. The subtree was
// killed before this error was returned.
type TimeoutError struct {
	Argv    []string
	Timeout time.Duration
}

func NewTimeoutError(argv []string, timeout time.Duration) *TimeoutError {
	return &TimeoutError{Argv: argv, Timeout: timeout}
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%v exceeded timeout %s and was killed", e.Argv, e.Timeout)
}

func (e *TimeoutError) Kind() Kind { return KindTimeout }

// VerificationError signals an exit-0 subprocess whose log lacked the
// required verification substring: "script is not a well-formed <type>".
type VerificationError struct {
	ObjectType string
	Substring  string
}

func NewVerificationError(objectType, substring string) *VerificationError {
	return &VerificationError{ObjectType: objectType, Substring: substring}
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("script is not a well-formed %s (missing %q in log)", e.ObjectType, e.Substring)
}

func (e *VerificationError) Kind() Kind { return KindVerification }

// BackendError signals an apply subprocess that crashed mid-batch. The
// parse cache must remain untouched when this is returned.
type BackendError struct {
	Direction  string
	Underlying error
}

func NewBackendError(direction string, err error) *BackendError {
	return &BackendError{Direction: direction, Underlying: err}
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("apply-%s backend failed: %v", e.Direction, e.Underlying)
}

func (e *BackendError) Unwrap() error { return e.Underlying }
func (e *BackendError) Kind() Kind    { return KindBackend }

// DataError signals corrupt or unparseable persisted data whose recovery
// requires the caller's attention: an ARPA parse failure or a corrupt trie
// blob, as opposed to a cache blob (see CacheCorruptionError, which is
// swallowed rather than surfaced).
type DataError struct {
	Source     string
	Underlying error
}

func NewDataError(source string, err error) *DataError {
	return &DataError{Source: source, Underlying: err}
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data error reading %s: %v", e.Source, e.Underlying)
}

func (e *DataError) Unwrap() error { return e.Underlying }
func (e *DataError) Kind() Kind    { return KindData }

// NotFoundError signals a missing binary when an apply was requested:
// "not yet compiled".
type NotFoundError struct {
	Path string
}

func NewNotFoundError(path string) *NotFoundError {
	return &NotFoundError{Path: path}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not yet compiled: %s", e.Path)
}

func (e *NotFoundError) Kind() Kind { return KindNotFound }

// CacheCorruptionError records that a persisted cache blob could not be
// unpickled/decoded; callers treat this as an empty cache and never see
// this type propagate past the cache package's boundary.
type CacheCorruptionError struct {
	Path       string
	Underlying error
}

func NewCacheCorruptionError(path string, err error) *CacheCorruptionError {
	return &CacheCorruptionError{Path: path, Underlying: err}
}

func (e *CacheCorruptionError) Error() string {
	return fmt.Sprintf("cache blob %s unreadable, treating as empty: %v", e.Path, e.Underlying)
}

func (e *CacheCorruptionError) Unwrap() error { return e.Underlying }
func (e *CacheCorruptionError) Kind() Kind    { return KindCache }

// MultiError aggregates independent failures, e.g. from a batch of
// artifact directory removals.
type MultiError struct {
	Errors []error
}

func NewMultiError(errs []error) *MultiError {
	filtered := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	return &MultiError{Errors: filtered}
}

func (e *MultiError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors: %v", len(e.Errors), e.Errors)
}

func (e *MultiError) Unwrap() []error { return e.Errors }
