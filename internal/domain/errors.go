package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error kinds. Every typed error below reports one of these through Is, so
// callers can branch with errors.Is(err, domain.ErrTimeout) without caring
// about the concrete type.
var (
	ErrValidation     = errors.New("validation error")
	ErrConnectivity   = errors.New("connectivity error")
	ErrTimeout        = errors.New("timeout")
	ErrPartialFailure = errors.New("partial failure")
	ErrPipeline       = errors.New("pipeline failed")
)

// Domain errors represent business-level conditions shared across layers.
var (
	// Container errors
	ErrContainerNotFound = errors.New("container not found")

	// Image errors
	ErrImagePullFailed = errors.New("failed to pull image")

	// Network errors
	ErrNetworkExists = errors.New("network already exists")

	// Volume errors
	ErrVolumeExists   = errors.New("volume already exists")
	ErrVolumeNotFound = errors.New("volume not found")

	// Resource allocation
	ErrNoPortAvailable = errors.New("no free port available")

	// Migration
	ErrEmptyDump = errors.New("dump produced no output")

	// Catalog
	ErrUnknownDatabaseType = errors.New("unknown database type")
)

// ConfigError reports an invalid configuration value.
type ConfigError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// Is reports the validation kind.
func (e *ConfigError) Is(target error) bool { return target == ErrValidation }

// ConflictError reports a host port or container name already taken by an
// existing container.
type ConflictError struct {
	Resource string // "port" or "name"
	Value    string
	Owner    string // container holding the resource
}

func (e *ConflictError) Error() string {
	if e.Resource == "port" {
		return fmt.Sprintf("port %s is already in use by container %q", e.Value, e.Owner)
	}
	return fmt.Sprintf("a container named %q already exists", e.Value)
}

// Is reports the validation kind.
func (e *ConflictError) Is(target error) bool { return target == ErrValidation }

// TimeoutError reports an operation that did not finish within its bound.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
}

// Is reports the timeout kind.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ImageErrorKind distinguishes the terminal outcomes of an image pull.
type ImageErrorKind string

const (
	ImagePullFailed  ImageErrorKind = "pull_failed"
	ImagePullTimeout ImageErrorKind = "pull_timeout"
	ImageListFailed  ImageErrorKind = "list_failed"
)

// ImageError reports a failure to make an image available locally.
type ImageError struct {
	Image string
	Kind  ImageErrorKind
	Err   error
}

func (e *ImageError) Error() string {
	switch e.Kind {
	case ImagePullTimeout:
		return fmt.Sprintf("pulling image %s timed out: %v", e.Image, e.Err)
	case ImageListFailed:
		return fmt.Sprintf("listing local images failed: %v", e.Err)
	default:
		return fmt.Sprintf("pulling image %s failed: %v", e.Image, e.Err)
	}
}

func (e *ImageError) Unwrap() error { return e.Err }

// Is maps a pull timeout to ErrTimeout and a runtime failure to ErrImagePullFailed.
func (e *ImageError) Is(target error) bool {
	switch e.Kind {
	case ImagePullTimeout:
		return target == ErrTimeout
	case ImagePullFailed:
		return target == ErrImagePullFailed
	}
	return false
}

// StepError reports the step at which a multi-step pipeline aborted.
// Detail carries captured command output so the failure is actionable
// without a second round trip.
type StepError struct {
	Pipeline string
	Step     string
	Err      error
	Detail   string
}

func (e *StepError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed at step %s: %v", e.Pipeline, e.Step, e.Err)
	if e.Detail != "" {
		b.WriteString(" (")
		b.WriteString(e.Detail)
		b.WriteString(")")
	}
	return b.String()
}

func (e *StepError) Unwrap() error { return e.Err }

// Is reports the pipeline kind in addition to whatever the cause reports.
func (e *StepError) Is(target error) bool { return target == ErrPipeline }

// PartialFailure reports a non-fatal problem inside a batch or pipeline.
// It is logged, never returned as the result of the surrounding operation.
type PartialFailure struct {
	Op     string
	Detail string
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("%s completed with problems: %s", e.Op, e.Detail)
}

// Is reports the partial failure kind.
func (e *PartialFailure) Is(target error) bool { return target == ErrPartialFailure }

// ConnectivityError wraps a failure to reach the engine or a source database.
type ConnectivityError struct {
	Target string
	Err    error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("cannot reach %s: %v", e.Target, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// Is reports the connectivity kind.
func (e *ConnectivityError) Is(target error) bool { return target == ErrConnectivity }

// Tail returns at most n trailing bytes of output, trimmed, for error details.
func Tail(output []byte, n int) string {
	s := strings.TrimSpace(string(output))
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
