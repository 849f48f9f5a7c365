package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Fetch errors
	ErrFetchExhausted = errors.New("fetch retries exhausted")
	ErrNotFound       = errors.New("remote resource not found")

	// Engine errors
	ErrNoWorkingBinary = errors.New("no working engine binary found")
	ErrBuildFailed     = errors.New("engine build failed")

	// Dependency errors
	ErrDependencyUnsatisfied = errors.New("required dependency could not be installed")
	ErrNoPackageManager      = errors.New("no supported package manager found")

	// Model errors
	ErrModelNotFound   = errors.New("model not found in catalog")
	ErrModelEmpty      = errors.New("downloaded model file is empty")
	ErrModelUnverified = errors.New("model failed inference smoke test")

	// Feature errors
	ErrFeatureFailed = errors.New("feature script exited with failure")

	// Self-update errors
	ErrUpdateUnavailable = errors.New("remote version unavailable")

	// State store errors
	ErrStateLocked  = errors.New("installation is locked by another supervisor")
	ErrNotInstalled = errors.New("installation is not healthy — run 'ai install'")

	// Router errors
	ErrDelegateFailed = errors.New("script-generation delegate failed")
)
