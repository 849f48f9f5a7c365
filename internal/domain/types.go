// Package domain holds the core types shared by the installer and the
// request router. It has no infrastructure dependencies.
package domain

import (
	"fmt"
	"time"
)

// ─── Installation State ─────────────────────────────────────────────────────

// InstallPhase is the supervisor's state machine position. Each phase
// asserts that everything before it has been verified.
type InstallPhase int

const (
	Uninstalled InstallPhase = iota
	DependenciesOk
	EngineOk
	ModelOk
	FeaturesOk
	WrapperOk
	Healthy
)

// String returns a human-readable phase label.
func (p InstallPhase) String() string {
	switch p {
	case Uninstalled:
		return "UNINSTALLED"
	case DependenciesOk:
		return "DEPENDENCIES_OK"
	case EngineOk:
		return "ENGINE_OK"
	case ModelOk:
		return "MODEL_OK"
	case FeaturesOk:
		return "FEATURES_OK"
	case WrapperOk:
		return "WRAPPER_OK"
	case Healthy:
		return "HEALTHY"
	default:
		return "UNKNOWN"
	}
}

// ParsePhase converts a stored label back into an InstallPhase.
// Unknown labels map to Uninstalled so a corrupt checkpoint forces
// a full re-verification rather than a crash.
func ParsePhase(s string) InstallPhase {
	for p := Uninstalled; p <= Healthy; p++ {
		if p.String() == s {
			return p
		}
	}
	return Uninstalled
}

// ModelStatus tracks verification progress of the selected model artifact.
type ModelStatus string

const (
	ModelAbsent      ModelStatus = "absent"
	ModelDownloading ModelStatus = "downloading"
	ModelUnverified  ModelStatus = "present-unverified"
	ModelVerified    ModelStatus = "present-verified"
)

// ModelSelection is the chosen model plus its local artifact state.
type ModelSelection struct {
	Name   string
	Path   string
	Status ModelStatus
}

// FeatureStatus is the outcome recorded for a feature script.
type FeatureStatus string

const (
	FeaturePending   FeatureStatus = "pending"
	FeatureInstalled FeatureStatus = "installed"
	FeatureFailed    FeatureStatus = "failed"
)

// FeatureRecord is one entry of the numbered feature registry.
type FeatureRecord struct {
	Index       int
	Name        string
	Source      string
	Status      FeatureStatus
	InstalledAt time.Time
}

// ─── Conversation Log ───────────────────────────────────────────────────────

// Role identifies the author of a conversation entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationEntry is one turn of the append-only conversation log.
// Owned solely by the request router; the installer never writes it.
type ConversationEntry struct {
	ID        string
	Role      Role
	Content   string
	CreatedAt time.Time
}

// ─── Step Outcomes ──────────────────────────────────────────────────────────

// OutcomeKind classifies a step result. Only the supervisor decides
// whether a retryable or local failure is fatal for the overall run.
type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeRetryable
	OutcomeFatal
)

// String returns a human-readable outcome label.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome carries a step result with its classification.
type Outcome struct {
	Kind OutcomeKind
	Err  error
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool { return o.Kind == OutcomeOK }

// Error implements error for non-OK outcomes.
func (o Outcome) Error() string {
	if o.Err == nil {
		return o.Kind.String()
	}
	return fmt.Sprintf("%s: %v", o.Kind, o.Err)
}

// Unwrap exposes the underlying error for errors.Is checks.
func (o Outcome) Unwrap() error { return o.Err }

// ─── Helpers ────────────────────────────────────────────────────────────────

// HumanSize formats bytes into a human-readable string.
func HumanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
