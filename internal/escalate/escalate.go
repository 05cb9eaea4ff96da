// Package escalate counts component failures, decides recovery actions
// from a fixed decision table, and fires the destruction sequence when a
// category breaches its threshold or a critical security fault occurs.
package escalate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arenvik/deadbolt/internal/config"
)

// Category classifies the origin of an error event.
type Category string

const (
	CategoryCrypto   Category = "crypto"
	CategorySecurity Category = "security"
	CategoryStorage  Category = "storage"
	CategoryOther    Category = "other"
)

// Severity ranks an error event.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the lowercase name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	}
	return "unknown"
}

// ErrorEvent is the tagged-variant failure report exchanged between
// components. No exception hierarchy; handling is table-driven.
type ErrorEvent struct {
	Category    Category
	Severity    Severity
	Recoverable bool
	Context     string
	Timestamp   time.Time
}

// RecoveryAction is the outcome of the decision table.
type RecoveryAction string

const (
	ActionEscalate         RecoveryAction = "escalate"
	ActionComponentRestart RecoveryAction = "component-restart"
	ActionUserIntervention RecoveryAction = "user-intervention"
	ActionRetry            RecoveryAction = "retry"
	ActionFallback         RecoveryAction = "fallback"
	ActionIgnore           RecoveryAction = "ignore"
)

// ErrorHandlingResult is what callers receive back from Report.
type ErrorHandlingResult struct {
	Action      RecoveryAction
	Recovered   bool
	UserMessage string
}

// PanicSource identifies what fired the destruction sequence.
type PanicSource string

const (
	SourcePersonaMatch    PanicSource = "explicit-persona-match"
	SourceThresholdBreach PanicSource = "threshold-breach"
	SourceSecurityFault   PanicSource = "critical-security-fault"
	SourceOperatorAction  PanicSource = "operator-action"
)

// PanicFunc receives the reason and source when escalation decides the
// vault must be destroyed. It must be idempotent.
type PanicFunc func(reason string, source PanicSource)

// Escalator maintains monotonic per-category error counters and the
// decision table. Counters only reset through ConfirmSuccess, never on a
// timer.
type Escalator struct {
	crypto   atomic.Int64
	security atomic.Int64
	storage  atomic.Int64
	other    atomic.Int64

	thresholds config.EscalationConfig
	onPanic    PanicFunc

	// fireOnce guards the panic callback: escalation fires it at most
	// once per Escalator lifetime.
	fireOnce sync.Once
}

// New creates an Escalator with the given thresholds. onPanic may be nil
// for callers that only want counting and recovery decisions.
func New(thresholds config.EscalationConfig, onPanic PanicFunc) *Escalator {
	return &Escalator{
		thresholds: thresholds,
		onPanic:    onPanic,
	}
}

func (e *Escalator) counter(c Category) *atomic.Int64 {
	switch c {
	case CategoryCrypto:
		return &e.crypto
	case CategorySecurity:
		return &e.security
	case CategoryStorage:
		return &e.storage
	default:
		return &e.other
	}
}

func (e *Escalator) threshold(c Category) int64 {
	switch c {
	case CategoryCrypto:
		return int64(e.thresholds.CryptoThreshold)
	case CategorySecurity:
		return int64(e.thresholds.SecurityThreshold)
	case CategoryStorage:
		return int64(e.thresholds.StorageThreshold)
	default:
		return int64(e.thresholds.OtherThreshold)
	}
}

// Report records an error event and returns the selected recovery
// action. Critical security faults and threshold breaches fire the panic
// callback before returning.
func (e *Escalator) Report(event ErrorEvent) ErrorHandlingResult {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	count := e.counter(event.Category).Add(1)

	if event.Severity == SeverityCritical && event.Category == CategorySecurity {
		e.firePanic("critical security fault: "+event.Context, SourceSecurityFault)
		return ErrorHandlingResult{
			Action:      ActionEscalate,
			Recovered:   false,
			UserMessage: "a critical security fault occurred",
		}
	}

	if count >= e.threshold(event.Category) {
		e.firePanic(string(event.Category)+" error threshold breached", SourceThresholdBreach)
		return ErrorHandlingResult{
			Action:      ActionEscalate,
			Recovered:   false,
			UserMessage: "repeated failures exceeded the safety threshold",
		}
	}

	return decide(event)
}

// decide applies the fixed recovery decision table.
func decide(event ErrorEvent) ErrorHandlingResult {
	switch {
	case event.Severity == SeverityCritical:
		return ErrorHandlingResult{
			Action:      ActionEscalate,
			UserMessage: "a critical error occurred",
		}
	case event.Severity == SeverityHigh && event.Recoverable:
		return ErrorHandlingResult{
			Action:      ActionComponentRestart,
			Recovered:   true,
			UserMessage: "the component will be restarted",
		}
	case event.Severity == SeverityHigh:
		return ErrorHandlingResult{
			Action:      ActionUserIntervention,
			UserMessage: "manual intervention is required",
		}
	case event.Severity == SeverityMedium && event.Recoverable:
		return ErrorHandlingResult{
			Action:      ActionRetry,
			Recovered:   true,
			UserMessage: "the operation will be retried",
		}
	case event.Severity == SeverityMedium:
		return ErrorHandlingResult{
			Action:      ActionFallback,
			Recovered:   true,
			UserMessage: "a fallback path will be used",
		}
	default:
		return ErrorHandlingResult{
			Action:      ActionIgnore,
			Recovered:   true,
			UserMessage: "",
		}
	}
}

func (e *Escalator) firePanic(reason string, source PanicSource) {
	if e.onPanic == nil {
		return
	}
	e.fireOnce.Do(func() {
		e.onPanic(reason, source)
	})
}

// TriggerPanic fires the panic callback directly, bypassing the counters.
// Used for explicit persona matches and operator action.
func (e *Escalator) TriggerPanic(reason string, source PanicSource) {
	e.firePanic(reason, source)
}

// ConfirmSuccess resets the counter for a category after an explicitly
// confirmed successful operation. This is the only reset path.
func (e *Escalator) ConfirmSuccess(c Category) {
	e.counter(c).Store(0)
}

// Snapshot is a read-only view of the escalation state.
type Snapshot struct {
	Total       int64
	ByCategory  map[Category]int64
	HealthScore int
}

// Snapshot returns current counters and a 0-100 health score weighted
// toward how close critical categories are to their thresholds.
func (e *Escalator) Snapshot() Snapshot {
	by := map[Category]int64{
		CategoryCrypto:   e.crypto.Load(),
		CategorySecurity: e.security.Load(),
		CategoryStorage:  e.storage.Load(),
		CategoryOther:    e.other.Load(),
	}

	var total int64
	for _, v := range by {
		total += v
	}

	// Weighted fill ratio: security and crypto failures dominate.
	weights := map[Category]float64{
		CategorySecurity: 0.4,
		CategoryCrypto:   0.3,
		CategoryStorage:  0.2,
		CategoryOther:    0.1,
	}
	var fill float64
	for c, w := range weights {
		ratio := float64(by[c]) / float64(e.threshold(c))
		if ratio > 1 {
			ratio = 1
		}
		fill += w * ratio
	}

	score := int(100 * (1 - fill))
	if score < 0 {
		score = 0
	}

	return Snapshot{
		Total:       total,
		ByCategory:  by,
		HealthScore: score,
	}
}

// Retry parameters are fixed: capped exponential backoff, base 1s,
// cap 5s, at most 3 attempts before the terminal failure surfaces.
const (
	retryAttempts = 3
	retryBase     = time.Second
	retryCap      = 5 * time.Second
)

// ErrRetriesExhausted wraps the last error after all retry attempts fail.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Retry runs op up to 3 times with capped exponential backoff. The last
// error is wrapped in ErrRetriesExhausted when all attempts fail.
func Retry(ctx context.Context, op func() error) error {
	return retryWith(ctx, op, retryBase, retryCap)
}

func retryWith(ctx context.Context, op func() error, base, max time.Duration) error {
	var lastErr error
	delay := base

	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
			if delay > max {
				delay = max
			}
		}

		if lastErr = op(); lastErr == nil {
			return nil
		}
	}

	return errors.Join(ErrRetriesExhausted, lastErr)
}
