package domain

import "fmt"

// EngineError is the unified error type for the engine.
// Each error has a numeric code and human-readable message.
type EngineError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

// Is matches any EngineError carrying the same code, so errors built with
// NewEngineError from a sentinel's code satisfy errors.Is against it.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewEngineError creates a new EngineError.
func NewEngineError(code int, msg string) *EngineError {
	return &EngineError{Code: code, Message: msg}
}

// WrapEngineError creates an EngineError that includes a cause.
func WrapEngineError(code int, msg string, cause error) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf("%s: %v", msg, cause)}
}

// ---- Semantic value / codec errors (-32010 to -32029) ----

var (
	ErrUnknownQuestionType = &EngineError{Code: -32010, Message: "unknown question type"}
	ErrUnknownContentKind  = &EngineError{Code: -32011, Message: "unknown move content kind"}
	ErrUnknownValueType    = &EngineError{Code: -32012, Message: "unexpected value type tag"}
	ErrMalformedState      = &EngineError{Code: -32013, Message: "malformed information state"}
)

// ---- Domain model errors (-32030 to -32049) ----

var (
	ErrNoPlanBuilder     = &EngineError{Code: -32030, Message: "no plan builder registered for task"}
	ErrUnknownDomain     = &EngineError{Code: -32031, Message: "unknown domain"}
	ErrDuplicateDomain   = &EngineError{Code: -32032, Message: "domain already registered"}
	ErrUnknownPredicate  = &EngineError{Code: -32033, Message: "unknown predicate"}
	ErrDomainInvalid     = &EngineError{Code: -32034, Message: "domain model validation failed"}
	ErrPlanBuilderFailed = &EngineError{Code: -32035, Message: "plan builder failed"}
)

// ---- Rule engine errors (-32050 to -32069) ----

var (
	ErrInvalidRule         = &EngineError{Code: -32050, Message: "invalid update rule"}
	ErrUnknownPhase        = &EngineError{Code: -32051, Message: "unknown rule phase"}
	ErrInterpreter         = &EngineError{Code: -32052, Message: "interpretation failed"}
	ErrGenerator           = &EngineError{Code: -32053, Message: "generation failed"}
	ErrProviderUnavailable = &EngineError{Code: -32054, Message: "component provider unavailable"}
	ErrProviderProtocol    = &EngineError{Code: -32055, Message: "component provider protocol error"}
)

// ---- Session / guard errors (-32100 to -32129) ----

var (
	ErrSessionNotFound   = &EngineError{Code: -32100, Message: "session not found"}
	ErrSessionEnded      = &EngineError{Code: -32101, Message: "session has ended"}
	ErrSessionPaused     = &EngineError{Code: -32102, Message: "session is paused"}
	ErrInvalidTransition = &EngineError{Code: -32103, Message: "invalid session status transition"}
	ErrOptimisticLock    = &EngineError{Code: -32104, Message: "optimistic lock conflict: state was modified concurrently"}
	ErrDuplicateSession  = &EngineError{Code: -32105, Message: "session already exists"}
	ErrRateLimitExceeded = &EngineError{Code: -32106, Message: "rate limit exceeded"}
	ErrMaxTurnsExceeded  = &EngineError{Code: -32107, Message: "maximum dialogue turns exceeded"}
	ErrEmptyUtterance    = &EngineError{Code: -32108, Message: "utterance is empty"}
)

// ---- Store / Recovery / Config errors (-32130 to -32159) ----

var (
	ErrStoreInit       = &EngineError{Code: -32130, Message: "failed to initialize store"}
	ErrStoreQuery      = &EngineError{Code: -32131, Message: "store query failed"}
	ErrStoreWrite      = &EngineError{Code: -32132, Message: "store write failed"}
	ErrSnapshotCorrupt = &EngineError{Code: -32134, Message: "snapshot checksum mismatch"}
	ErrRecoveryFailed  = &EngineError{Code: -32135, Message: "recovery from snapshot failed"}
	ErrConfigInvalid   = &EngineError{Code: -32136, Message: "invalid configuration"}
	ErrDuplicateEvent  = &EngineError{Code: -32137, Message: "duplicate event sequence number"}
)
