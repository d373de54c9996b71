// Package domain defines the core types for the ISU dialogue engine.
package domain

// MoveType tags a dialogue move. The set is open: the constants below are the
// tags the rule libraries understand, anything else round-trips unchanged.
type MoveType string

const (
	MoveAsk             MoveType = "ask"
	MoveAnswer          MoveType = "answer"
	MoveAssert          MoveType = "assert"
	MoveRequest         MoveType = "request"
	MoveCommand         MoveType = "command"
	MoveInform          MoveType = "inform"
	MoveGreet           MoveType = "greet"
	MoveQuit            MoveType = "quit"
	MoveICM             MoveType = "icm"
	MoveAcknowledge     MoveType = "acknowledge"
	MoveClarify         MoveType = "clarify"
	MovePresentDocument MoveType = "present_document"
)

var knownMoveTypes = map[MoveType]bool{
	MoveAsk: true, MoveAnswer: true, MoveAssert: true, MoveRequest: true,
	MoveCommand: true, MoveInform: true, MoveGreet: true, MoveQuit: true,
	MoveICM: true, MoveAcknowledge: true, MoveClarify: true, MovePresentDocument: true,
}

// IsKnown reports whether the tag is one the built-in rules handle.
func (m MoveType) IsKnown() bool {
	return knownMoveTypes[m]
}

// PlanType names the kind of a plan node.
type PlanType string

const (
	PlanFindout       PlanType = "findout"
	PlanRaise         PlanType = "raise"
	PlanInform        PlanType = "inform"
	PlanGreet         PlanType = "greet"
	PlanPerform       PlanType = "perform"
	PlanNDADrafting   PlanType = "nda_drafting"
	PlanTravelBooking PlanType = "travel_booking"
)

// PlanStatus is the lifecycle state of a plan node.
type PlanStatus string

const (
	PlanActive    PlanStatus = "active"
	PlanCompleted PlanStatus = "completed"
	PlanPending   PlanStatus = "pending"
)

// ActionLevel is the ICM feedback level.
type ActionLevel string

const (
	LevelContact       ActionLevel = "contact"
	LevelPerception    ActionLevel = "perception"
	LevelSemantic      ActionLevel = "semantic"
	LevelUnderstanding ActionLevel = "understanding"
	LevelAcceptance    ActionLevel = "acceptance"
)

// Polarity is the ICM feedback polarity.
type Polarity string

const (
	PolarityPositive      Polarity = "positive"
	PolarityNegative      Polarity = "negative"
	PolarityInterrogative Polarity = "interrogative"
)

// Initiative records who drives the dialogue.
type Initiative string

const (
	InitiativeUser   Initiative = "user"
	InitiativeSystem Initiative = "system"
	InitiativeMixed  Initiative = "mixed"
)

// DialogueStatus is the control state of a dialogue (and of its session).
type DialogueStatus string

const (
	DialogueActive DialogueStatus = "active"
	DialoguePaused DialogueStatus = "paused"
	DialogueEnded  DialogueStatus = "ended"
)

// Session is the persisted header of one dialogue.
type Session struct {
	SessionID     string         `json:"session_id"`
	AgentID       string         `json:"agent_id"`
	DomainName    string         `json:"domain_name"`
	Status        DialogueStatus `json:"status"`
	StateVersion  int64          `json:"state_version"`
	Turn          int            `json:"turn"`
	LastEventSeq  int64          `json:"last_event_seq"`
	CreatedAtUnix int64          `json:"created_at_unix"`
	UpdatedAtUnix int64          `json:"updated_at_unix"`
}

// DialogueEvent is an entry in a session's event log.
type DialogueEvent struct {
	ID          int64  `json:"id"`
	SessionID   string `json:"session_id"`
	SeqNo       int64  `json:"seq_no"`
	Turn        int    `json:"turn"`
	EventType   string `json:"event_type"`
	Speaker     string `json:"speaker"`
	PayloadJSON string `json:"payload_json"`
	CreatedAt   int64  `json:"created_at"`
}

// Event types written to the dialogue event log.
const (
	EventSessionStarted  = "session_started"
	EventUserUtterance   = "user_utterance"
	EventSystemUtterance = "system_utterance"
	EventStatusChanged   = "status_changed"
)

// StateSnapshot is a serialized InformationState captured after a turn.
type StateSnapshot struct {
	ID        int64  `json:"id"`
	SessionID string `json:"session_id"`
	Turn      int    `json:"turn"`
	StateJSON string `json:"state_json"`
	Checksum  string `json:"checksum"`
	CreatedAt int64  `json:"created_at"`
}

// RuleTrace records one rule firing during a turn.
type RuleTrace struct {
	ID        int64  `json:"id"`
	SessionID string `json:"session_id"`
	Turn      int    `json:"turn"`
	Seq       int    `json:"seq"`
	Phase     string `json:"phase"`
	Rule      string `json:"rule"`
	CreatedAt int64  `json:"created_at"`
}
