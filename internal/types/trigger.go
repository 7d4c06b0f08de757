package types

import "time"

// TriggerKind enumerates the three prospective trigger conditions of
// spec §3/§4.I.
type TriggerKind string

const (
	TriggerEvent TriggerKind = "event"
	TriggerTopic TriggerKind = "topic"
	TriggerTime  TriggerKind = "time"
)

// TriggerStatus enumerates the trigger lifecycle of spec §3.
type TriggerStatus string

const (
	TriggerPending   TriggerStatus = "pending"
	TriggerFired     TriggerStatus = "fired"
	TriggerDismissed TriggerStatus = "dismissed"
	TriggerExpired   TriggerStatus = "expired"
)

// TriggerCondition is the tagged payload of spec §3: {after_date} for
// time, {keywords[]} for topic, {project, keywords[]} for event. All
// three fields are present on every condition; callers consult only the
// ones relevant to Kind.
type TriggerCondition struct {
	AfterDate string   `json:"after_date,omitempty"`
	Keywords  []string `json:"keywords,omitempty"`
	Project   string   `json:"project,omitempty"`
}

// ProspectiveTrigger is a future-firing condition attached to a memory
// (spec §3).
type ProspectiveTrigger struct {
	TriggerID int64
	MemoryID  string
	Kind      TriggerKind
	Condition TriggerCondition
	Status    TriggerStatus
	CreatedAt time.Time
	FiredAt   *time.Time
}

// MatchContext is the input to ProspectiveTriggers.Check (spec §4.I).
type MatchContext struct {
	Project     string
	Keywords    []string
	CurrentDate string // YYYY-MM-DD
}
