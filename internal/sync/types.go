package sync

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// EntityType names a synchronized entity family
type EntityType string

const (
	EntityTypeMessage    EntityType = "messages"
	EntityTypeTask       EntityType = "tasks"
	EntityTypeTeam       EntityType = "teams"
	EntityTypeTeamMember EntityType = "team_members"
	EntityTypeDocument   EntityType = "documents"
	EntityTypeUser       EntityType = "users"
)

// Status is the sync state of a single entity record.
// The set is closed: every switch over Status must handle all four values.
type Status uint8

const (
	StatusSynced Status = iota
	StatusPendingCreate
	StatusPendingUpdate
	StatusPendingDelete
)

var statusNames = [...]string{
	StatusSynced:        "synced",
	StatusPendingCreate: "pending_create",
	StatusPendingUpdate: "pending_update",
	StatusPendingDelete: "pending_delete",
}

// pushOrder is the fixed order of the push phase. Creates go first so that
// server ids assigned in this batch exist before updates and deletes run.
var pushOrder = [...]Status{StatusPendingCreate, StatusPendingUpdate, StatusPendingDelete}

func (s Status) String() string {
	if s.Valid() {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Valid reports whether s is one of the four known states
func (s Status) Valid() bool {
	return int(s) < len(statusNames)
}

// IsPending reports whether the record carries an unacknowledged local mutation
func (s Status) IsPending() bool {
	return s.Valid() && s != StatusSynced
}

// ParseStatus converts the persisted form back into a Status
func ParseStatus(v string) (Status, error) {
	for i, name := range statusNames {
		if name == v {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown sync status %q", v)
}

// MarshalText implements encoding.TextMarshaler
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid sync status %d", uint8(s))
	}
	return []byte(statusNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Value implements driver.Valuer so the status is stored as text
func (s Status) Value() (driver.Value, error) {
	b, err := s.MarshalText()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (s *Status) Scan(value interface{}) error {
	switch v := value.(type) {
	case string:
		return s.UnmarshalText([]byte(v))
	case []byte:
		return s.UnmarshalText(v)
	default:
		return fmt.Errorf("cannot scan %T into sync status", value)
	}
}

// Scope identifies one synchronization domain, e.g. "messages for team 42".
// Every scope owns exactly one pull cursor.
type Scope struct {
	Entity EntityType `json:"entity"`
	Key    string     `json:"key"`
}

// NewScope builds a scope for an entity family
func NewScope(entity EntityType, key string) Scope {
	return Scope{Entity: entity, Key: key}
}

func (s Scope) String() string {
	return string(s.Entity) + ":" + s.Key
}

// ParseScope parses the "entity:key" form produced by String
func ParseScope(v string) (Scope, error) {
	entity, key, ok := strings.Cut(v, ":")
	if !ok || entity == "" || key == "" {
		return Scope{}, fmt.Errorf("invalid scope %q (want entity:key)", v)
	}
	return Scope{Entity: EntityType(entity), Key: key}, nil
}

// Action is the decision the conflict resolver takes for one remote entity
type Action uint8

const (
	ActionInsert Action = iota + 1
	ActionOverwrite
	ActionKeep
	ActionDefer
	ActionRemove
)

func (a Action) String() string {
	switch a {
	case ActionInsert:
		return "insert"
	case ActionOverwrite:
		return "overwrite"
	case ActionKeep:
		return "keep"
	case ActionDefer:
		return "defer"
	case ActionRemove:
		return "remove"
	default:
		return fmt.Sprintf("Action(%d)", uint8(a))
	}
}

// Outcome classifies what happened to one pushed record in a cycle
type Outcome string

const (
	OutcomeSucceeded    Outcome = "succeeded"
	OutcomeFailed       Outcome = "failed"        // transient, retried next cycle
	OutcomeRejected     Outcome = "rejected"      // remote refused, backing off
	OutcomeDeadLettered Outcome = "dead_lettered" // retry budget exhausted in this cycle
	OutcomeSkipped      Outcome = "skipped"       // still inside its backoff window
	OutcomeParked       Outcome = "parked"        // dead-lettered earlier, waits for a requeue
)
