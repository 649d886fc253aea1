package workitem

import (
	"encoding/json"
	"strings"
	"time"
)

// Type tags a work item with its pipeline stage.
type Type string

// Status represents the lifecycle of a work item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusClaimed    Status = "claimed"
	StatusProcessing Status = "processing"
	StatusCascading  Status = "cascading"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusClaimed,
	StatusProcessing,
	StatusCascading,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// claimedStatuses are the states during which claimed_by must be non-null.
var claimedStatuses = map[Status]struct{}{
	StatusClaimed:    {},
	StatusProcessing: {},
	StatusCascading:  {},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsClaimed reports whether a status requires an owning worker.
func (s Status) IsClaimed() bool {
	_, ok := claimedStatuses[s]
	return ok
}

// Item represents a work item persisted in the durable store.
type Item struct {
	ID              int64
	Type            Type
	Status          Status
	Priority        int
	ContainerID     string
	TenantID        string
	Payload         json.RawMessage
	ParentWorkID    *int64
	ClaimedBy       string
	ClaimedAt       *time.Time
	LastHeartbeat   *time.Time
	Result          json.RawMessage
	ErrorMessage    string
	AttemptCount    int
	CancelRequested bool
	// AvailableAt holds the item back from claiming until it passes.
	AvailableAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DecodedResult unmarshals the stored result envelope. Returns an empty
// Result for items without one.
func (i *Item) DecodedResult() Result {
	if i == nil || len(i.Result) == 0 {
		return Result{}
	}
	var result Result
	if err := json.Unmarshal(i.Result, &result); err != nil {
		return Result{}
	}
	return result
}

// Result is the opaque completion envelope a stage handler produces. Numeric
// fields drive cascade predicates and substrate impact summaries.
type Result map[string]any

// Float returns the named field as a float64, with ok=false when absent or
// non-numeric. JSON decoding yields float64 for all numbers.
func (r Result) Float(field string) (float64, bool) {
	v, ok := r[field]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Int returns the named field truncated to int, defaulting to zero.
func (r Result) Int(field string) int {
	f, ok := r.Float(field)
	if !ok {
		return 0
	}
	return int(f)
}

// EntitiesCreated returns the entities_created count from the result.
func (r Result) EntitiesCreated() int { return r.Int("entities_created") }

// RelationshipsCreated returns the relationships_created count from the result.
func (r Result) RelationshipsCreated() int { return r.Int("relationships_created") }

// Marshal encodes the result for persistence.
func (r Result) Marshal() (json.RawMessage, error) {
	if r == nil {
		r = Result{}
	}
	return json.Marshal(r)
}

// CascadeSource summarizes the parent item inside a cascaded child's payload.
type CascadeSource struct {
	WorkID int64  `json:"work_id"`
	Type   Type   `json:"work_type"`
	Result Result `json:"result,omitempty"`
}
