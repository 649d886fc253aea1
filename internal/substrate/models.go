package substrate

import "time"

// EntityState tracks where an entity version sits in its lifecycle.
type EntityState string

const (
	EntityProposed   EntityState = "proposed"
	EntityAccepted   EntityState = "accepted"
	EntityLocked     EntityState = "locked"
	EntitySuperseded EntityState = "superseded"
	EntityRejected   EntityState = "rejected"
)

// Active reports whether this version is the live one for its lineage.
// Superseded and rejected versions are retained for history only.
func (s EntityState) Active() bool {
	switch s {
	case EntityProposed, EntityAccepted, EntityLocked:
		return true
	default:
		return false
	}
}

// Entity is one version of a unit of committed knowledge content. Versions
// of the same logical entity share a lineage id; supersession appends a new
// version row pointing at the prior one and never mutates content in place.
type Entity struct {
	ID           string
	LineageID    string
	Version      int
	State        EntityState
	Content      string
	SupersedesID string
	ContainerID  string
	TenantID     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Relationship links two entity versions within a tenant.
type Relationship struct {
	ID             string
	SourceEntityID string
	TargetEntityID string
	Kind           string
	ContainerID    string
	TenantID       string
	CreatedAt      time.Time
}
