package substrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"loom/internal/services"
)

// NewRelationship describes a link between two existing entity versions.
type NewRelationship struct {
	TenantID       string
	ContainerID    string
	SourceEntityID string
	TargetEntityID string
	Kind           string
}

// CreateRelationship records a typed link between two entities. Both
// endpoints must exist within the caller's tenant.
func (s *Store) CreateRelationship(ctx context.Context, q DBTX, draft NewRelationship) (*Relationship, error) {
	if strings.TrimSpace(draft.Kind) == "" {
		return nil, services.Wrap(services.ErrValidation, "substrate", "create relationship", "kind is required", nil)
	}
	source, err := getEntity(ctx, q, draft.TenantID, draft.SourceEntityID)
	if err != nil {
		return nil, err
	}
	if _, err := getEntity(ctx, q, draft.TenantID, draft.TargetEntityID); err != nil {
		return nil, err
	}

	containerID := draft.ContainerID
	if containerID == "" {
		containerID = source.ContainerID
	}
	rel := &Relationship{
		ID:             uuid.NewString(),
		SourceEntityID: draft.SourceEntityID,
		TargetEntityID: draft.TargetEntityID,
		Kind:           draft.Kind,
		ContainerID:    containerID,
		TenantID:       draft.TenantID,
	}
	now := timestamp()
	if _, err := q.ExecContext(
		ctx,
		`INSERT INTO relationships (id, source_entity_id, target_entity_id, kind,
             container_id, tenant_id, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rel.ID,
		rel.SourceEntityID,
		rel.TargetEntityID,
		rel.Kind,
		rel.ContainerID,
		rel.TenantID,
		now,
	); err != nil {
		return nil, fmt.Errorf("insert relationship: %w", err)
	}
	rel.CreatedAt = parseTime(now)
	return rel, nil
}

// RelationshipsForEntity lists links where the entity is either endpoint.
func (s *Store) RelationshipsForEntity(ctx context.Context, tenantID, entityID string) ([]*Relationship, error) {
	if _, err := getEntity(ctx, s.db, tenantID, entityID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, source_entity_id, target_entity_id, kind, container_id, tenant_id, created_at
         FROM relationships
         WHERE tenant_id = ? AND (source_entity_id = ? OR target_entity_id = ?)
         ORDER BY created_at, id`,
		tenantID,
		entityID,
		entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	defer rows.Close()

	var rels []*Relationship
	for rows.Next() {
		var (
			rel     Relationship
			created string
		)
		if err := rows.Scan(
			&rel.ID,
			&rel.SourceEntityID,
			&rel.TargetEntityID,
			&rel.Kind,
			&rel.ContainerID,
			&rel.TenantID,
			&created,
		); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		rel.CreatedAt = parseTime(created)
		rels = append(rels, &rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relationships: %w", err)
	}
	return rels, nil
}
