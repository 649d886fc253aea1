package substrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"loom/internal/services"
)

// NewEntity describes the first version of a fresh entity lineage.
type NewEntity struct {
	TenantID    string
	ContainerID string
	Content     string
}

const entityColumns = `id, lineage_id, version, state, content, supersedes_id,
    container_id, tenant_id, created_at, updated_at`

// CreateEntity inserts version 1 of a new lineage in the accepted state.
func (s *Store) CreateEntity(ctx context.Context, q DBTX, draft NewEntity) (*Entity, error) {
	if strings.TrimSpace(draft.TenantID) == "" {
		return nil, services.Wrap(services.ErrValidation, "substrate", "create entity", "tenant id is required", nil)
	}
	if strings.TrimSpace(draft.ContainerID) == "" {
		return nil, services.Wrap(services.ErrValidation, "substrate", "create entity", "container id is required", nil)
	}
	if strings.TrimSpace(draft.Content) == "" {
		return nil, services.Wrap(services.ErrValidation, "substrate", "create entity", "content is required", nil)
	}

	now := timestamp()
	entity := &Entity{
		ID:          uuid.NewString(),
		Version:     1,
		State:       EntityAccepted,
		Content:     draft.Content,
		ContainerID: draft.ContainerID,
		TenantID:    draft.TenantID,
	}
	entity.LineageID = entity.ID

	_, err := q.ExecContext(
		ctx,
		`INSERT INTO entities (id, lineage_id, version, state, content, supersedes_id,
             container_id, tenant_id, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, NULL, ?, ?, ?, ?)`,
		entity.ID,
		entity.LineageID,
		entity.Version,
		entity.State,
		entity.Content,
		entity.ContainerID,
		entity.TenantID,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert entity: %w", err)
	}
	entity.CreatedAt = parseTime(now)
	entity.UpdatedAt = entity.CreatedAt
	return entity, nil
}

// Supersede appends a new version of an existing entity and flips the prior
// version to superseded. Locked entities refuse supersession; already
// superseded or rejected versions conflict.
func (s *Store) Supersede(ctx context.Context, q DBTX, tenantID, prevID, content string) (*Entity, error) {
	if strings.TrimSpace(content) == "" {
		return nil, services.Wrap(services.ErrValidation, "substrate", "supersede entity", "content is required", nil)
	}
	prev, err := getEntity(ctx, q, tenantID, prevID)
	if err != nil {
		return nil, err
	}
	if prev.State == EntityLocked {
		return nil, services.Wrap(services.ErrConflict, "substrate", "supersede entity", fmt.Sprintf("entity %s is locked", prevID), nil)
	}
	if !prev.State.Active() {
		return nil, services.Wrap(services.ErrConflict, "substrate", "supersede entity", fmt.Sprintf("entity %s is %s", prevID, prev.State), nil)
	}

	now := timestamp()
	next := &Entity{
		ID:           uuid.NewString(),
		LineageID:    prev.LineageID,
		Version:      prev.Version + 1,
		State:        EntityAccepted,
		Content:      content,
		SupersedesID: prev.ID,
		ContainerID:  prev.ContainerID,
		TenantID:     prev.TenantID,
	}
	if _, err := q.ExecContext(
		ctx,
		`INSERT INTO entities (id, lineage_id, version, state, content, supersedes_id,
             container_id, tenant_id, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		next.ID,
		next.LineageID,
		next.Version,
		next.State,
		next.Content,
		next.SupersedesID,
		next.ContainerID,
		next.TenantID,
		now,
		now,
	); err != nil {
		return nil, fmt.Errorf("insert entity version: %w", err)
	}

	res, err := q.ExecContext(
		ctx,
		`UPDATE entities SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
		EntitySuperseded,
		now,
		prev.ID,
		prev.State,
	)
	if err != nil {
		return nil, fmt.Errorf("supersede prior version: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, services.Wrap(services.ErrConflict, "substrate", "supersede entity", fmt.Sprintf("entity %s changed state concurrently", prevID), nil)
	}
	next.CreatedAt = parseTime(now)
	next.UpdatedAt = next.CreatedAt
	return next, nil
}

// MarkRejected retires an active entity version without a successor. Content
// is retained; only the state flips.
func (s *Store) MarkRejected(ctx context.Context, q DBTX, tenantID, id string) error {
	entity, err := getEntity(ctx, q, tenantID, id)
	if err != nil {
		return err
	}
	if entity.State == EntityLocked {
		return services.Wrap(services.ErrConflict, "substrate", "reject entity", fmt.Sprintf("entity %s is locked", id), nil)
	}
	if !entity.State.Active() {
		return services.Wrap(services.ErrConflict, "substrate", "reject entity", fmt.Sprintf("entity %s is %s", id, entity.State), nil)
	}
	if _, err := q.ExecContext(
		ctx,
		`UPDATE entities SET state = ?, updated_at = ? WHERE id = ?`,
		EntityRejected,
		timestamp(),
		id,
	); err != nil {
		return fmt.Errorf("reject entity: %w", err)
	}
	return nil
}

// Lock pins an accepted entity against supersession until unlocked.
func (s *Store) Lock(ctx context.Context, tenantID, id string) error {
	return s.setState(ctx, tenantID, id, EntityAccepted, EntityLocked, "lock entity")
}

// Unlock releases a locked entity back to accepted.
func (s *Store) Unlock(ctx context.Context, tenantID, id string) error {
	return s.setState(ctx, tenantID, id, EntityLocked, EntityAccepted, "unlock entity")
}

func (s *Store) setState(ctx context.Context, tenantID, id string, from, to EntityState, operation string) error {
	if _, err := getEntity(ctx, s.db, tenantID, id); err != nil {
		return err
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE entities SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
		to,
		timestamp(),
		id,
		from,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return services.Wrap(services.ErrConflict, "substrate", operation, fmt.Sprintf("entity %s is not %s", id, from), nil)
	}
	return nil
}

// Get returns one entity version, enforcing tenant scope.
func (s *Store) Get(ctx context.Context, tenantID, id string) (*Entity, error) {
	return getEntity(ctx, s.db, tenantID, id)
}

// ActiveInScope lists the live entity versions within one container. The
// validator compares proposed content against this set.
func (s *Store) ActiveInScope(ctx context.Context, tenantID, containerID string) ([]*Entity, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, services.Wrap(services.ErrValidation, "substrate", "list entities", "tenant id is required", nil)
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+entityColumns+` FROM entities
         WHERE tenant_id = ? AND container_id = ? AND state IN (?, ?, ?)
         ORDER BY created_at, id`,
		tenantID,
		containerID,
		EntityProposed,
		EntityAccepted,
		EntityLocked,
	)
	if err != nil {
		return nil, fmt.Errorf("list entities in scope: %w", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

// History returns every version of an entity's lineage in version order.
func (s *Store) History(ctx context.Context, tenantID, id string) ([]*Entity, error) {
	entity, err := getEntity(ctx, s.db, tenantID, id)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+entityColumns+` FROM entities WHERE lineage_id = ? ORDER BY version`,
		entity.LineageID,
	)
	if err != nil {
		return nil, fmt.Errorf("entity history: %w", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

func getEntity(ctx context.Context, q DBTX, tenantID, id string) (*Entity, error) {
	row := q.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	entity, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "substrate", "get entity", fmt.Sprintf("entity %s does not exist", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}
	if entity.TenantID != tenantID {
		return nil, services.Wrap(services.ErrAccessDenied, "substrate", "get entity", fmt.Sprintf("entity %s belongs to another tenant", id), nil)
	}
	return entity, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*Entity, error) {
	var (
		entity     Entity
		supersedes sql.NullString
		created    string
		updated    string
	)
	if err := row.Scan(
		&entity.ID,
		&entity.LineageID,
		&entity.Version,
		&entity.State,
		&entity.Content,
		&supersedes,
		&entity.ContainerID,
		&entity.TenantID,
		&created,
		&updated,
	); err != nil {
		return nil, err
	}
	entity.SupersedesID = supersedes.String
	entity.CreatedAt = parseTime(created)
	entity.UpdatedAt = parseTime(updated)
	return &entity, nil
}

func scanEntities(rows *sql.Rows) ([]*Entity, error) {
	var entities []*Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return entities, nil
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
