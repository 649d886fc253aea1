package governance

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"loom/internal/config"
	"loom/internal/queue"
	"loom/internal/services"
)

//go:embed schema.sql
var schemaSQL string

// Store persists proposals and their operations. It shares the queue's
// SQLite file so proposal execution and entity effects commit in one
// transaction.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the proposal tables.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, queue.DatabaseFileName)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create proposal schema: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) createProposal(ctx context.Context, p *Proposal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin proposal tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	provenance, err := json.Marshal(p.Provenance)
	if err != nil {
		return fmt.Errorf("encode provenance: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO proposals (id, kind, origin, status, tenant_id, container_id,
             provenance, is_executed, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		p.ID, p.Kind, p.Origin, p.Status, p.TenantID, p.ContainerID,
		string(provenance), now, now,
	); err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}

	for _, op := range p.Ops {
		draft, err := json.Marshal(op.Draft)
		if err != nil {
			return fmt.Errorf("encode operation %d: %w", op.Position, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO proposal_operations (id, proposal_id, position, op_type, draft)
             VALUES (?, ?, ?, ?, ?)`,
			op.ID, p.ID, op.Position, op.Type, string(draft),
		); err != nil {
			return fmt.Errorf("insert operation %d: %w", op.Position, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit proposal: %w", err)
	}
	p.CreatedAt = parseTime(now)
	p.UpdatedAt = p.CreatedAt
	return nil
}

// Get loads one proposal with its operations, enforcing tenant scope.
func (s *Store) Get(ctx context.Context, tenantID, id string) (*Proposal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, origin, status, tenant_id, container_id, provenance,
                validator_report, is_executed, created_at, updated_at
         FROM proposals WHERE id = ?`, id)

	var (
		p          Proposal
		provenance string
		report     sql.NullString
		executed   int
		created    string
		updated    string
	)
	err := row.Scan(
		&p.ID, &p.Kind, &p.Origin, &p.Status, &p.TenantID, &p.ContainerID,
		&provenance, &report, &executed, &created, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "governance", "get proposal", fmt.Sprintf("proposal %s does not exist", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get proposal: %w", err)
	}
	if p.TenantID != tenantID {
		return nil, services.Wrap(services.ErrAccessDenied, "governance", "get proposal", fmt.Sprintf("proposal %s belongs to another tenant", id), nil)
	}

	if err := json.Unmarshal([]byte(provenance), &p.Provenance); err != nil {
		return nil, fmt.Errorf("decode provenance: %w", err)
	}
	if report.Valid && report.String != "" {
		p.Report = &ValidatorReport{}
		if err := json.Unmarshal([]byte(report.String), p.Report); err != nil {
			return nil, fmt.Errorf("decode validator report: %w", err)
		}
	}
	p.IsExecuted = executed != 0
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)

	ops, err := s.operationsFor(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.Ops = ops
	return &p, nil
}

func (s *Store) operationsFor(ctx context.Context, proposalID string) ([]*Operation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, position, op_type, draft, executed, result_entity_id, outcome, detail
         FROM proposal_operations WHERE proposal_id = ? ORDER BY position`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		var (
			op       Operation
			draft    string
			executed int
			entityID sql.NullString
			outcome  sql.NullString
			detail   sql.NullString
		)
		if err := rows.Scan(&op.ID, &op.Position, &op.Type, &draft, &executed, &entityID, &outcome, &detail); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		if err := json.Unmarshal([]byte(draft), &op.Draft); err != nil {
			return nil, fmt.Errorf("decode operation draft: %w", err)
		}
		op.Executed = executed != 0
		op.ResultEntityID = entityID.String
		op.Outcome = Outcome(outcome.String)
		op.Detail = detail.String
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return ops, nil
}

func (s *Store) setReport(ctx context.Context, id string, report *ValidatorReport, status Status) error {
	encoded, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode validator report: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE proposals SET validator_report = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(encoded), status, time.Now().UTC().Format(time.RFC3339Nano), id,
	); err != nil {
		return fmt.Errorf("store validator report: %w", err)
	}
	return nil
}

func (s *Store) setStatus(ctx context.Context, id string, status Status) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE proposals SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC().Format(time.RFC3339Nano), id,
	); err != nil {
		return fmt.Errorf("set proposal status: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func recordOutcome(ctx context.Context, q execer, opID string, executed bool, entityID string, outcome Outcome, detail string) error {
	executedFlag := 0
	if executed {
		executedFlag = 1
	}
	var entity any
	if entityID != "" {
		entity = entityID
	}
	if _, err := q.ExecContext(ctx,
		`UPDATE proposal_operations
         SET executed = ?, result_entity_id = ?, outcome = ?, detail = ?
         WHERE id = ?`,
		executedFlag, entity, outcome, detail, opID,
	); err != nil {
		return fmt.Errorf("record operation outcome: %w", err)
	}
	return nil
}

func finalize(ctx context.Context, q execer, id string, status Status, executed bool) error {
	executedFlag := 0
	if executed {
		executedFlag = 1
	}
	if _, err := q.ExecContext(ctx,
		`UPDATE proposals SET status = ?, is_executed = ?, updated_at = ? WHERE id = ?`,
		status, executedFlag, time.Now().UTC().Format(time.RFC3339Nano), id,
	); err != nil {
		return fmt.Errorf("finalize proposal: %w", err)
	}
	return nil
}

// openProposalsTouching returns ids of other live proposals in the tenant
// whose operations target any of the given entity ids. Used to warn about
// conflicting concurrent proposals.
func (s *Store) openProposalsTouching(ctx context.Context, tenantID string, targets []string, excludeID string) ([]string, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	placeholders := ""
	args := []any{tenantID, StatusProposed, StatusUnderReview, excludeID}
	for i, target := range targets {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, target)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT p.id
         FROM proposals p JOIN proposal_operations o ON o.proposal_id = p.id
         WHERE p.tenant_id = ? AND p.status IN (?, ?) AND p.id != ?
           AND o.result_entity_id IS NULL
           AND json_extract(o.draft, '$.target_ref') IN (`+placeholders+`)
         ORDER BY p.id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("find conflicting proposals: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan conflicting proposal: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conflicting proposals: %w", err)
	}
	return ids, nil
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
