package agent

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/missionctl/errors"
	"github.com/teranos/missionctl/pulse/async"
)

// Store persists agents and reads the project rows the router consults
type Store struct {
	db  *sql.DB
	Now func() time.Time
}

// NewStore creates an agent store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, Now: time.Now}
}

const agentColumns = `id, name, role, default_engine, cost_tier, department_id, active, status,
	quality_score_avg, total_jobs_completed, consecutive_failures, created_at, updated_at`

// Create validates and inserts a new agent
func (s *Store) Create(ctx context.Context, a *Agent) error {
	if err := validate(a); err != nil {
		return err
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CostTier == "" {
		a.CostTier = CostMedium
	}
	if a.Status == "" {
		a.Status = StatusActive
	}
	now := s.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Role, a.DefaultEngine, a.CostTier, nullString(a.DepartmentID), a.Active, a.Status,
		a.QualityScoreAvg, a.TotalJobsCompleted, a.ConsecutiveFailures, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return errors.NewConflictError("agent %q already exists", a.Name)
		}
		return errors.Wrapf(err, "failed to create agent %s", a.Name)
	}
	return nil
}

// Upsert updates the routing attributes of the agent with a's name, or
// creates it. Performance fields are left untouched on update.
func (s *Store) Upsert(ctx context.Context, a *Agent) (created bool, err error) {
	if err := validate(a); err != nil {
		return false, err
	}
	existing, err := s.GetByName(ctx, a.Name)
	if errors.IsNotFoundError(err) {
		return true, s.Create(ctx, a)
	}
	if err != nil {
		return false, err
	}

	if a.CostTier == "" {
		a.CostTier = existing.CostTier
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE agents SET role = ?, default_engine = ?, cost_tier = ?, department_id = ?, active = ?, updated_at = ?
		WHERE id = ?`,
		a.Role, a.DefaultEngine, a.CostTier, nullString(a.DepartmentID), a.Active, s.Now().UTC(), existing.ID)
	if err != nil {
		return false, errors.Wrapf(err, "failed to update agent %s", a.Name)
	}
	a.ID = existing.ID
	return false, nil
}

func validate(a *Agent) error {
	if strings.TrimSpace(a.Name) == "" {
		return errors.NewInvalidRequestError("agent name cannot be empty")
	}
	if !IsValidRole(string(a.Role)) {
		return errors.NewInvalidRequestError("unknown role %q for agent %s", a.Role, a.Name)
	}
	if !async.IsValidEngine(string(a.DefaultEngine)) {
		return errors.NewInvalidRequestError("unknown engine %q for agent %s", a.DefaultEngine, a.Name)
	}
	if a.CostTier != "" && !IsValidCostTier(string(a.CostTier)) {
		return errors.NewInvalidRequestError("unknown cost tier %q for agent %s", a.CostTier, a.Name)
	}
	return nil
}

// Get returns the agent with id
func (s *Store) Get(ctx context.Context, id string) (*Agent, error) {
	return s.getOne(ctx, `WHERE id = ?`, id)
}

// GetByName returns the agent with name
func (s *Store) GetByName(ctx context.Context, name string) (*Agent, error) {
	return s.getOne(ctx, `WHERE name = ?`, name)
}

func (s *Store) getOne(ctx context.Context, where string, arg string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents `+where, arg)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("agent not found: %s", arg)
	}
	return a, err
}

// List returns every agent in stable name order
func (s *Store) List(ctx context.Context) ([]*Agent, error) {
	return s.query(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY name ASC`)
}

// ListEligible returns enabled, unpaused agents in stable name order
func (s *Store) ListEligible(ctx context.Context) ([]*Agent, error) {
	return s.query(ctx, `SELECT `+agentColumns+` FROM agents
		WHERE active = 1 AND status = ?
		ORDER BY name ASC`, StatusActive)
}

// ListPauseCandidates returns active agents whose failure streak reached threshold
func (s *Store) ListPauseCandidates(ctx context.Context, threshold int) ([]*Agent, error) {
	return s.query(ctx, `SELECT `+agentColumns+` FROM agents
		WHERE active = 1 AND status = ? AND consecutive_failures >= ?
		ORDER BY name ASC`, StatusActive, threshold)
}

// Pause moves an agent from active to paused. It reports false when the
// agent was already paused, so callers announce each pause once.
func (s *Store) Pause(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		StatusPaused, s.Now().UTC(), id, StatusActive)
	if err != nil {
		return false, errors.Wrapf(err, "failed to pause agent %s", id)
	}
	return affectedOne(res)
}

// Resume is the administrative paused -> active transition. The failure
// streak starts over so the next sweep does not pause the agent again.
func (s *Store) Resume(ctx context.Context, id string) (*Agent, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET status = ?, consecutive_failures = 0, updated_at = ?
		WHERE id = ? AND status = ?`,
		StatusActive, s.Now().UTC(), id, StatusPaused)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resume agent %s", id)
	}
	won, err := affectedOne(res)
	if err != nil {
		return nil, err
	}
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, errors.NewConflictError("agent %s is not paused", a.Name)
	}
	return a, nil
}

// PreferredDepartment returns the department of the project's PM agent, or
// "" when the project, its PM or the PM's department is missing.
func (s *Store) PreferredDepartment(ctx context.Context, projectID string) (string, error) {
	if projectID == "" {
		return "", nil
	}
	var dept sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT a.department_id FROM projects p
		JOIN agents a ON a.id = p.pm_agent_id
		WHERE p.id = ?`, projectID).Scan(&dept)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to look up PM department for project %s", projectID)
	}
	return dept.String, nil
}

// CreateProject inserts a project with an optional PM agent
func (s *Store) CreateProject(ctx context.Context, id, name, pmAgentID string) error {
	if id == "" {
		id = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, pm_agent_id, created_at) VALUES (?, ?, ?, ?)`,
		id, name, nullString(pmAgentID), s.Now().UTC())
	if err != nil {
		return errors.Wrapf(err, "failed to create project %s", name)
	}
	return nil
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list agents")
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	var a Agent
	var dept sql.NullString
	err := row.Scan(&a.ID, &a.Name, &a.Role, &a.DefaultEngine, &a.CostTier, &dept, &a.Active, &a.Status,
		&a.QualityScoreAvg, &a.TotalJobsCompleted, &a.ConsecutiveFailures, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan agent")
	}
	a.DepartmentID = dept.String
	return &a, nil
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read affected rows")
	}
	return n == 1, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
