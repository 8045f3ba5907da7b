package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"jobmail-hq/governor/pkg/actions"
	"jobmail-hq/governor/pkg/policy"
)

const actionColumns = `id, resource_id, policy_id, bundle_version, action_type, action_params,
       confidence, rationale, status, created_at, decided_at, decided_by, executed_at, error`

// ActionStore persists proposed actions. Transitions are a single
// conditional UPDATE, so concurrent deciders race inside SQLite and exactly
// one wins.
type ActionStore struct {
	db *DB
}

// NewActionStore creates an action store on db.
func NewActionStore(db *DB) *ActionStore {
	return &ActionStore{db: db}
}

// Create inserts a new action.
func (s *ActionStore) Create(ctx context.Context, a *actions.ProposedAction) error {
	params, err := marshalMap(a.ActionParams)
	if err != nil {
		return policy.NewValidationError(a.ID, "action params are not JSON-encodable", err)
	}
	_, err = s.db.db.ExecContext(ctx, `
INSERT INTO proposed_actions (`+actionColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ResourceID, a.PolicyID, a.BundleVersion, a.ActionType, params,
		a.Confidence, a.Rationale, string(a.Status), formatTime(a.CreatedAt),
		formatTimePtr(a.DecidedAt), a.DecidedBy, formatTimePtr(a.ExecutedAt), a.Error)
	if err != nil {
		if isUniqueViolation(err) {
			return policy.NewValidationError(a.ID, "action already exists", nil)
		}
		return newError("create_action", err)
	}
	return nil
}

// Get returns the action with the given ID.
func (s *ActionStore) Get(ctx context.Context, id string) (*actions.ProposedAction, error) {
	row := s.db.db.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM proposed_actions WHERE id = ?`, id)
	a, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &policy.NotFoundError{Kind: "action", ID: id}
	}
	if err != nil {
		return nil, newError("get_action", err)
	}
	return a, nil
}

// List returns actions matching filter, oldest first.
func (s *ActionStore) List(ctx context.Context, filter actions.ListFilter) ([]*actions.ProposedAction, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`SELECT ` + actionColumns + ` FROM proposed_actions`)
	if filter.Status != "" {
		sb.WriteString(` WHERE status = ?`)
		args = append(args, string(filter.Status))
	}
	sb.WriteString(` ORDER BY created_at, id`)
	if filter.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		sb.WriteString(` LIMIT -1`)
	}
	if filter.Offset > 0 {
		sb.WriteString(` OFFSET ?`)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, newError("list_actions", err)
	}
	defer rows.Close()

	out := make([]*actions.ProposedAction, 0)
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, newError("list_actions", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, newError("list_actions", err)
	}
	return out, nil
}

// Transition applies t with a compare-and-swap on the current status.
func (s *ActionStore) Transition(ctx context.Context, id string, t actions.Transition) (*actions.ProposedAction, error) {
	var (
		res sql.Result
		err error
		at  = formatTime(t.At)
	)
	switch t.From {
	case actions.StatusPending:
		res, err = s.db.db.ExecContext(ctx, `
UPDATE proposed_actions SET status = ?, decided_at = ?, decided_by = ?
WHERE id = ? AND status = ?`,
			string(t.To), at, t.Actor, id, string(t.From))
	case actions.StatusApproved:
		res, err = s.db.db.ExecContext(ctx, `
UPDATE proposed_actions SET status = ?, executed_at = ?, error = ?
WHERE id = ? AND status = ?`,
			string(t.To), at, t.Error, id, string(t.From))
	default:
		return nil, policy.NewValidationError(id, fmt.Sprintf("no transition leaves status %q", t.From), nil)
	}
	if err != nil {
		return nil, newError("transition_action", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, newError("transition_action", err)
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, &actions.NotPendingError{ID: id, Status: current.Status, Expected: t.From}
	}
	return current, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(row rowScanner) (*actions.ProposedAction, error) {
	var (
		a                 actions.ProposedAction
		params, status    string
		created           string
		decided, executed sql.NullString
	)
	err := row.Scan(&a.ID, &a.ResourceID, &a.PolicyID, &a.BundleVersion, &a.ActionType, &params,
		&a.Confidence, &a.Rationale, &status, &created, &decided, &a.DecidedBy, &executed, &a.Error)
	if err != nil {
		return nil, err
	}
	a.Status = actions.Status(status)
	if err := json.Unmarshal([]byte(params), &a.ActionParams); err != nil {
		return nil, fmt.Errorf("action %s: action_params: %w", a.ID, err)
	}
	if a.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("action %s: created_at: %w", a.ID, err)
	}
	if a.DecidedAt, err = parseTimePtr(decided); err != nil {
		return nil, fmt.Errorf("action %s: decided_at: %w", a.ID, err)
	}
	if a.ExecutedAt, err = parseTimePtr(executed); err != nil {
		return nil, fmt.Errorf("action %s: executed_at: %w", a.ID, err)
	}
	return &a, nil
}
