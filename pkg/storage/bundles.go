package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"jobmail-hq/governor/pkg/dsl/parser"
	"jobmail-hq/governor/pkg/policy"
)

// BundleStore persists bundles and their policies. It satisfies the
// registry's Store interface.
type BundleStore struct {
	db *DB
}

// NewBundleStore creates a bundle store on db.
func NewBundleStore(db *DB) *BundleStore {
	return &BundleStore{db: db}
}

// LoadBundles returns every bundle with its policies, ordered by version.
func (s *BundleStore) LoadBundles(ctx context.Context) ([]*policy.Bundle, error) {
	rows, err := s.db.db.QueryContext(ctx, `
SELECT version, status, canary_pct, stage_entered_at, activated_at, rolled_back_at,
       rollback_reason, created_by, source
FROM bundles
ORDER BY major, minor, patch`)
	if err != nil {
		return nil, newError("load_bundles", err)
	}
	defer rows.Close()

	var (
		bundles []*policy.Bundle
		byVer   = make(map[string]*policy.Bundle)
	)
	for rows.Next() {
		var (
			b                     policy.Bundle
			status, stage         string
			activated, rolledBack sql.NullString
		)
		if err := rows.Scan(&b.Version, &status, &b.CanaryPct, &stage, &activated, &rolledBack,
			&b.RollbackReason, &b.CreatedBy, &b.Source); err != nil {
			return nil, newError("load_bundles", err)
		}
		b.Status = policy.Status(status)
		if b.StageEnteredAt, err = parseTime(stage); err != nil {
			return nil, newError("load_bundles", fmt.Errorf("bundle %s: stage_entered_at: %w", b.Version, err))
		}
		if b.ActivatedAt, err = parseTimePtr(activated); err != nil {
			return nil, newError("load_bundles", fmt.Errorf("bundle %s: activated_at: %w", b.Version, err))
		}
		if b.RolledBackAt, err = parseTimePtr(rolledBack); err != nil {
			return nil, newError("load_bundles", fmt.Errorf("bundle %s: rolled_back_at: %w", b.Version, err))
		}
		b.Policies = []policy.Policy{}
		bundles = append(bundles, &b)
		byVer[b.Version] = &b
	}
	if err := rows.Err(); err != nil {
		return nil, newError("load_bundles", err)
	}

	prow, err := s.db.db.QueryContext(ctx, `
SELECT bundle_version, id, name, enabled, priority, condition, action_type, action_params,
       confidence_threshold, reasoning, scorer
FROM policies
ORDER BY bundle_version, priority, id`)
	if err != nil {
		return nil, newError("load_policies", err)
	}
	defer prow.Close()

	for prow.Next() {
		var (
			version, cond, params string
			enabled               int
			p                     policy.Policy
		)
		if err := prow.Scan(&version, &p.ID, &p.Name, &enabled, &p.Priority, &cond, &p.ActionType,
			&params, &p.ConfidenceThreshold, &p.Reasoning, &p.Scorer); err != nil {
			return nil, newError("load_policies", err)
		}
		p.Enabled = enabled != 0
		if cond != "" && cond != "null" {
			if p.Condition, err = parser.Parse([]byte(cond)); err != nil {
				return nil, newError("load_policies", fmt.Errorf("policy %s/%s: condition: %w", version, p.ID, err))
			}
		}
		if err := json.Unmarshal([]byte(params), &p.ActionParams); err != nil {
			return nil, newError("load_policies", fmt.Errorf("policy %s/%s: action_params: %w", version, p.ID, err))
		}
		if b, ok := byVer[version]; ok {
			b.Policies = append(b.Policies, p)
		}
	}
	if err := prow.Err(); err != nil {
		return nil, newError("load_policies", err)
	}
	return bundles, nil
}

// SaveBundles writes the given bundles in one transaction. Bundles leaving
// traffic are written before bundles entering it so the one-active and
// one-canary constraints hold at every statement. Policies are rewritten
// only while a bundle is draft.
func (s *BundleStore) SaveBundles(ctx context.Context, bundles ...*policy.Bundle) error {
	ordered := slices.Clone(bundles)
	slices.SortStableFunc(ordered, func(a, b *policy.Bundle) int {
		return boolRank(a.Status.IsLive()) - boolRank(b.Status.IsLive())
	})

	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, b := range ordered {
			if err := saveBundle(ctx, tx, b); err != nil {
				return fmt.Errorf("bundle %s: %w", b.Version, err)
			}
		}
		return nil
	})
	if err != nil {
		if isTriggerAbort(err, "immutable") {
			return policy.NewValidationError("bundle", err.Error(), policy.ErrImmutable)
		}
		return newError("save_bundles", err)
	}
	return nil
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

func saveBundle(ctx context.Context, tx *sql.Tx, b *policy.Bundle) error {
	v, err := policy.ParseVersion(b.Version)
	if err != nil {
		return err
	}

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM bundles WHERE version = ?`, b.Version).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// New bundles are inserted as draft so their policies can be
		// written, then moved to their real status.
		_, err = tx.ExecContext(ctx, `
INSERT INTO bundles (version, major, minor, patch, status, canary_pct, stage_entered_at,
                     activated_at, rolled_back_at, rollback_reason, created_by, source)
VALUES (?, ?, ?, ?, 'draft', 0, ?, NULL, NULL, '', ?, ?)`,
			b.Version, v.Major, v.Minor, v.Patch, formatTime(b.StageEnteredAt), b.CreatedBy, b.Source)
		if err != nil {
			return err
		}
		if err := writePolicies(ctx, tx, b); err != nil {
			return err
		}
	case err != nil:
		return err
	case policy.Status(current) == policy.StatusDraft:
		if err := writePolicies(ctx, tx, b); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
UPDATE bundles SET status = ?, canary_pct = ?, stage_entered_at = ?, activated_at = ?,
       rolled_back_at = ?, rollback_reason = ?, created_by = ?, source = ?
WHERE version = ?`,
		string(b.Status), b.CanaryPct, formatTime(b.StageEnteredAt), formatTimePtr(b.ActivatedAt),
		formatTimePtr(b.RolledBackAt), b.RollbackReason, b.CreatedBy, b.Source, b.Version)
	return err
}

func writePolicies(ctx context.Context, tx *sql.Tx, b *policy.Bundle) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM policies WHERE bundle_version = ?`, b.Version); err != nil {
		return err
	}
	for _, p := range b.Policies {
		cond := []byte("null")
		if p.Condition != nil {
			var err error
			if cond, err = parser.MarshalJSON(p.Condition); err != nil {
				return fmt.Errorf("policy %s: condition: %w", p.ID, err)
			}
		}
		params, err := marshalMap(p.ActionParams)
		if err != nil {
			return fmt.Errorf("policy %s: action_params: %w", p.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO policies (bundle_version, id, name, enabled, priority, condition, action_type,
                      action_params, confidence_threshold, reasoning, scorer)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.Version, p.ID, p.Name, boolRank(p.Enabled), p.Priority, string(cond), p.ActionType,
			params, p.ConfidenceThreshold, p.Reasoning, p.Scorer)
		if err != nil {
			return fmt.Errorf("policy %s: %w", p.ID, err)
		}
	}
	return nil
}

func marshalMap[V any](m map[string]V) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
