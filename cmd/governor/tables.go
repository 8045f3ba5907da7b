package main

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"jobmail-hq/governor/pkg/actions"
	"jobmail-hq/governor/pkg/evidence"
	"jobmail-hq/governor/pkg/policy"
)

// Tabular views of API results for text and CSV output. JSON output encodes
// the underlying values.

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func confidence(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// bundleTable lists bundles; the active version is marked with *.
type bundleTable struct {
	Current string           `json:"current"`
	Bundles []*policy.Bundle `json:"bundles"`
}

func (t bundleTable) Header() []string {
	return []string{"", "VERSION", "STATUS", "CANARY", "POLICIES", "SOURCE", "CREATED BY", "STAGE ENTERED"}
}

func (t bundleTable) Rows() [][]string {
	rows := make([][]string, 0, len(t.Bundles))
	for _, b := range t.Bundles {
		mark := ""
		if b.Version == t.Current {
			mark = "*"
		}
		rows = append(rows, []string{
			mark,
			b.Version,
			string(b.Status),
			strconv.Itoa(b.CanaryPct) + "%",
			strconv.Itoa(len(b.Policies)),
			orDash(b.Source),
			orDash(b.CreatedBy),
			formatTime(b.StageEnteredAt),
		})
	}
	return rows
}

// policyTable shows the policies of one bundle in evaluation order.
type policyTable struct {
	*policy.Bundle
}

func (t policyTable) Header() []string {
	return []string{"PRIORITY", "ID", "ENABLED", "ACTION", "THRESHOLD", "CONDITION"}
}

func (t policyTable) Rows() [][]string {
	rows := make([][]string, 0, len(t.Policies))
	for _, p := range t.Policies {
		cond := "-"
		if p.Condition != nil {
			cond = p.Condition.String()
		}
		rows = append(rows, []string{
			strconv.Itoa(p.Priority),
			p.ID,
			strconv.FormatBool(p.Enabled),
			p.ActionType,
			confidence(p.ConfidenceThreshold),
			cond,
		})
	}
	return rows
}

// actionTable lists proposed actions.
type actionTable []*actions.ProposedAction

func (t actionTable) Header() []string {
	return []string{"ID", "STATUS", "RESOURCE", "POLICY", "BUNDLE", "ACTION", "CONFIDENCE", "CREATED", "DECIDED BY"}
}

func (t actionTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, a := range t {
		rows = append(rows, []string{
			a.ID,
			string(a.Status),
			a.ResourceID,
			a.PolicyID,
			a.BundleVersion,
			a.ActionType,
			confidence(a.Confidence),
			formatTime(a.CreatedAt),
			orDash(a.DecidedBy),
		})
	}
	return rows
}

// proposeTable summarizes a propose call.
type proposeTable struct {
	*actions.ProposeResult
}

func (t proposeTable) Header() []string {
	return []string{"RESOURCE", "RESULT", "ACTION ID", "POLICY", "ACTION"}
}

func (t proposeTable) Rows() [][]string {
	rows := make([][]string, 0, len(t.Proposed)+len(t.NoMatch))
	for _, a := range t.Proposed {
		rows = append(rows, []string{a.ResourceID, "proposed", a.ID, a.PolicyID, a.ActionType})
	}
	for _, id := range t.NoMatch {
		rows = append(rows, []string{id, "no match", "-", "-", "-"})
	}
	return rows
}

// executionTable reports approvals.
type executionTable []*actions.ExecutionResult

func (t executionTable) Header() []string {
	return []string{"ID", "STATUS", "EXECUTED", "ATTEMPTS", "ERROR"}
}

func (t executionTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, r := range t {
		errText := r.Action.Error
		if r.ErrorKind != "" {
			errText = r.ErrorKind + ": " + errText
		}
		rows = append(rows, []string{
			r.Action.ID,
			string(r.Action.Status),
			strconv.FormatBool(r.Executed),
			strconv.Itoa(r.Attempts),
			orDash(errText),
		})
	}
	return rows
}

// testTable shows dry-run results.
type testTable []actions.TestResult

func (t testTable) Header() []string {
	return []string{"#", "MATCHED", "POLICY", "ACTION", "CONFIDENCE", "RATIONALE"}
}

func (t testTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, r := range t {
		rows = append(rows, []string{
			strconv.Itoa(r.Index),
			strconv.FormatBool(r.Matched),
			orDash(r.PolicyID),
			orDash(r.ActionType),
			confidence(r.Confidence),
			orDash(r.Rationale),
		})
	}
	return rows
}

// auditTable lists audit records.
type auditTable []*evidence.AuditRecord

func (t auditTable) Header() []string {
	return []string{"CREATED", "EVENT", "OUTCOME", "ACTOR", "BUNDLE", "ACTION", "DETAILS"}
}

func (t auditTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, r := range t {
		details := make([]string, 0, len(r.Metadata)+1)
		if r.Error != "" {
			details = append(details, "error="+r.Error)
		}
		for _, k := range slices.Sorted(maps.Keys(r.Metadata)) {
			details = append(details, k+"="+r.Metadata[k])
		}
		rows = append(rows, []string{
			formatTime(r.CreatedAt),
			string(r.Event),
			string(r.Outcome),
			r.Actor,
			orDash(r.BundleVersion),
			orDash(r.ActionID),
			orDash(strings.Join(details, " ")),
		})
	}
	return rows
}

// actionDetail shows one proposed action.
type actionDetail struct {
	*actions.ProposedAction
}

func (t actionDetail) Header() []string { return []string{"FIELD", "VALUE"} }

func (t actionDetail) Rows() [][]string {
	a := t.ProposedAction
	rows := [][]string{
		{"id", a.ID},
		{"status", string(a.Status)},
		{"resource", a.ResourceID},
		{"bundle", a.BundleVersion},
		{"policy", a.PolicyID},
		{"action", a.ActionType},
		{"confidence", confidence(a.Confidence)},
		{"rationale", a.Rationale},
		{"created", formatTime(a.CreatedAt)},
		{"decided", formatTimePtr(a.DecidedAt)},
		{"decided by", orDash(a.DecidedBy)},
		{"executed", formatTimePtr(a.ExecutedAt)},
		{"error", orDash(a.Error)},
	}
	for _, k := range slices.Sorted(maps.Keys(a.ActionParams)) {
		rows = append(rows, []string{"param " + k, fmt.Sprint(a.ActionParams[k])})
	}
	return rows
}
