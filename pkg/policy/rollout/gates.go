package rollout

import (
	"fmt"
	"strconv"
	"strings"
)

// Metric names used for gates, triggers and rollback audit records.
const (
	MetricSampleSize    = "sample_size"
	MetricErrorRate     = "error_rate"
	MetricDenyRate      = "deny_rate"
	MetricCostDelta     = "cost_delta"
	MetricZeroMatchRate = "zero_match_rate"
)

// Breach is one metric outside its threshold.
type Breach struct {
	Version   string
	Metric    string
	Value     float64
	Threshold float64
	Samples   int64 // denominator the value was computed over
}

// Reason renders b for logs and audit records.
func (b Breach) Reason() string {
	if b.Metric == MetricSampleSize {
		return fmt.Sprintf("%d decisions in window, need %d", int64(b.Value), int64(b.Threshold))
	}
	return fmt.Sprintf("%s %.4f exceeds %.4f over %d samples", b.Metric, b.Value, b.Threshold, b.Samples)
}

func (b Breach) metadata() map[string]string {
	return map[string]string{
		"metric":    b.Metric,
		"value":     strconv.FormatFloat(b.Value, 'f', 4, 64),
		"threshold": strconv.FormatFloat(b.Threshold, 'f', 4, 64),
		"samples":   strconv.FormatInt(b.Samples, 10),
	}
}

// GateError lists the quality gates a bundle failed.
type GateError struct {
	Version  string
	Breaches []Breach
}

// Error returns the error message.
func (e *GateError) Error() string {
	reasons := make([]string, len(e.Breaches))
	for i, b := range e.Breaches {
		reasons[i] = b.Reason()
	}
	return fmt.Sprintf("bundle %s failed quality gates: %s", e.Version, strings.Join(reasons, "; "))
}

// costDelta is the relative change of cost per execution against a
// baseline. ok is false when there is no usable baseline.
func costDelta(c, baseline Counts) (delta float64, ok bool) {
	base := baseline.CostPerExecution()
	if base <= 0 || c.Executions == 0 {
		return 0, false
	}
	return (c.CostPerExecution() - base) / base, true
}
