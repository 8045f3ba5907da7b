package policy

// Status is the rollout stage of a bundle.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusCanary10 Status = "canary_10"
	StatusCanary50 Status = "canary_50"
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusCanary10, StatusCanary50, StatusActive, StatusArchived:
		return true
	}
	return false
}

// IsCanary reports whether s is one of the canary stages.
func (s Status) IsCanary() bool {
	return s == StatusCanary10 || s == StatusCanary50
}

// IsLive reports whether bundles in this stage receive traffic.
func (s Status) IsLive() bool {
	return s.IsCanary() || s == StatusActive
}

// CanaryPct returns the share of traffic routed to a bundle in this stage
// while an active bundle exists.
func (s Status) CanaryPct() int {
	switch s {
	case StatusCanary10:
		return 10
	case StatusCanary50:
		return 50
	case StatusActive:
		return 100
	}
	return 0
}

// Next returns the stage a promotion moves to, or false when s cannot be
// promoted. Drafts enter canary_10 through CreateCanary rather than Next.
func (s Status) Next() (Status, bool) {
	switch s {
	case StatusDraft:
		return StatusCanary10, true
	case StatusCanary10:
		return StatusCanary50, true
	case StatusCanary50:
		return StatusActive, true
	}
	return "", false
}
