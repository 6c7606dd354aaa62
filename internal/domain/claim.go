package domain

// ClaimOutcome is the result of a claim attempt. Losing a race or no longer
// qualifying are expected outcomes, not errors.
type ClaimOutcome string

const (
	ClaimAccepted       ClaimOutcome = "accepted"
	ClaimAlreadyClaimed ClaimOutcome = "already_claimed"
	ClaimNotEligible    ClaimOutcome = "not_eligible"
)

// ClaimResult carries the outcome and the requirement as observed after the
// attempt. For losers the holder is not exposed.
type ClaimResult struct {
	Outcome     ClaimOutcome `json:"status" enum:"accepted,already_claimed,not_eligible"`
	Requirement Requirement  `json:"requirement"`
}

// MissionStatus is what a worker can learn about a requirement.
type MissionStatus string

const (
	MissionOpen   MissionStatus = "open"
	MissionHeld   MissionStatus = "held"
	MissionTaken  MissionStatus = "taken"
	MissionClosed MissionStatus = "closed"
)
