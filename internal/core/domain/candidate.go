package domain

type Role string

const (
	RoleSeller Role = "seller"
	RoleVendor Role = "vendor"
	RoleAgent  Role = "agent"
)

// Candidate is one physical location in the match population. ID is stable
// per location; a participant operating several locations appears once per
// location, all sharing the same ParticipantID.
type Candidate struct {
	ID            string `json:"id"`
	ParticipantID string `json:"participant_id"`
	Role          Role   `json:"role"`
	Location      Point  `json:"location"`
}

// MatchedCandidate is a candidate annotated with its distance from a
// request's origin.
type MatchedCandidate struct {
	Candidate
	DistanceKm float64 `json:"distance_km"`
}

// AudienceFor maps the role creating a request to the role that should see
// and commit against it. Sell requests target vendors, buy requests target
// sellers. Agents do not originate bulk requests.
func AudienceFor(owner Role) (Role, bool) {
	switch owner {
	case RoleSeller:
		return RoleVendor, true
	case RoleVendor:
		return RoleSeller, true
	default:
		return "", false
	}
}
