package core

// AutoSelectThreshold is the confidence above which a filename match picks
// the unit without asking the user.
const AutoSelectThreshold = 0.8

// MatchResult is the backend's guess which unit a meter file belongs to.
type MatchResult struct {
	EinheitID   int64   `json:"einheitId,omitempty"`
	EinheitName string  `json:"einheitName,omitempty"`
	Confidence  float64 `json:"confidence"`
	Message     string  `json:"message,omitempty"`
}

// Matched reports whether the backend named a unit at all.
func (m MatchResult) Matched() bool {
	return m.EinheitID > 0
}

// AutoSelect reports whether the unit is taken without confirmation.
func (m MatchResult) AutoSelect() bool {
	return m.Matched() && m.Confidence > AutoSelectThreshold
}

// Suggest reports whether the unit is only proposed to the user.
func (m MatchResult) Suggest() bool {
	return m.Matched() && !m.AutoSelect()
}

// ConfidencePercent is the rounded confidence for display.
func (m MatchResult) ConfidencePercent() int {
	return int(m.Confidence*100 + 0.5)
}
