package models

// Stage represents the dialogue's position in the lead collection script.
type Stage string

// Stage constants in script order. HANDOFF sits outside the order.
const (
	StageInitial          Stage = "INITIAL"
	StageAskedFirstName   Stage = "ASKED_FIRST_NAME"
	StageAskedLastName    Stage = "ASKED_LAST_NAME"
	StageAskedEmail       Stage = "ASKED_EMAIL"
	StageAskedPhone       Stage = "ASKED_PHONE"
	StageAskedRequirement Stage = "ASKED_REQUIREMENT"
	StageCompleted        Stage = "COMPLETED"
	StageHandoff          Stage = "HANDOFF"
)

var stageOrder = map[Stage]int{
	StageInitial:          0,
	StageAskedFirstName:   1,
	StageAskedLastName:    2,
	StageAskedEmail:       3,
	StageAskedPhone:       4,
	StageAskedRequirement: 5,
	StageCompleted:        6,
}

// IsValid reports whether s is one of the eight known stages.
func (s Stage) IsValid() bool {
	if s == StageHandoff {
		return true
	}
	_, ok := stageOrder[s]
	return ok
}

// Ordinal returns the position of s in the collection script, or -1 for HANDOFF
// and unknown stages.
func (s Stage) Ordinal() int {
	if n, ok := stageOrder[s]; ok {
		return n
	}
	return -1
}

// IsTerminal reports whether the stage freezes the collected data.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageHandoff
}
