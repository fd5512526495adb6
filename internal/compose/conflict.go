package compose

// ConflictKind labels a detected disagreement between parent and child
// content during composition.
type ConflictKind int

const (
	ConflictSectionOverride ConflictKind = iota
	ConflictVariable
	ConflictTypeMismatch
	ConflictCycle
)

func (k ConflictKind) String() string {
	switch k {
	case ConflictVariable:
		return "variable_conflict"
	case ConflictTypeMismatch:
		return "type_mismatch"
	case ConflictCycle:
		return "cycle"
	default:
		return "section_override"
	}
}

// Severity separates reportable disagreements from structural failures.
// Only cycle conflicts are errors; everything else composition resolves
// and records.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// Conflict is one structured conflict entry on a CompositionResult.
type Conflict struct {
	SectionOrKey string       `json:"section_or_key"`
	ParentPath   string       `json:"parent_path"`
	ChildPath    string       `json:"child_path"`
	Kind         ConflictKind `json:"kind"`
	Severity     Severity     `json:"severity"`
	Resolution   string       `json:"resolution"`
}
