package rule

// RuleType classifies a rule document. Declared via the `type` metadata
// key, or inferred from the path/content when absent.
type RuleType int

const (
	TypeGeneral RuleType = iota
	TypeAgent
	TypeContext
	TypeWorkflow
)

func (t RuleType) String() string {
	switch t {
	case TypeAgent:
		return "agent"
	case TypeContext:
		return "context"
	case TypeWorkflow:
		return "workflow"
	default:
		return "general"
	}
}

// ParseRuleType maps a declared type string onto the closed set.
// Unknown values fall back to general.
func ParseRuleType(s string) RuleType {
	switch s {
	case "agent":
		return TypeAgent
	case "context":
		return TypeContext
	case "workflow":
		return TypeWorkflow
	default:
		return TypeGeneral
	}
}

// InheritanceType is the policy governing which parts of a parent a
// child absorbs during composition.
type InheritanceType int

const (
	InheritFull InheritanceType = iota
	InheritContent
	InheritMetadata
	InheritVariables
	InheritSelective
)

func (t InheritanceType) String() string {
	switch t {
	case InheritContent:
		return "content"
	case InheritMetadata:
		return "metadata"
	case InheritVariables:
		return "variables"
	case InheritSelective:
		return "selective"
	default:
		return "full"
	}
}

// Format identifies the on-disk flavor of a rule document.
type Format int

const (
	FormatText Format = iota
	FormatMD
	FormatMDC
	FormatJSON
	FormatYAML
	FormatHCL
)

func (f Format) String() string {
	switch f {
	case FormatMD:
		return "md"
	case FormatMDC:
		return "mdc"
	case FormatJSON:
		return "json"
	case FormatYAML:
		return "yaml"
	case FormatHCL:
		return "hcl"
	default:
		return "txt"
	}
}

// Section is one named text block of a rule body. Sections keep their
// authoring order, so they live in a slice rather than a map.
type Section struct {
	Name string `json:"name"`
	Body string `json:"body"`
}

// ParsedRule is one parsed rule document. The Path is the immutable key;
// re-parsing the same source produces a new ParsedRule that replaces the
// old one under that key.
type ParsedRule struct {
	Path       string           `json:"path"`
	Type       RuleType         `json:"type"`
	Format     Format           `json:"format"`
	Sections   []Section        `json:"sections"`
	Metadata   map[string]Value `json:"metadata"`
	References []string         `json:"references,omitempty"`
	RawContent string           `json:"-"`
	Checksum   string           `json:"checksum"`
}

// Section returns the body of the named section.
func (r *ParsedRule) Section(name string) (string, bool) {
	for _, s := range r.Sections {
		if s.Name == name {
			return s.Body, true
		}
	}
	return "", false
}

// SectionNames returns section names in authoring order.
func (r *ParsedRule) SectionNames() []string {
	names := make([]string, len(r.Sections))
	for i, s := range r.Sections {
		names[i] = s.Name
	}
	return names
}

// Meta returns the metadata value for key, if present.
func (r *ParsedRule) Meta(key string) (Value, bool) {
	v, ok := r.Metadata[key]
	return v, ok
}

// MetaString returns the string form of a metadata key, or "" when the
// key is absent.
func (r *ParsedRule) MetaString(key string) string {
	v, ok := r.Metadata[key]
	if !ok {
		return ""
	}
	return v.AsString()
}
