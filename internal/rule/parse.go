package rule

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/ohler55/ojg/oj"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"
)

// Recognized metadata keys. Anything else is preserved verbatim.
const (
	KeyInherit         = "inherit"
	KeyType            = "type"
	KeyInheritMode     = "inherit_mode"
	KeyInheritSections = "inherit_sections"
	KeyPriority        = "priority"
)

// DefaultSection is the implicit section name for body text that sits
// under no heading.
const DefaultSection = "content"

var (
	mdcRefPattern  = regexp.MustCompile(`\[[^\]]+\]\(mdc:([^)]+)\)`)
	linkRefPattern = regexp.MustCompile(`\[[^\]]+\]\(([^)]+)\)`)
)

// DetectFormat maps a path's extension onto a Format.
func DetectFormat(p string) Format {
	switch strings.ToLower(path.Ext(p)) {
	case ".mdc":
		return FormatMDC
	case ".md":
		return FormatMD
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	case ".hcl":
		return FormatHCL
	default:
		return FormatText
	}
}

// Parse turns one raw rule document into a ParsedRule. It never fails:
// malformed input degrades to a single raw section so that one bad file
// never blocks the hierarchy build.
func Parse(p, raw string) *ParsedRule {
	r := &ParsedRule{
		Path:       p,
		Format:     DetectFormat(p),
		Metadata:   map[string]Value{},
		RawContent: raw,
		Checksum:   checksum(raw),
	}

	switch r.Format {
	case FormatJSON:
		parseJSON(r, raw)
	case FormatYAML:
		parseYAML(r, raw)
	case FormatHCL:
		parseHCL(r, raw)
	default:
		// mdc, md, and plain text all take the frontmatter + heading path.
		parseMarkdown(r, raw)
	}

	if len(r.Sections) == 0 {
		r.Sections = []Section{{Name: DefaultSection, Body: strings.TrimSpace(raw)}}
	}

	r.References = extractReferences(raw)
	r.Type = classify(r)
	return r
}

func checksum(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// parseMarkdown splits an optional YAML frontmatter block from the body,
// then splits the body on `#` headings.
func parseMarkdown(r *ParsedRule, raw string) {
	body := raw
	if meta, rest, ok := splitFrontmatter(raw); ok {
		var decoded map[string]any
		if err := yaml.Unmarshal([]byte(meta), &decoded); err == nil {
			mergeMetadata(r.Metadata, decoded)
			body = rest
		}
		// Bad YAML: keep the whole document as body, fence included.
	}
	r.Sections = splitSections(body)
}

// splitFrontmatter extracts the text between leading `---` fences. The
// closing fence must be a line holding exactly `---`; dashes glued to
// trailing text do not close the block.
func splitFrontmatter(raw string) (meta, body string, ok bool) {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	if !strings.HasPrefix(normalized, "---\n") {
		return "", "", false
	}
	rest := normalized[4:]
	for from := 0; ; {
		at := strings.Index(rest[from:], "\n---")
		if at < 0 {
			return "", "", false
		}
		end := from + at
		tail := rest[end+4:]
		if tail == "" || strings.HasPrefix(tail, "\n") {
			return rest[:end], strings.TrimPrefix(tail, "\n"), true
		}
		from = end + 1
	}
}

// splitSections breaks body text on heading markers. Text before the
// first heading lands in the implicit content section.
func splitSections(body string) []Section {
	var sections []Section
	current := DefaultSection
	var buf []string

	flush := func() {
		text := strings.TrimSpace(strings.Join(buf, "\n"))
		if text == "" && current == DefaultSection && len(sections) == 0 {
			buf = nil
			return
		}
		sections = append(sections, Section{Name: current, Body: text})
		buf = nil
	}

	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "#") {
			flush()
			current = sectionName(line)
			continue
		}
		buf = append(buf, line)
	}
	flush()
	return dedupeSections(sections)
}

func sectionName(heading string) string {
	name := strings.TrimLeft(heading, "#")
	name = strings.TrimSpace(name)
	name = strings.ToLower(strings.ReplaceAll(name, " ", "_"))
	if name == "" {
		return DefaultSection
	}
	return name
}

// dedupeSections keeps the last body for a repeated name while holding
// the first occurrence's position, so names stay unique per rule.
func dedupeSections(in []Section) []Section {
	idx := make(map[string]int, len(in))
	out := in[:0]
	for _, s := range in {
		if at, seen := idx[s.Name]; seen {
			out[at] = s
			continue
		}
		idx[s.Name] = len(out)
		out = append(out, s)
	}
	return out
}

func parseJSON(r *ParsedRule, raw string) {
	decoded, err := oj.ParseString(raw)
	if err != nil {
		return
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return
	}
	structuredDocument(r, obj)
}

func parseYAML(r *ParsedRule, raw string) {
	var obj map[string]any
	if err := yaml.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return
	}
	structuredDocument(r, obj)
}

// structuredDocument interprets a decoded JSON/YAML object: a "sections"
// object becomes the section set (name-sorted, since the source object
// is unordered), everything else becomes metadata.
func structuredDocument(r *ParsedRule, obj map[string]any) {
	meta := make(map[string]any, len(obj))
	for k, v := range obj {
		if k == "sections" {
			if sm, ok := v.(map[string]any); ok {
				names := make([]string, 0, len(sm))
				for name := range sm {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					r.Sections = append(r.Sections, Section{
						Name: name,
						Body: FromAny(sm[name]).AsString(),
					})
				}
				continue
			}
		}
		meta[k] = v
	}
	mergeMetadata(r.Metadata, meta)
}

// parseHCL reads top-level attributes as metadata, `section "name"`
// blocks as sections (via their body attribute), and a `variables`
// block as variable-flagged metadata.
func parseHCL(r *ParsedRule, raw string) {
	file, diags := hclparse.NewParser().ParseHCL([]byte(raw), r.Path)
	if diags.HasErrors() {
		return
	}
	body, ok := file.Body.(*hclsyntax.Body)
	if !ok {
		return
	}
	for name, attr := range body.Attributes {
		val, d := attr.Expr.Value(nil)
		if d.HasErrors() {
			continue
		}
		r.Metadata[name] = ctyToValue(val)
	}
	for _, blk := range body.Blocks {
		switch blk.Type {
		case "section":
			if len(blk.Labels) != 1 {
				continue
			}
			if attr, ok := blk.Body.Attributes["body"]; ok {
				if val, d := attr.Expr.Value(nil); !d.HasErrors() {
					r.Sections = append(r.Sections, Section{
						Name: blk.Labels[0],
						Body: ctyToValue(val).AsString(),
					})
				}
			}
		case "variables":
			for name, attr := range blk.Body.Attributes {
				val, d := attr.Expr.Value(nil)
				if d.HasErrors() {
					continue
				}
				v := ctyToValue(val)
				v.Variable = true
				r.Metadata[name] = v
			}
		}
	}
}

func ctyToValue(val cty.Value) Value {
	switch {
	case val.IsNull():
		return StringValue("")
	case val.Type() == cty.String:
		return StringValue(val.AsString())
	case val.Type() == cty.Number:
		f, _ := val.AsBigFloat().Float64()
		return NumberValue(f)
	case val.Type() == cty.Bool:
		if val.True() {
			return StringValue("true")
		}
		return StringValue("false")
	case val.Type().IsTupleType() || val.Type().IsListType():
		var items []string
		for it := val.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			items = append(items, ctyToValue(ev).AsString())
		}
		return ListValue(items...)
	default:
		return StringValue(val.GoString())
	}
}

// mergeMetadata folds a decoded key/value map into the rule metadata.
// A nested "variables" map is flattened with the Variable flag set.
func mergeMetadata(dst map[string]Value, src map[string]any) {
	for k, v := range src {
		if k == "variables" {
			if vars, ok := v.(map[string]any); ok {
				for name, vv := range vars {
					val := FromAny(vv)
					val.Variable = true
					dst[name] = val
				}
				continue
			}
		}
		dst[k] = FromAny(v)
	}
}

func extractReferences(raw string) []string {
	seen := map[string]struct{}{}
	var refs []string
	add := func(ref string) {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return
		}
		if _, dup := seen[ref]; dup {
			return
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}
	for _, m := range mdcRefPattern.FindAllStringSubmatch(raw, -1) {
		add(m[1])
	}
	for _, m := range linkRefPattern.FindAllStringSubmatch(raw, -1) {
		if strings.HasPrefix(m[1], "mdc:") {
			continue // already captured without the scheme
		}
		add(m[1])
	}
	return refs
}

// classify picks the rule type: declared metadata wins, then path
// keywords, then content keywords, then general.
func classify(r *ParsedRule) RuleType {
	if declared := r.MetaString(KeyType); declared != "" {
		return ParseRuleType(strings.ToLower(declared))
	}
	lower := strings.ToLower(r.Path)
	switch {
	case strings.Contains(lower, "agent"):
		return TypeAgent
	case strings.Contains(lower, "workflow"):
		return TypeWorkflow
	case strings.Contains(lower, "context"):
		return TypeContext
	}
	content := strings.ToLower(r.RawContent)
	switch {
	case strings.Contains(content, "@agent"):
		return TypeAgent
	case strings.Contains(content, "workflow"):
		return TypeWorkflow
	}
	return TypeGeneral
}
