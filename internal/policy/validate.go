package policy

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Outcome is the three-way result of validation.
type Outcome string

const (
	OutcomeClean   Outcome = "clean"
	OutcomeWarned  Outcome = "warned"
	OutcomeInvalid Outcome = "invalid"
)

// Report collects blocking errors and non-blocking warnings.
type Report struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Outcome classifies the report.
func (r Report) Outcome() Outcome {
	switch {
	case len(r.Errors) > 0:
		return OutcomeInvalid
	case len(r.Warnings) > 0:
		return OutcomeWarned
	default:
		return OutcomeClean
	}
}

// OK reports whether the document may be saved.
func (r Report) OK() bool {
	return len(r.Errors) == 0
}

func (r *Report) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Report) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// ValidateOptions tunes validation.
type ValidateOptions struct {
	// Strict additionally checks the document against the embedded JSON
	// Schema and reports every violation as an error.
	Strict bool
}

// Validate checks the structure of the parsed document. It never looks at a
// live inventory and never recomputes checksums.
func (s *Source) Validate(opts ValidateOptions) Report {
	r := Report{Errors: []string{}, Warnings: []string{}}

	validateVersion(s.root, &r)
	validateServer(s.root, &r)
	for _, kind := range Precedence {
		validateSection(s.root, kind, &r)
	}
	validateOverlap(s.Document(), &r)

	if opts.Strict {
		for _, violation := range schemaViolations(s.root) {
			r.errorf("schema: %s", violation)
		}
	}
	return r
}

// Validate serializes the document and validates the result.
func (d *Document) Validate(opts ValidateOptions) Report {
	data, err := d.Marshal()
	if err != nil {
		return Report{Errors: []string{err.Error()}, Warnings: []string{}}
	}
	src, err := Parse(data)
	if err != nil {
		return Report{Errors: []string{err.Error()}, Warnings: []string{}}
	}
	return src.Validate(opts)
}

func validateVersion(root *yaml.Node, r *Report) {
	n, ok := present(root, "config_version")
	if !ok {
		r.errorf("Missing required field: config_version")
		return
	}
	if !isNumber(n) {
		r.errorf("config_version must be a number")
		return
	}
	if v, err := strconv.ParseFloat(n.Value, 64); err != nil || v != CurrentConfigVersion {
		r.warnf("config_version %s is not a supported schema version (expected %d)", n.Value, CurrentConfigVersion)
	}
}

func validateServer(root *yaml.Node, r *Report) {
	server, ok := present(root, "server")
	if !ok {
		r.errorf("Missing required field: server")
		return
	}
	if server.Kind != yaml.MappingNode {
		r.errorf("server must be an object")
		return
	}
	if !hasText(server, "name") {
		r.errorf("Missing required field: server.name")
	}
	if !hasText(server, "type") {
		r.warnf("Missing field: server.type")
		return
	}
	if serverType := scalarValue(server, "type"); !slices.Contains(ValidServerTypes, serverType) {
		r.warnf("server.type should be one of: %s", strings.Join(ValidServerTypes, ", "))
	}
}

func validateSection(root *yaml.Node, kind SectionKind, r *Report) {
	section, ok := present(root, string(kind))
	if !ok {
		return
	}
	if section.Kind != yaml.MappingNode {
		r.errorf("%s must be an object", kind)
		return
	}
	for i := 0; i+1 < len(section.Content); i += 2 {
		name := section.Content[i].Value
		entry := deref(section.Content[i+1])
		if entry == nil || entry.Kind != yaml.MappingNode {
			r.errorf("%s.%s must be an object", kind, name)
			continue
		}
		for _, field := range []string{"description", "server", "checksum"} {
			if !hasText(entry, field) {
				r.warnf("%s.%s missing %s", kind, name, field)
			}
		}
	}
}

func validateOverlap(doc *Document, r *Report) {
	for _, name := range doc.Names() {
		kinds := doc.Sections(name)
		if len(kinds) < 2 {
			continue
		}
		labels := make([]string, 0, len(kinds))
		for _, kind := range kinds {
			labels = append(labels, string(kind))
		}
		r.warnf("tool %q appears in %s; %s takes precedence", name, strings.Join(labels, ", "), kinds[0])
	}
}

// hasText reports whether key holds a non-empty value. Non-scalar values
// count as present; their shape is a strict-mode concern.
func hasText(mapping *yaml.Node, key string) bool {
	n, ok := present(mapping, key)
	if !ok {
		return false
	}
	if n.Kind == yaml.ScalarNode {
		return strings.TrimSpace(n.Value) != ""
	}
	return true
}
