package policy

import (
	"sort"

	"github.com/raillock/raillock/internal/inventory"
)

// Classification is the comparison-time label of a tool.
type Classification string

const (
	ClassAllowed   Classification = "Allowed"
	ClassMalicious Classification = "Malicious"
	ClassDenied    Classification = "Denied"
	ClassUnknown   Classification = "Unknown"
)

var sectionClass = map[SectionKind]Classification{
	SectionAllowed:   ClassAllowed,
	SectionMalicious: ClassMalicious,
	SectionDenied:    ClassDenied,
}

// Row is the comparison result for one tool name.
type Row struct {
	Tool          string         `json:"tool"`
	OnServer      bool           `json:"on_server"`
	Allowed       bool           `json:"allowed"`
	ChecksumMatch bool           `json:"checksum_match"`
	Type          Classification `json:"type"`
	Description   string         `json:"description"`
	Conflict      bool           `json:"conflict,omitempty"`
}

// Drifted reports whether a live tool no longer matches its recorded state.
func (r Row) Drifted() bool {
	return r.OnServer && !r.ChecksumMatch
}

// ComparisonSummary aggregates a comparison.
type ComparisonSummary struct {
	ServerTools        int `json:"server_tools"`
	AllowedTools       int `json:"allowed_tools"`
	MaliciousTools     int `json:"malicious_tools"`
	DeniedTools        int `json:"denied_tools"`
	ChecksumMismatches int `json:"checksum_mismatches"`
}

// Comparison is the full reconciliation of a document against a live
// inventory.
type Comparison struct {
	Rows    []Row             `json:"comparison_data"`
	Summary ComparisonSummary `json:"summary"`
}

// Compare reconciles doc against live. Rows cover the union of policy and
// live names, sorted by name. Neither input is modified.
func Compare(doc *Document, live []inventory.Tool) Comparison {
	if doc == nil {
		doc = &Document{}
	}
	liveByName := make(map[string]inventory.Tool, len(live))
	for _, tool := range live {
		liveByName[tool.Name] = tool
	}

	names := doc.Names()
	for name := range liveByName {
		if _, _, ok := doc.Classify(name); !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	result := Comparison{Rows: make([]Row, 0, len(names))}
	result.Summary.ServerTools = len(liveByName)
	for _, name := range names {
		tool, onServer := liveByName[name]
		kind, entry, classified := doc.Classify(name)

		row := Row{
			Tool:     name,
			OnServer: onServer,
			Type:     ClassUnknown,
			Conflict: len(doc.Sections(name)) > 1,
		}
		if classified {
			row.Type = sectionClass[kind]
			row.Allowed = kind == SectionAllowed
			row.Description = entry.Description
		}
		if onServer {
			row.Description = tool.Description
			row.ChecksumMatch = classified && entry.Checksum != "" && entry.Checksum == tool.Checksum
		}

		switch row.Type {
		case ClassAllowed:
			result.Summary.AllowedTools++
		case ClassMalicious:
			result.Summary.MaliciousTools++
		case ClassDenied:
			result.Summary.DeniedTools++
		}
		if row.Drifted() {
			result.Summary.ChecksumMismatches++
		}
		result.Rows = append(result.Rows, row)
	}
	return result
}
