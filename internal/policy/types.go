package policy

import "sort"

// CurrentConfigVersion is the only defined policy schema version.
const CurrentConfigVersion = 1

// SectionKind names one of the three classification sections.
type SectionKind string

const (
	SectionAllowed   SectionKind = "allowed_tools"
	SectionMalicious SectionKind = "malicious_tools"
	SectionDenied    SectionKind = "denied_tools"
)

// Precedence is the order in which sections classify a tool listed in more
// than one of them: the first section containing the name wins.
var Precedence = []SectionKind{SectionAllowed, SectionMalicious, SectionDenied}

// ValidServerTypes lists the accepted server.type values.
var ValidServerTypes = []string{"sse", "stdio", "http"}

// Entry is the recorded state of one governed tool.
type Entry struct {
	Description string `yaml:"description" json:"description"`
	Server      string `yaml:"server" json:"server"`
	Checksum    string `yaml:"checksum" json:"checksum"`
}

// Section maps tool names to their entries.
type Section map[string]Entry

// Names returns the section's tool names in lexical order.
func (s Section) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Server identifies the server a policy was authored against.
type Server struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`
}

// ServerMeta is the server identity handed to Build.
type ServerMeta = Server

// Document is the canonical trust artifact.
type Document struct {
	ConfigVersion  int     `yaml:"config_version" json:"config_version"`
	Server         Server  `yaml:"server" json:"server"`
	AllowedTools   Section `yaml:"allowed_tools" json:"allowed_tools"`
	MaliciousTools Section `yaml:"malicious_tools" json:"malicious_tools"`
	DeniedTools    Section `yaml:"denied_tools" json:"denied_tools"`
}

// NewDocument returns an empty version-1 document for server.
func NewDocument(server Server) *Document {
	return &Document{
		ConfigVersion:  CurrentConfigVersion,
		Server:         server,
		AllowedTools:   Section{},
		MaliciousTools: Section{},
		DeniedTools:    Section{},
	}
}

// Section returns the section of the given kind.
func (d *Document) Section(kind SectionKind) Section {
	switch kind {
	case SectionAllowed:
		return d.AllowedTools
	case SectionMalicious:
		return d.MaliciousTools
	case SectionDenied:
		return d.DeniedTools
	default:
		return nil
	}
}

// Sections lists the sections containing name, in Precedence order.
func (d *Document) Sections(name string) []SectionKind {
	var out []SectionKind
	for _, kind := range Precedence {
		if _, ok := d.Section(kind)[name]; ok {
			out = append(out, kind)
		}
	}
	return out
}

// Classify returns the winning section and entry for name.
func (d *Document) Classify(name string) (SectionKind, Entry, bool) {
	for _, kind := range Precedence {
		if entry, ok := d.Section(kind)[name]; ok {
			return kind, entry, true
		}
	}
	return "", Entry{}, false
}

// Names returns every tool name governed by the document, sorted.
func (d *Document) Names() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, kind := range Precedence {
		for name := range d.Section(kind) {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
