package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Template is a starting point for hand-authored documents.
const Template = `config_version: 1
server:
  name: YOUR_SERVER_NAME
  type: sse  # or stdio, http
allowed_tools:
  # Add allowed tools here
  # tool_name:
  #   description: "Tool description"
  #   server: YOUR_SERVER_NAME
  #   checksum: "tool_checksum"
malicious_tools:
  # Add malicious tools here
denied_tools:
  # Add denied tools here
`

// Strings containing any of these are emitted double quoted.
const quotedStringTokens = ":\"'{}[]"

var (
	errEmptyDocument = errors.New("document is empty")
	errNotMapping    = errors.New("document must be a mapping")
	errMultipleDocs  = errors.New("expected a single YAML document")
)

// ParseError reports input that is not a well-formed policy serialization.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid YAML: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Source is a parsed but not yet validated policy document.
type Source struct {
	root *yaml.Node
}

// Parse decodes a YAML policy document without interpreting its fields.
func Parse(data []byte) (*Source, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ParseError{Err: errEmptyDocument}
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	var doc yaml.Node
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ParseError{Err: errEmptyDocument}
		}
		return nil, &ParseError{Err: err}
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err == nil {
			err = errMultipleDocs
		}
		return nil, &ParseError{Err: err}
	}

	root := &doc
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return nil, &ParseError{Err: errEmptyDocument}
		}
		root = root.Content[0]
	}
	root = deref(root)
	if root == nil || isNull(root) {
		return nil, &ParseError{Err: errEmptyDocument}
	}
	if root.Kind != yaml.MappingNode {
		return nil, &ParseError{Err: errNotMapping}
	}
	return &Source{root: root}, nil
}

// Document interprets the source leniently: fields of the wrong shape are
// treated as absent, and a scalar entry is read as a bare checksum.
func (s *Source) Document() *Document {
	doc := &Document{
		AllowedTools:   Section{},
		MaliciousTools: Section{},
		DeniedTools:    Section{},
	}

	if n, ok := lookup(s.root, "config_version"); ok && isNumber(n) {
		if v, err := strconv.ParseFloat(n.Value, 64); err == nil {
			doc.ConfigVersion = int(v)
		}
	}
	if n, ok := lookup(s.root, "server"); ok && n.Kind == yaml.MappingNode {
		doc.Server.Name = scalarValue(n, "name")
		doc.Server.Type = scalarValue(n, "type")
	}

	for _, kind := range Precedence {
		n, ok := lookup(s.root, string(kind))
		if !ok || n.Kind != yaml.MappingNode {
			continue
		}
		section := doc.Section(kind)
		for i := 0; i+1 < len(n.Content); i += 2 {
			name := n.Content[i].Value
			value := deref(n.Content[i+1])
			switch {
			case value.Kind == yaml.MappingNode:
				section[name] = Entry{
					Description: scalarValue(value, "description"),
					Server:      scalarValue(value, "server"),
					Checksum:    scalarValue(value, "checksum"),
				}
			case value.Kind == yaml.ScalarNode && !isNull(value):
				section[name] = Entry{Checksum: value.Value}
			default:
				section[name] = Entry{}
			}
		}
	}
	return doc
}

// Marshal serializes the document in canonical key order. Multi-line strings
// use literal blocks and strings with YAML punctuation are double quoted.
func (d *Document) Marshal() ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	appendPair(root, "config_version", &yaml.Node{
		Kind:  yaml.ScalarNode,
		Tag:   "!!int",
		Value: strconv.Itoa(d.ConfigVersion),
	})

	server := &yaml.Node{Kind: yaml.MappingNode}
	appendPair(server, "name", stringNode(d.Server.Name))
	appendPair(server, "type", stringNode(d.Server.Type))
	appendPair(root, "server", server)

	for _, kind := range Precedence {
		section := d.Section(kind)
		node := &yaml.Node{Kind: yaml.MappingNode}
		if len(section) == 0 {
			node.Style = yaml.FlowStyle
		}
		for _, name := range section.Names() {
			entry := section[name]
			value := &yaml.Node{Kind: yaml.MappingNode}
			appendPair(value, "description", stringNode(entry.Description))
			appendPair(value, "server", stringNode(entry.Server))
			appendPair(value, "checksum", stringNode(entry.Checksum))
			appendPair(node, name, value)
		}
		appendPair(root, string(kind), node)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("encode policy: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode policy: %w", err)
	}
	return buf.Bytes(), nil
}

func appendPair(mapping *yaml.Node, key string, value *yaml.Node) {
	mapping.Content = append(mapping.Content, stringNode(key), value)
}

func stringNode(value string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
	switch {
	case strings.Contains(value, "\n"):
		n.Style = yaml.LiteralStyle
	case strings.ContainsAny(value, quotedStringTokens):
		n.Style = yaml.DoubleQuotedStyle
	}
	return n
}

func deref(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

func lookup(mapping *yaml.Node, key string) (*yaml.Node, bool) {
	if mapping == nil || mapping.Kind != yaml.MappingNode {
		return nil, false
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return deref(mapping.Content[i+1]), true
		}
	}
	return nil, false
}

// present reports whether key exists with a non-null value.
func present(mapping *yaml.Node, key string) (*yaml.Node, bool) {
	n, ok := lookup(mapping, key)
	if !ok || isNull(n) {
		return nil, false
	}
	return n, true
}

func scalarValue(mapping *yaml.Node, key string) string {
	n, ok := present(mapping, key)
	if !ok || n.Kind != yaml.ScalarNode {
		return ""
	}
	return n.Value
}

func isNull(n *yaml.Node) bool {
	return n == nil || (n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null")
}

func isNumber(n *yaml.Node) bool {
	if n == nil || n.Kind != yaml.ScalarNode {
		return false
	}
	tag := n.ShortTag()
	return tag == "!!int" || tag == "!!float"
}
