package policy

import (
	"strings"

	"github.com/raillock/raillock/internal/inventory"
	"github.com/raillock/raillock/internal/review"
)

// Summary counts tools per reviewer decision. Unset tools are not counted.
type Summary struct {
	Allowed   int `json:"allowed"`
	Denied    int `json:"denied"`
	Malicious int `json:"malicious"`
	Ignored   int `json:"ignored"`
}

// UnnamedServer stands in for a blank ServerMeta.Name so built documents
// always carry server.name.
const UnnamedServer = "unnamed-server"

// Build compiles reviewer decisions over tools into a document. It is total:
// Ignore and Unset tools are skipped, everything else lands in the section
// matching its decision.
func Build(tools []inventory.Tool, state *review.State, meta ServerMeta) (*Document, Summary) {
	meta.Name = strings.TrimSpace(meta.Name)
	if meta.Name == "" {
		meta.Name = UnnamedServer
	}
	doc := NewDocument(meta)
	summary := Summary{}
	if state == nil {
		state = review.NewState()
	}

	for _, tool := range tools {
		var section Section
		switch state.Choice(tool.Name) {
		case review.Allow:
			section = doc.AllowedTools
			summary.Allowed++
		case review.Deny:
			section = doc.DeniedTools
			summary.Denied++
		case review.Malicious:
			section = doc.MaliciousTools
			summary.Malicious++
		case review.Ignore:
			summary.Ignored++
			continue
		default:
			continue
		}
		section[tool.Name] = Entry{
			Description: dedent(tool.Description),
			Server:      meta.Name,
			Checksum:    tool.Checksum,
		}
	}
	return doc, summary
}

// dedent removes the common leading whitespace of all non-blank lines and
// strips surrounding newlines.
func dedent(text string) string {
	lines := strings.Split(text, "\n")
	margin := ""
	first := true
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		if first {
			margin = indent
			first = false
			continue
		}
		margin = commonPrefix(margin, indent)
	}
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			lines[i] = ""
			continue
		}
		lines[i] = strings.TrimPrefix(line, margin)
	}
	return strings.Trim(strings.Join(lines, "\n"), "\n")
}

func commonPrefix(a, b string) string {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[:i]
		}
	}
	return a[:n]
}
