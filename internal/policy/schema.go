package policy

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "schema.json"

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("decode policy schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("add policy schema: %w", err)
	}
	sch, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile policy schema: %w", err)
	}
	return sch, nil
})

// schemaViolations checks root against the embedded JSON Schema and returns
// one message per violated keyword.
func schemaViolations(root *yaml.Node) []string {
	sch, err := compileSchema()
	if err != nil {
		return []string{err.Error()}
	}

	var raw any
	if err := root.Decode(&raw); err != nil {
		return []string{fmt.Sprintf("decode document: %v", err)}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return []string{fmt.Sprintf("document is not representable as JSON: %v", err)}
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return []string{fmt.Sprintf("document is not representable as JSON: %v", err)}
	}

	err = sch.Validate(instance)
	if err == nil {
		return nil
	}
	var out []string
	for _, line := range strings.Split(err.Error(), "\n") {
		line = strings.TrimSpace(line)
		if msg, ok := strings.CutPrefix(line, "- "); ok {
			out = append(out, msg)
		}
	}
	if len(out) == 0 {
		out = append(out, err.Error())
	}
	return out
}
