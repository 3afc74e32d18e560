package inventory

import (
	"errors"
	"fmt"
	"strings"
)

// Server transport types recorded in snapshots and policy documents.
const (
	ServerTypeSSE   = "sse"
	ServerTypeStdio = "stdio"
	ServerTypeHTTP  = "http"
)

// ErrUnavailable reports that no live tool inventory could be obtained.
var ErrUnavailable = errors.New("tool inventory unavailable")

// Tool is one tool advertised by an MCP server.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Checksum    string `json:"checksum"`
}

// Snapshot is a read-only view of a server's tools at one point in time.
type Snapshot struct {
	ServerName string `json:"server_name"`
	ServerType string `json:"server_type"`
	Tools      []Tool `json:"tools"`
}

// Names returns the tool names in snapshot order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s.Tools))
	for _, tool := range s.Tools {
		names = append(names, tool.Name)
	}
	return names
}

// UnavailableError wraps the cause of a failed inventory load.
type UnavailableError struct {
	Server string
	Err    error
}

func (e *UnavailableError) Error() string {
	server := strings.TrimSpace(e.Server)
	if server == "" {
		return fmt.Sprintf("%v: %v", ErrUnavailable, e.Err)
	}
	return fmt.Sprintf("%v from %s: %v", ErrUnavailable, server, e.Err)
}

func (e *UnavailableError) Unwrap() []error {
	return []error{ErrUnavailable, e.Err}
}

// Unavailable wraps err as an UnavailableError for server.
func Unavailable(server string, err error) error {
	if err == nil {
		return nil
	}
	var existing *UnavailableError
	if errors.As(err, &existing) {
		return err
	}
	return &UnavailableError{Server: server, Err: err}
}
