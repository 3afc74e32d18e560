package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

// maxListingBytes bounds the plain HTTP tool listing.
const maxListingBytes = 8 << 20

// httpListConnector reads a plain JSON listing of the form
// {"tool_name": {"description": "..."}} with a single GET.
type httpListConnector struct {
	client *http.Client
}

func newHTTPListConnector(client *http.Client) Connector {
	if client == nil {
		client = http.DefaultClient
	}
	return httpListConnector{client: client}
}

func (c httpListConnector) Connect(ctx context.Context, target Target) (Client, error) {
	rawURL := strings.TrimSpace(target.URL)
	if rawURL == "" {
		return nil, fmt.Errorf("http transport requires url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build tool listing request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	applyHeaders(req.Header, target.Headers)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("failed to connect to server: %s", resp.Status)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxListingBytes))
	if err != nil {
		return nil, fmt.Errorf("read tool listing: %w", err)
	}
	defs, err := decodeToolListing(payload)
	if err != nil {
		return nil, err
	}
	return &staticClient{tools: defs}, nil
}

// decodeToolListing keeps entries that are objects with a description and
// returns them sorted by name.
func decodeToolListing(payload []byte) ([]ToolDefinition, error) {
	var listing map[string]json.RawMessage
	if err := json.Unmarshal(payload, &listing); err != nil {
		return nil, fmt.Errorf("invalid response format from server: %w", err)
	}

	defs := make([]ToolDefinition, 0, len(listing))
	for name, raw := range listing {
		var info map[string]any
		if err := json.Unmarshal(raw, &info); err != nil || info == nil {
			continue
		}
		desc, ok := info["description"]
		if !ok {
			continue
		}
		defs = append(defs, ToolDefinition{Name: name, Description: stringValue(desc)})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

// staticClient serves a listing fetched up front.
type staticClient struct {
	tools []ToolDefinition
}

func (c *staticClient) ListTools(context.Context) ([]ToolDefinition, error) {
	return append([]ToolDefinition(nil), c.tools...), nil
}

func (c *staticClient) ServerName() string { return "" }

func (c *staticClient) Close() error { return nil }
