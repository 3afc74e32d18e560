package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"
)

func helperTarget() Target {
	return Target{
		Raw:       "stdio:helper",
		Transport: "stdio",
		Command:   os.Args[0],
		Args:      []string{"-test.run=TestMCPHelperProcess", "--", "mcp-stdio-helper"},
	}
}

func helperConnector() Connector {
	return newStdioConnector(map[string]string{
		"GO_WANT_HELPER_PROCESS": "1",
	})
}

func TestStdioConnector_ConnectAndList(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := helperConnector().Connect(ctx, helperTarget())
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Close()

	if got := client.ServerName(); got != "test-stdio" {
		t.Fatalf("expected server name test-stdio, got %q", got)
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools() error: %v", err)
	}
	if len(tools) != 2 || tools[0].Name != "echo" || tools[1].Name != "read_file" {
		t.Fatalf("unexpected tool definitions: %+v", tools)
	}
	if tools[1].Description != "  Read a file.\n" {
		t.Fatalf("expected description kept verbatim, got %q", tools[1].Description)
	}
}

func TestStdioConnector_MissingCommand(t *testing.T) {
	_, err := helperConnector().Connect(context.Background(), Target{Transport: "stdio"})
	if err == nil || !strings.Contains(err.Error(), "requires command") {
		t.Fatalf("expected missing command error, got %v", err)
	}
}

func TestHTTPSSEConnector_ResponsesInPostBody(t *testing.T) {
	var receivedHeader string

	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		receivedHeader = r.Header.Get("X-Test-Token")
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event: endpoint\ndata: /rpc\n\n")
	})
	mux.HandleFunc("/rpc", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Test-Token"); got == "" {
			t.Errorf("expected custom header on RPC request")
		}
		req, ok := decodeTestRequest(w, r)
		if !ok {
			return
		}
		_ = json.NewEncoder(w).Encode(testResponse(req, "test-http-sse"))
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := newHTTPSSEConnector(nil).Connect(context.Background(), Target{
		Transport: "sse",
		URL:       server.URL + "/sse",
		Headers:   map[string]string{"X-Test-Token": "abc123"},
	})
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Close()

	if receivedHeader != "abc123" {
		t.Fatalf("expected header on SSE discovery request, got %q", receivedHeader)
	}
	if got := client.ServerName(); got != "test-http-sse" {
		t.Fatalf("expected server name from handshake, got %q", got)
	}

	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools() error: %v", err)
	}
	if len(tools) != 2 || tools[0].Name != "echo" {
		t.Fatalf("unexpected tool definitions: %+v", tools)
	}
}

func TestHTTPSSEConnector_ResponsesOnEventStream(t *testing.T) {
	events := make(chan []byte, 16)

	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Errorf("response writer does not flush")
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, ": keepalive\n\nevent: endpoint\ndata: /messages/?session_id=abc\n\n")
		flusher.Flush()
		for {
			select {
			case <-r.Context().Done():
				return
			case msg := <-events:
				_, _ = fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
				flusher.Flush()
			}
		}
	})
	mux.HandleFunc("/messages/", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("session_id"); got != "abc" {
			t.Errorf("expected session id abc, got %q", got)
		}
		req, ok := decodeTestRequest(w, r)
		if !ok {
			return
		}
		payload, _ := json.Marshal(testResponse(req, "stream-server"))
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, "Accepted")
		events <- payload
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := newHTTPSSEConnector(nil).Connect(ctx, Target{Transport: "sse", URL: server.URL + "/sse"})
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Close()

	if got := client.ServerName(); got != "stream-server" {
		t.Fatalf("expected server name stream-server, got %q", got)
	}
	tools, err := client.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools() error: %v", err)
	}
	if len(tools) != 2 || tools[1].Name != "read_file" {
		t.Fatalf("unexpected tool definitions: %+v", tools)
	}
}

func TestHTTPSSEConnector_RejectsBadScheme(t *testing.T) {
	_, err := newHTTPSSEConnector(nil).Connect(context.Background(), Target{URL: "ftp://example.com/sse"})
	if err == nil || !strings.Contains(err.Error(), "unsupported sse url scheme") {
		t.Fatalf("expected scheme error, got %v", err)
	}
}

func TestHTTPListConnector_DecodesListing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"write_file": {"description": "Write a file"},
			"echo": {"description": "Echo"},
			"broken": 5,
			"nodesc": {"title": "x"}
		}`)
	}))
	defer server.Close()

	client, err := newHTTPListConnector(nil).Connect(context.Background(), Target{Transport: "http", URL: server.URL})
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools() error: %v", err)
	}
	if len(tools) != 2 || tools[0].Name != "echo" || tools[1].Name != "write_file" {
		t.Fatalf("unexpected tools: %+v", tools)
	}
}

func TestHTTPListConnector_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newHTTPListConnector(nil).Connect(context.Background(), Target{Transport: "http", URL: server.URL})
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestHTTPListConnector_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "[1, 2]")
	}))
	defer server.Close()

	_, err := newHTTPListConnector(nil).Connect(context.Background(), Target{Transport: "http", URL: server.URL})
	if err == nil || !strings.Contains(err.Error(), "invalid response format") {
		t.Fatalf("expected format error, got %v", err)
	}
}

func decodeTestRequest(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	defer r.Body.Close()
	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}
	if _, hasID := req["id"]; !hasID {
		w.WriteHeader(http.StatusAccepted)
		return nil, false
	}
	return req, true
}

// testResponse answers initialize and a two-page tools/list.
func testResponse(req map[string]any, serverName string) map[string]any {
	var result any
	switch strings.TrimSpace(stringValue(req["method"])) {
	case "initialize":
		result = map[string]any{
			"capabilities": map[string]any{},
			"serverInfo": map[string]any{
				"name":    serverName,
				"version": "1.0.0",
			},
		}
	case "tools/list":
		cursor := ""
		if params, ok := req["params"].(map[string]any); ok {
			cursor = stringValue(params["cursor"])
		}
		if cursor == "" {
			result = map[string]any{
				"tools": []map[string]any{
					{"name": "echo", "description": "Echo tool"},
				},
				"nextCursor": "page-2",
			}
		} else {
			result = map[string]any{
				"tools": []map[string]any{
					{"name": "read_file", "description": "  Read a file.\n"},
				},
			}
		}
	default:
		result = map[string]any{}
	}
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      req["id"],
		"result":  result,
	}
}

func TestMCPHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	isHelper := false
	for _, arg := range os.Args {
		if arg == "mcp-stdio-helper" {
			isHelper = true
			break
		}
	}
	if !isHelper {
		return
	}

	runMCPHelperProcess()
	os.Exit(0)
}

func runMCPHelperProcess() {
	scanner := bufio.NewScanner(os.Stdin)
	writer := os.Stdout
	fmt.Fprintln(os.Stderr, "helper starting")

	for scanner.Scan() {
		var req map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			return
		}
		if _, hasID := req["id"]; !hasID {
			continue
		}

		// Interleave a notification to check that clients skip it.
		note, _ := json.Marshal(map[string]any{
			"jsonrpc": "2.0",
			"method":  "notifications/message",
			"params":  map[string]any{"level": "info", "data": "working"},
		})
		_, _ = writer.Write(append(note, '\n'))

		resp, _ := json.Marshal(testResponse(req, "test-stdio"))
		_, _ = writer.Write(append(resp, '\n'))
	}
}
