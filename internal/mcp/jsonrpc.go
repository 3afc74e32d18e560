package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/raillock/raillock/internal/version"
)

const (
	jsonRPCVersion  = "2.0"
	protocolVersion = "2024-11-05"
)

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// decodeToolDefinitions reads a tools/list result. Descriptions are kept
// byte for byte since they feed the tool checksum.
func decodeToolDefinitions(result any) ([]ToolDefinition, error) {
	if result == nil {
		return nil, nil
	}

	var toolsValue any
	switch value := result.(type) {
	case map[string]any:
		toolsValue = value["tools"]
	default:
		toolsValue = value
	}
	if toolsValue == nil {
		return nil, nil
	}

	items, ok := toolsValue.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected tools/list result shape")
	}

	defs := make([]ToolDefinition, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name := strings.TrimSpace(stringValue(obj["name"]))
		if name == "" {
			continue
		}
		defs = append(defs, ToolDefinition{
			Name:        name,
			Description: stringValue(obj["description"]),
		})
	}
	return defs, nil
}

func stringValue(v any) string {
	if v == nil {
		return ""
	}
	switch value := v.(type) {
	case string:
		return value
	default:
		return fmt.Sprint(v)
	}
}

func encodeRequest(id int64, method string, params any) ([]byte, error) {
	payload, err := json.Marshal(map[string]any{
		"jsonrpc": jsonRPCVersion,
		"id":      id,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, fmt.Errorf("encode json-rpc request: %w", err)
	}
	return payload, nil
}

func encodeNotification(method string, params any) ([]byte, error) {
	payload, err := json.Marshal(map[string]any{
		"jsonrpc": jsonRPCVersion,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, fmt.Errorf("encode json-rpc notification: %w", err)
	}
	return payload, nil
}

func decodeRPCResponse(payload []byte, expectedID int64) (any, bool, error) {
	var envelope map[string]any
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, false, fmt.Errorf("decode json-rpc response: %w", err)
	}

	// Notifications and server requests carry no matching id.
	if _, hasID := envelope["id"]; !hasID {
		return nil, false, nil
	}
	if _, isRequest := envelope["method"]; isRequest {
		return nil, false, nil
	}

	if normalizeRPCID(envelope["id"]) != normalizeRPCID(expectedID) {
		return nil, false, nil
	}

	if errValue, ok := envelope["error"]; ok && errValue != nil {
		parsedErr := rpcError{}
		if raw, err := json.Marshal(errValue); err == nil {
			_ = json.Unmarshal(raw, &parsedErr)
		}
		msg := strings.TrimSpace(parsedErr.Message)
		if msg == "" {
			msg = strings.TrimSpace(fmt.Sprint(errValue))
		}
		if msg == "" {
			msg = "json-rpc request failed"
		}
		return nil, true, errors.New(msg)
	}

	return envelope["result"], true, nil
}

// responseID extracts the id of a response envelope, if it is one.
func responseID(payload []byte) (string, bool) {
	var envelope map[string]any
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "", false
	}
	id, hasID := envelope["id"]
	if !hasID {
		return "", false
	}
	if _, isRequest := envelope["method"]; isRequest {
		return "", false
	}
	return normalizeRPCID(id), true
}

func normalizeRPCID(id any) string {
	switch value := id.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(value)
	case float64:
		return fmt.Sprintf("%.0f", value)
	case int:
		return fmt.Sprintf("%d", value)
	case int64:
		return fmt.Sprintf("%d", value)
	default:
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

func buildInitializeParams() map[string]any {
	return map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "raillock",
			"version": version.Version,
		},
	}
}

type rpcInvoker interface {
	invoke(ctx context.Context, method string, params any) (any, error)
	notify(ctx context.Context, method string, params any) error
}

// initializeClient performs the MCP handshake and returns the server name
// from serverInfo, or "" when the server does not report one.
func initializeClient(ctx context.Context, invoker rpcInvoker) (string, error) {
	result, err := invoker.invoke(ctx, "initialize", buildInitializeParams())
	if err != nil {
		return "", fmt.Errorf("initialize mcp session: %w", err)
	}
	if err := invoker.notify(ctx, "notifications/initialized", map[string]any{}); err != nil {
		return "", fmt.Errorf("send initialized notification: %w", err)
	}

	name := ""
	if obj, ok := result.(map[string]any); ok {
		if info, ok := obj["serverInfo"].(map[string]any); ok {
			name = strings.TrimSpace(stringValue(info["name"]))
		}
	}
	return name, nil
}

// maxListPages bounds tools/list pagination against servers that never stop
// returning a cursor.
const maxListPages = 100

// listTools follows nextCursor until the server reports the last page.
func listTools(ctx context.Context, invoker rpcInvoker) ([]ToolDefinition, error) {
	var all []ToolDefinition
	params := map[string]any{}
	for page := 0; page < maxListPages; page++ {
		result, err := invoker.invoke(ctx, "tools/list", params)
		if err != nil {
			return nil, err
		}
		defs, err := decodeToolDefinitions(result)
		if err != nil {
			return nil, err
		}
		all = append(all, defs...)

		obj, _ := result.(map[string]any)
		cursor := strings.TrimSpace(stringValue(obj["nextCursor"]))
		if cursor == "" {
			return all, nil
		}
		params = map[string]any{"cursor": cursor}
	}
	return nil, fmt.Errorf("tools/list did not finish after %d pages", maxListPages)
}
