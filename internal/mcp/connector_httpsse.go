package mcp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// endpointDiscoveryTimeout applies when the caller sets no deadline.
const endpointDiscoveryTimeout = 2 * time.Second

var errStreamClosed = errors.New("sse stream closed")

type httpSSEConnector struct {
	client *http.Client
}

// newHTTPSSEConnector returns a connector for the MCP SSE transport. The
// client must not set a Timeout: the event stream stays open for the whole
// session, so request deadlines come from contexts.
func newHTTPSSEConnector(client *http.Client) Connector {
	if client == nil {
		client = &http.Client{}
	}
	return httpSSEConnector{client: client}
}

func (c httpSSEConnector) Connect(ctx context.Context, target Target) (Client, error) {
	rawURL := strings.TrimSpace(target.URL)
	if rawURL == "" {
		return nil, fmt.Errorf("sse transport requires url")
	}
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid sse url %q: %w", rawURL, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported sse url scheme: %q", parsedURL.Scheme)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	client := &httpSSEClient{
		httpClient:       c.client,
		sseURL:           parsedURL.String(),
		messageEndpoints: buildCandidateMessageEndpoints(parsedURL),
		headers:          cloneHeaders(target.Headers),
		pending:          make(map[string]chan []byte),
		cancel:           cancel,
		streamDone:       make(chan struct{}),
	}

	if endpoint, ok := client.openStream(ctx, streamCtx); ok {
		client.messageEndpoints = prependUnique(client.messageEndpoints, endpoint)
	}

	name, err := initializeClient(ctx, client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	client.serverName = name
	return client, nil
}

func buildCandidateMessageEndpoints(base *url.URL) []string {
	if base == nil {
		return nil
	}

	out := []string{base.String()}
	path := strings.TrimSpace(base.Path)
	if strings.HasSuffix(path, "/sse") {
		alt := *base
		alt.Path = strings.TrimSuffix(path, "/sse") + "/messages"
		alt.RawQuery = ""
		out = append(out, alt.String())
	}
	return uniqueStrings(out)
}

type httpSSEClient struct {
	httpClient       *http.Client
	sseURL           string
	messageEndpoints []string
	headers          map[string]string
	serverName       string

	pendingMu sync.Mutex
	pending   map[string]chan []byte

	cancel     context.CancelFunc
	closeOnce  sync.Once
	streamDone chan struct{}
	streamErr  error

	mu     sync.Mutex
	nextID int64
}

// openStream opens the event stream and waits for the endpoint event. On
// success the stream keeps running in the background and delivers
// responses to pending requests.
func (c *httpSSEClient) openStream(ctx, streamCtx context.Context) (string, bool) {
	discoveryCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		discoveryCtx, cancel = context.WithTimeout(ctx, endpointDiscoveryTimeout)
		defer cancel()
	}
	stop := context.AfterFunc(discoveryCtx, c.cancel)

	fail := func(err error) (string, bool) {
		stop()
		c.finishStream(err)
		return "", false
	}

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.sseURL, nil)
	if err != nil {
		return fail(err)
	}
	req.Header.Set("Accept", "text/event-stream")
	applyHeaders(req.Header, c.headers)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fail(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 ||
		!strings.HasPrefix(strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Type"))), "text/event-stream") {
		resp.Body.Close()
		return fail(fmt.Errorf("sse stream unavailable: %s", resp.Status))
	}

	reader := bufio.NewReader(resp.Body)
	endpointPath, err := readSSEEndpointEvent(reader)
	if stopped := stop(); err != nil || !stopped {
		resp.Body.Close()
		if err == nil {
			err = discoveryCtx.Err()
		}
		c.finishStream(err)
		return "", false
	}

	go c.readStream(reader, resp.Body)

	base, err := url.Parse(c.sseURL)
	if err != nil {
		return "", false
	}
	resolved, err := base.Parse(strings.TrimSpace(endpointPath))
	if err != nil {
		return "", false
	}
	return resolved.String(), true
}

func readSSEEndpointEvent(reader *bufio.Reader) (string, error) {
	for {
		event, data, err := readSSEEvent(reader)
		if err != nil {
			return "", err
		}
		if strings.EqualFold(event, "endpoint") && strings.TrimSpace(data) != "" {
			return strings.TrimSpace(data), nil
		}
	}
}

// readSSEEvent returns the next dispatched event. Comment lines and events
// without data are skipped.
func readSSEEvent(reader *bufio.Reader) (string, string, error) {
	eventName := ""
	var dataLines []string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", "", err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if len(dataLines) == 0 {
				eventName = ""
				continue
			}
			return eventName, strings.Join(dataLines, "\n"), nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if value, ok := strings.CutPrefix(line, "event:"); ok {
			eventName = strings.TrimSpace(value)
			continue
		}
		if value, ok := strings.CutPrefix(line, "data:"); ok {
			dataLines = append(dataLines, strings.TrimPrefix(value, " "))
		}
	}
}

func (c *httpSSEClient) readStream(reader *bufio.Reader, body io.Closer) {
	defer body.Close()
	for {
		_, data, err := readSSEEvent(reader)
		if err != nil {
			c.finishStream(err)
			return
		}
		payload := []byte(strings.TrimSpace(data))
		if id, ok := responseID(payload); ok {
			c.deliver(id, payload)
		}
	}
}

func (c *httpSSEClient) deliver(id string, payload []byte) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if ch, ok := c.pending[id]; ok {
		select {
		case ch <- payload:
		default:
		}
	}
}

func (c *httpSSEClient) finishStream(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	select {
	case <-c.streamDone:
		return
	default:
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = errStreamClosed
	}
	c.streamErr = err
	close(c.streamDone)
}

func (c *httpSSEClient) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	return listTools(ctx, c)
}

func (c *httpSSEClient) ServerName() string {
	return c.serverName
}

func (c *httpSSEClient) Close() error {
	c.closeOnce.Do(c.cancel)
	return nil
}

func (c *httpSSEClient) register(id int64) (string, chan []byte) {
	key := normalizeRPCID(id)
	ch := make(chan []byte, 1)
	c.pendingMu.Lock()
	c.pending[key] = ch
	c.pendingMu.Unlock()
	return key, ch
}

func (c *httpSSEClient) unregister(key string) {
	c.pendingMu.Lock()
	delete(c.pending, key)
	c.pendingMu.Unlock()
}

func (c *httpSSEClient) invoke(ctx context.Context, method string, params any) (any, error) {
	id := atomic.AddInt64(&c.nextID, 1)
	reqBody, err := encodeRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	key, ch := c.register(id)
	defer c.unregister(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for _, endpoint := range c.messageEndpoints {
		result, done, err := c.postAndReadResponse(ctx, endpoint, reqBody, id)
		if err != nil {
			lastErr = fmt.Errorf("endpoint=%s: %w", endpoint, err)
			continue
		}
		if done {
			return result, nil
		}
		return c.awaitStreamResponse(ctx, ch, id)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no message endpoint available")
	}
	return nil, fmt.Errorf("mcp sse invoke %s failed: %w", strings.TrimSpace(method), lastErr)
}

func (c *httpSSEClient) awaitStreamResponse(ctx context.Context, ch <-chan []byte, id int64) (any, error) {
	select {
	case payload := <-ch:
		result, _, err := decodeRPCResponse(payload, id)
		return result, err
	case <-c.streamDone:
		// A response may have raced the stream shutdown.
		select {
		case payload := <-ch:
			result, _, err := decodeRPCResponse(payload, id)
			return result, err
		default:
		}
		return nil, fmt.Errorf("await response: %w", c.streamErr)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *httpSSEClient) notify(ctx context.Context, method string, params any) error {
	reqBody, err := encodeNotification(method, params)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for _, endpoint := range c.messageEndpoints {
		req, err := c.newPost(ctx, endpoint, reqBody)
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("notification request failed with status %s", resp.Status)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no message endpoint available")
	}
	return fmt.Errorf("mcp sse notify %s failed: %w", strings.TrimSpace(method), lastErr)
}

func (c *httpSSEClient) newPost(ctx context.Context, endpoint string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	applyHeaders(req.Header, c.headers)
	return req, nil
}

// postAndReadResponse sends one request. done is false when the server
// accepted the request and will answer on the event stream.
func (c *httpSSEClient) postAndReadResponse(ctx context.Context, endpoint string, reqBody []byte, id int64) (any, bool, error) {
	req, err := c.newPost(ctx, endpoint, reqBody)
	if err != nil {
		return nil, false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = resp.Status
		}
		return nil, false, fmt.Errorf("mcp http request failed: %s", msg)
	}
	if resp.StatusCode == http.StatusAccepted {
		io.Copy(io.Discard, resp.Body)
		return nil, false, nil
	}

	contentType := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Type")))
	if strings.HasPrefix(contentType, "text/event-stream") {
		result, err := readRPCResultFromSSE(ctx, bufio.NewReader(resp.Body), id)
		return result, err == nil, err
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("read mcp response: %w", err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, false, nil
	}
	result, matched, err := decodeRPCResponse(payload, id)
	if err != nil {
		return nil, false, err
	}
	if !matched {
		return nil, false, fmt.Errorf("json-rpc response id mismatch")
	}
	return result, true, nil
}

func readRPCResultFromSSE(ctx context.Context, reader *bufio.Reader, expectedID int64) (any, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		_, data, err := readSSEEvent(reader)
		if err != nil {
			return nil, fmt.Errorf("read sse response: %w", err)
		}
		payload := strings.TrimSpace(data)
		if payload == "" {
			continue
		}
		result, matched, err := decodeRPCResponse([]byte(payload), expectedID)
		if err != nil {
			return nil, err
		}
		if matched {
			return result, nil
		}
	}
}

func applyHeaders(dst http.Header, src map[string]string) {
	for key, value := range src {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		dst.Set(trimmedKey, value)
	}
}

func cloneHeaders(src map[string]string) map[string]string {
	if len(src) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(src))
	for key, value := range src {
		trimmed := strings.TrimSpace(key)
		if trimmed == "" {
			continue
		}
		out[trimmed] = value
	}
	return out
}

func prependUnique(items []string, first string) []string {
	result := make([]string, 0, len(items)+1)
	trimmed := strings.TrimSpace(first)
	if trimmed != "" {
		result = append(result, trimmed)
	}
	for _, item := range items {
		value := strings.TrimSpace(item)
		if value == "" || value == trimmed {
			continue
		}
		result = append(result, value)
	}
	return uniqueStrings(result)
}

func uniqueStrings(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		value := strings.TrimSpace(item)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
