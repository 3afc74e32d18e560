package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// maxStdioMessage bounds one newline-delimited JSON-RPC message.
const maxStdioMessage = 8 << 20

type stdioConnector struct {
	env map[string]string
}

// newStdioConnector launches servers with env merged over the current
// process environment.
func newStdioConnector(env map[string]string) Connector {
	return stdioConnector{env: env}
}

func (c stdioConnector) Connect(ctx context.Context, target Target) (Client, error) {
	command := strings.TrimSpace(target.Command)
	if command == "" {
		return nil, fmt.Errorf("stdio transport requires command")
	}

	cmd := exec.CommandContext(ctx, command, target.Args...)
	cmd.Env = mergeEnv(c.env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start stdio server %q: %w", command, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStdioMessage)

	client := &stdioClient{
		command:  command,
		cmd:      cmd,
		stdin:    stdin,
		scanner:  scanner,
		stderr:   newTailBuffer(4096),
		exitDone: make(chan struct{}),
	}

	// Drain stderr to avoid blocking and retain a bounded tail for diagnostics.
	go io.Copy(client.stderr, stderr)
	go func() {
		client.markExited(cmd.Wait())
	}()

	name, err := initializeClient(ctx, client)
	if err != nil {
		client.kill()
		return nil, client.decorateError(err)
	}
	client.serverName = name
	return client, nil
}

func mergeEnv(extra map[string]string) []string {
	base := os.Environ()
	if len(extra) == 0 {
		return base
	}

	merged := make(map[string]string, len(base)+len(extra))
	for _, item := range base {
		key, value, _ := strings.Cut(item, "=")
		merged[key] = value
	}
	for key, value := range extra {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		merged[trimmedKey] = value
	}

	out := make([]string, 0, len(merged))
	for key, value := range merged {
		out = append(out, key+"="+value)
	}
	return out
}

type stdioClient struct {
	command    string
	serverName string
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	scanner    *bufio.Scanner
	stderr     *tailBuffer

	exitMu   sync.RWMutex
	exited   bool
	exitErr  error
	exitDone chan struct{}

	mu     sync.Mutex
	nextID int64
}

func (c *stdioClient) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	return listTools(ctx, c)
}

func (c *stdioClient) ServerName() string {
	return c.serverName
}

// Close ends the session by closing stdin and gives the server a moment to
// exit before killing it.
func (c *stdioClient) Close() error {
	_ = c.stdin.Close()
	c.waitForExit(time.Second)
	c.kill()
	return nil
}

func (c *stdioClient) kill() {
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	c.waitForExit(500 * time.Millisecond)
}

func (c *stdioClient) invoke(ctx context.Context, method string, params any) (any, error) {
	if err := c.processExitError(); err != nil {
		return nil, c.decorateError(err)
	}

	id := atomic.AddInt64(&c.nextID, 1)
	payload, err := encodeRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeLine(payload); err != nil {
		return nil, c.decorateError(err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		line, err := c.readLine()
		if err != nil {
			return nil, c.decorateError(err)
		}
		if len(line) == 0 {
			continue
		}
		result, matched, err := decodeRPCResponse(line, id)
		if err != nil {
			return nil, err
		}
		if !matched {
			continue
		}
		return result, nil
	}
}

func (c *stdioClient) notify(ctx context.Context, method string, params any) error {
	if err := c.processExitError(); err != nil {
		return c.decorateError(err)
	}

	payload, err := encodeNotification(method, params)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.decorateError(c.writeLine(payload))
}

func (c *stdioClient) writeLine(payload []byte) error {
	if _, err := c.stdin.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write mcp message: %w", err)
	}
	return nil
}

func (c *stdioClient) readLine() ([]byte, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return nil, fmt.Errorf("read mcp message: %w", err)
		}
		return nil, fmt.Errorf("read mcp message: %w", io.EOF)
	}
	return []byte(strings.TrimSpace(c.scanner.Text())), nil
}

func (c *stdioClient) markExited(err error) {
	c.exitMu.Lock()
	defer c.exitMu.Unlock()

	if c.exited {
		return
	}
	c.exited = true
	c.exitErr = err
	close(c.exitDone)
}

func (c *stdioClient) waitForExit(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	select {
	case <-c.exitDone:
	case <-time.After(timeout):
	}
}

func (c *stdioClient) processExitError() error {
	c.exitMu.RLock()
	defer c.exitMu.RUnlock()

	if !c.exited {
		return nil
	}
	if c.exitErr == nil {
		return fmt.Errorf("mcp stdio server %q exited", c.command)
	}
	return fmt.Errorf("mcp stdio server %q exited: %w", c.command, c.exitErr)
}

func (c *stdioClient) decorateError(err error) error {
	if err == nil {
		return nil
	}

	stderrTail := strings.TrimSpace(c.stderr.String())
	if processErr := c.processExitError(); processErr != nil {
		if stderrTail != "" {
			return fmt.Errorf("%w; process=%v; stderr=%s", err, processErr, stderrTail)
		}
		return fmt.Errorf("%w; process=%v", err, processErr)
	}

	if stderrTail != "" {
		return fmt.Errorf("%w; stderr=%s", err, stderrTail)
	}
	return err
}

type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	if max <= 0 {
		max = 1024
	}
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = append([]byte(nil), b.buf[len(b.buf)-b.max:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
