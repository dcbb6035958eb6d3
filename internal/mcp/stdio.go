package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// stopGrace is how long a subprocess gets to exit after stdin closes.
const stopGrace = 5 * time.Second

// StdioConfig configures a subprocess MCP server.
type StdioConfig struct {
	Command string
	Args    []string
	// Env entries ("KEY=VALUE") are appended to the current environment.
	Env    []string
	Logger *slog.Logger
}

// StdioTransport talks newline-delimited JSON-RPC to a subprocess. The
// subprocess starts on first use and survives cancelled calls; a late
// reply to an abandoned call is skipped by ID. One exchange runs at a
// time.
type StdioTransport struct {
	config StdioConfig
	logger *slog.Logger

	// slot is a one-token semaphore so waiting callers can give up when
	// their context ends.
	slot chan struct{}
	proc *stdioProc
}

// stdioProc is one running subprocess.
type stdioProc struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	// lines carries stdout lines and is closed when stdout ends.
	// readErr is set before the close.
	lines   chan []byte
	readErr error
}

// NewStdioTransport creates a stdio transport. Nothing is started until
// the first RoundTrip.
func NewStdioTransport(cfg StdioConfig) *StdioTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{
		config: cfg,
		logger: logger,
		slot:   make(chan struct{}, 1),
	}
}

func (t *StdioTransport) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case t.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	// select picks randomly when both are ready.
	if err := ctx.Err(); err != nil {
		t.release()
		return err
	}
	return nil
}

func (t *StdioTransport) release() { <-t.slot }

// RoundTrip implements Transport.
func (t *StdioTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	if err := t.acquire(ctx); err != nil {
		return nil, err
	}
	defer t.release()

	p, err := t.running()
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", req.Method, err)
	}
	if _, err := p.stdin.Write(append(data, '\n')); err != nil {
		t.kill()
		return nil, fmt.Errorf("write to subprocess stdin: %w", err)
	}
	if req.isNotice() {
		return nil, nil
	}
	return t.await(ctx, p, req)
}

// await reads stdout until the reply to req arrives.
func (t *StdioTransport) await(ctx context.Context, p *stdioProc, req *Request) (*Response, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case line, ok := <-p.lines:
			if !ok {
				t.kill()
				return nil, fmt.Errorf("read from subprocess stdout: %w", p.readErr)
			}
			var resp Response
			if err := json.Unmarshal(line, &resp); err != nil {
				t.logger.Debug("skipping non-JSON line from MCP subprocess", "line", string(line))
				continue
			}
			if resp.answers(req) {
				return &resp, nil
			}
			t.logger.Debug("skipping MCP message", "id", resp.ID, "method", resp.Method)
		}
	}
}

// running returns the live subprocess, starting one if needed. Caller
// holds the slot.
func (t *StdioTransport) running() (*stdioProc, error) {
	if t.proc != nil {
		return t.proc, nil
	}

	t.logger.Info("starting MCP subprocess", "command", t.config.Command, "args", t.config.Args)

	cmd := exec.Command(t.config.Command, t.config.Args...)
	cmd.Env = append(os.Environ(), t.config.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("start %s: %w", t.config.Command, err)
	}

	p := &stdioProc{cmd: cmd, stdin: stdin, lines: make(chan []byte)}
	go p.pump(stdout)
	go t.logStderr(stderr)

	t.logger.Info("MCP subprocess started", "pid", cmd.Process.Pid)
	t.proc = p
	return p, nil
}

// pump forwards stdout lines until the stream ends.
func (p *stdioProc) pump(r io.Reader) {
	defer close(p.lines)
	br := bufio.NewReaderSize(r, 1<<20)
	for {
		line, err := br.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			p.lines <- line
		}
		if err != nil {
			p.readErr = err
			return
		}
	}
}

func (t *StdioTransport) logStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for sc.Scan() {
		t.logger.Debug("MCP subprocess stderr", "line", sc.Text())
	}
}

// Close stops the subprocess, waiting for an exchange in progress to
// finish first.
func (t *StdioTransport) Close() error {
	t.slot <- struct{}{}
	defer t.release()
	return t.stop()
}

// stop closes stdin and waits for the subprocess to exit, killing it
// after stopGrace. Caller holds the slot.
func (t *StdioTransport) stop() error {
	p := t.proc
	if p == nil {
		return nil
	}
	t.proc = nil
	pid := p.cmd.Process.Pid
	t.logger.Info("stopping MCP subprocess", "pid", pid)
	p.stdin.Close()

	grace := time.NewTimer(stopGrace)
	defer grace.Stop()
	for {
		select {
		case _, ok := <-p.lines:
			if !ok {
				return p.cmd.Wait()
			}
		case <-grace.C:
			t.logger.Warn("MCP subprocess did not exit gracefully, killing", "pid", pid)
			_ = p.cmd.Process.Kill()
			for range p.lines {
			}
			_ = p.cmd.Wait()
			return nil
		}
	}
}

// kill tears down a subprocess whose pipes failed. Caller holds the
// slot.
func (t *StdioTransport) kill() {
	p := t.proc
	if p == nil {
		return
	}
	t.proc = nil
	p.stdin.Close()
	_ = p.cmd.Process.Kill()
	for range p.lines {
	}
	_ = p.cmd.Wait()
}
