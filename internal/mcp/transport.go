package mcp

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/telnet2/mcpchat/internal/logging"
)

// defaultGracePeriod is how long Close waits for the child to exit after
// stdin is closed before killing it.
const defaultGracePeriod = 3 * time.Second

// stderrLimit bounds how much child stderr is retained for diagnostics.
const stderrLimit = 8 * 1024

// Channel is one bidirectional framed message stream to a single peer.
// Implementations own the underlying process or pipe.
type Channel interface {
	// Send writes one framed message. Fails with ErrTransportClosed once the
	// channel is closed.
	Send(data []byte) error
	// Receive blocks until a complete frame arrives or the channel closes.
	Receive() ([]byte, error)
	// Close tears the channel down. Safe to call more than once.
	Close() error
}

// StdioChannel is a Channel bound to a child process's stdin/stdout.
// Messages are newline-delimited JSON; partial reads are buffered until a
// full line is available.
type StdioChannel struct {
	name string
	cmd  *exec.Cmd

	stdin  io.WriteCloser
	stdout *bufio.Reader
	stderr *tailBuffer

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool

	grace     time.Duration
	waitDone  chan struct{}
	closeOnce sync.Once
}

// SpawnStdio starts the configured command and opens a channel on its stdio.
// Env entries are overlaid on the current environment.
func SpawnStdio(cfg ServerConfig) (*StdioChannel, error) {
	return spawnStdio(cfg, defaultGracePeriod)
}

func spawnStdio(cfg ServerConfig, grace time.Duration) (*StdioChannel, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &TransportError{Op: "spawn", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &TransportError{Op: "spawn", Err: err}
	}

	stderr := &tailBuffer{limit: stderrLimit}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, &TransportError{Op: "spawn", Err: err}
	}

	ch := &StdioChannel{
		name:     cfg.Name,
		cmd:      cmd,
		stdin:    stdin,
		stdout:   bufio.NewReader(stdout),
		stderr:   stderr,
		grace:    grace,
		waitDone: make(chan struct{}),
	}

	go func() {
		_ = cmd.Wait()
		close(ch.waitDone)
	}()

	return ch, nil
}

// Send writes one newline-terminated frame to the child's stdin.
func (c *StdioChannel) Send(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrTransportClosed
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.stdin.Write(append(data, '\n')); err != nil {
		c.markClosed()
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

// Receive blocks until a full line arrives from the child's stdout. Process
// exit or any read error surfaces here and moves the channel to its terminal
// closed state.
func (c *StdioChannel) Receive() ([]byte, error) {
	line, err := c.stdout.ReadBytes('\n')
	if err != nil {
		wasClosed := c.markClosed()
		if err == io.EOF || wasClosed {
			return nil, ErrTransportClosed
		}
		return nil, &TransportError{Op: "read", Err: err}
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

// Close requests graceful termination by closing stdin, then kills the
// process if it does not exit within the grace period.
func (c *StdioChannel) Close() error {
	c.markClosed()

	c.closeOnce.Do(func() {
		_ = c.stdin.Close()

		select {
		case <-c.waitDone:
		case <-time.After(c.grace):
			logging.Warn().Str("server", c.name).Msg("process did not exit in time, killing")
			if c.cmd.Process != nil {
				_ = c.cmd.Process.Kill()
			}
			<-c.waitDone
		}
	})
	return nil
}

// markClosed flips the channel to its terminal state. Returns whether it was
// already closed.
func (c *StdioChannel) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.closed
	c.closed = true
	return was
}

// Closed reports whether the channel has reached its terminal state.
func (c *StdioChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Stderr returns the tail of the child's stderr output, for diagnostics on
// spawn or handshake failure.
func (c *StdioChannel) Stderr() string {
	return c.stderr.String()
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.limit {
		b.buf = b.buf[len(b.buf)-b.limit:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
