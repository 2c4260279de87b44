package mcp

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStdioChannel_EchoFraming(t *testing.T) {
	ch, err := SpawnStdio(ServerConfig{Name: "echo", Command: "cat"})
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.Send([]byte(`{"id":1}`)))
	line, err := ch.Receive()
	require.NoError(t, err)
	assert.Equal(t, `{"id":1}`, string(line))

	// Frames stay intact across multiple sends.
	require.NoError(t, ch.Send([]byte(`{"id":2}`)))
	require.NoError(t, ch.Send([]byte(`{"id":3}`)))
	line, err = ch.Receive()
	require.NoError(t, err)
	assert.Equal(t, `{"id":2}`, string(line))
	line, err = ch.Receive()
	require.NoError(t, err)
	assert.Equal(t, `{"id":3}`, string(line))
}

func TestStdioChannel_GracefulClose(t *testing.T) {
	ch, err := SpawnStdio(ServerConfig{Name: "echo", Command: "cat"})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, ch.Close())
	// cat exits on stdin EOF, well inside the grace period.
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, ch.Closed())

	// Idempotent.
	require.NoError(t, ch.Close())

	err = ch.Send([]byte(`{}`))
	assert.ErrorIs(t, err, ErrTransportClosed)
}

func TestStdioChannel_KillAfterGrace(t *testing.T) {
	// A child that ignores stdin EOF is killed once the grace period runs
	// out.
	ch, err := spawnStdio(ServerConfig{
		Name:    "stubborn",
		Command: "sh",
		Args:    []string{"-c", "trap '' TERM; sleep 60"},
	}, 100*time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, ch.Close())
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 5*time.Second)
}

func TestStdioChannel_ProcessExitClosesReceive(t *testing.T) {
	ch, err := SpawnStdio(ServerConfig{
		Name:    "oneshot",
		Command: "sh",
		Args:    []string{"-c", `echo '{"id":1}'`},
	})
	require.NoError(t, err)
	defer ch.Close()

	line, err := ch.Receive()
	require.NoError(t, err)
	assert.Equal(t, `{"id":1}`, string(line))

	_, err = ch.Receive()
	assert.ErrorIs(t, err, ErrTransportClosed)
	assert.True(t, ch.Closed())
}

func TestStdioChannel_SpawnFailure(t *testing.T) {
	_, err := SpawnStdio(ServerConfig{
		Name:    "missing",
		Command: "/no/such/binary-anywhere",
	})
	require.Error(t, err)

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "spawn", terr.Op)
}

func TestStdioChannel_StderrCapture(t *testing.T) {
	ch, err := SpawnStdio(ServerConfig{
		Name:    "noisy",
		Command: "sh",
		Args:    []string{"-c", "echo 'missing API key' >&2"},
	})
	require.NoError(t, err)
	defer ch.Close()

	_, err = ch.Receive()
	assert.ErrorIs(t, err, ErrTransportClosed)
	assert.Contains(t, ch.Stderr(), "missing API key")
}

func TestStdioChannel_StderrTailBounded(t *testing.T) {
	b := &tailBuffer{limit: 16}
	_, err := b.Write([]byte(strings.Repeat("x", 100)))
	require.NoError(t, err)
	_, err = b.Write([]byte("the very end"))
	require.NoError(t, err)

	out := b.String()
	assert.Len(t, out, 16)
	assert.True(t, strings.HasSuffix(out, "the very end"))
}

func TestStdioChannel_EnvOverlay(t *testing.T) {
	t.Setenv("MCPCHAT_TEST_BASE", "inherited")

	ch, err := SpawnStdio(ServerConfig{
		Name:    "env",
		Command: "sh",
		Args:    []string{"-c", `echo "$MCPCHAT_TEST_BASE $MCPCHAT_TEST_EXTRA"`},
		Env:     map[string]string{"MCPCHAT_TEST_EXTRA": "overlaid"},
	})
	require.NoError(t, err)
	defer ch.Close()

	line, err := ch.Receive()
	require.NoError(t, err)
	assert.Equal(t, "inherited overlaid", string(line))
}

func TestStdioChannel_SessionAgainstRealProcess(t *testing.T) {
	// End-to-end handshake and discovery against a real child process, with
	// a shell script standing in for a server.
	script := `
while IFS= read -r line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
  case "$line" in
    *initialize*)
      printf '{"jsonrpc":"2.0","id":%s,"result":{"protocolVersion":"2024-11-05","serverInfo":{"name":"shellpeer","version":"0.1"},"capabilities":{}}}\n' "$id"
      ;;
    *tools/list*)
      printf '{"jsonrpc":"2.0","id":%s,"result":{"tools":[{"name":"noop","description":"does nothing","inputSchema":{"type":"object"}}]}}\n' "$id"
      ;;
  esac
done`
	ch, err := SpawnStdio(ServerConfig{
		Name:    "shellpeer",
		Command: "sh",
		Args:    []string{"-c", script},
	})
	require.NoError(t, err)

	sess := NewSession("shellpeer", ch, nil)
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	info, err := sess.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, "shellpeer", info.Name)

	tools, err := sess.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "noop", tools[0].Name)
}
