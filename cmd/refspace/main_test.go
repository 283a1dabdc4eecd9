package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/refspace-go/internal/config"
	"github.com/rmacdonaldsmith/refspace-go/internal/refnode"
	"github.com/rmacdonaldsmith/refspace-go/pkg/refspace"
)

func newTestNode(t *testing.T, cfg config.NodeConfig) *refnode.Node {
	t.Helper()
	n, err := startNode(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })
	return n
}

// run executes the root command and returns its output
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append(args, "--timeout", "10s"))
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "refspace v"+appVersion+"\n", out)
}

func TestCallCommand(t *testing.T) {
	n := newTestNode(t, config.NodeConfig{ID: "node-a", Listen: "127.0.0.1:0"})
	addr := n.BusAddr()

	t.Run("method", func(t *testing.T) {
		out, err := run(t, "", "call", addr, "api/echo", "upper", "hello")
		require.NoError(t, err)
		assert.Equal(t, "HELLO\n", out)
	})

	t.Run("stdin stream", func(t *testing.T) {
		out, err := run(t, "hello world", "call", addr, "api/echo", "count", "--stdin")
		require.NoError(t, err)
		assert.Equal(t, "11\n", out)
	})

	t.Run("object without method", func(t *testing.T) {
		out, err := run(t, "", "call", addr, "api/echo")
		require.NoError(t, err)
		assert.Contains(t, out, `"upper"`)
		assert.Contains(t, out, `"node-a"`)
	})

	t.Run("function returning a capability", func(t *testing.T) {
		out, err := run(t, "", "call", addr, "sys/lookup", "api", "echo")
		require.NoError(t, err)
		assert.Contains(t, out, `"echo"`)
		assert.Contains(t, out, `"count"`)
	})

	t.Run("remote error", func(t *testing.T) {
		_, err := run(t, "", "call", addr, "api/echo", "upper", "42")
		require.Error(t, err)
		var remote *refspace.RemoteError
		assert.ErrorAs(t, err, &remote)
	})

	t.Run("unknown target", func(t *testing.T) {
		_, err := run(t, "", "call", addr, "api/missing", "upper", "x")
		assert.Error(t, err)
	})

	t.Run("bad target", func(t *testing.T) {
		_, err := run(t, "", "call", addr, "echo")
		assert.Error(t, err)
	})

	assert.Eventually(t, func() bool { return len(n.Store().Peers()) == 0 }, 5*time.Second, 20*time.Millisecond)
}

func TestAPICommands(t *testing.T) {
	n := newTestNode(t, config.NodeConfig{
		ID:         "node-a",
		Listen:     "127.0.0.1:0",
		HTTPListen: "127.0.0.1:0",
		Secret:     "s3cret",
	})
	server := "http://" + n.HTTPAddr()

	out, err := run(t, "", "health", "--server", server)
	require.NoError(t, err)
	assert.Contains(t, out, "Node: node-a")
	assert.Contains(t, out, "Refs: 2")

	out, err = run(t, "", "refs", "--server", server)
	require.NoError(t, err)
	assert.Contains(t, out, "api")
	assert.Contains(t, out, "count,name,node,upper,version")
	assert.Contains(t, out, "lookup")

	out, err = run(t, "", "refs", "--server", server, "--kind", "function")
	require.NoError(t, err)
	assert.NotContains(t, out, "echo")

	out, err = run(t, "", "peers", "--server", server)
	require.NoError(t, err)
	assert.Contains(t, out, "HEALTH")

	// no peer link on this node
	_, err = run(t, "", "peers", "--server", server, "--secret", "s3cret", "--disconnect", "node-b")
	assert.Error(t, err)

	_, err = run(t, "", "refs", "--server", server, "--secret", "wrong")
	assert.Error(t, err)
}

func TestNodesOverPeerLink(t *testing.T) {
	b := newTestNode(t, config.NodeConfig{ID: "node-b", GRPCListen: "127.0.0.1:0", Secret: "s3cret"})
	a := newTestNode(t, config.NodeConfig{
		ID:         "node-a",
		GRPCListen: "127.0.0.1:0",
		Secret:     "s3cret",
		Peers:      []string{"node-b@" + b.GRPCAddr()},
	})

	require.Eventually(t, func() bool {
		return len(a.Store().Peers()) == 1 && len(b.Store().Peers()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lookup, err := a.Store().Proxy(refspace.Descriptor{
		Ref:  refspace.Ref{Space: "sys", ID: "lookup", Peer: "node-b"},
		Kind: refspace.KindFunction,
	})
	require.NoError(t, err)

	f, err := lookup.Call(ctx, "api", "echo")
	require.NoError(t, err)
	found, err := f.Await(ctx)
	require.NoError(t, err)
	echo, ok := found.(*refspace.Handle)
	require.True(t, ok, "expected a capability, got %T", found)
	assert.Equal(t, "node-b", echo.Ref().Peer)

	f, err = echo.Invoke(ctx, "upper", "power")
	require.NoError(t, err)
	v, err := f.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "POWER", v)
}

func TestServeOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
id = "from-file"
listen = "127.0.0.1:7301"
http_listen = ""
`), 0o600))

	root := newRootCommand()
	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	require.NoError(t, serve.ParseFlags([]string{"--config", path, "--id", "from-flag"}))

	opts := &serveOptions{configPath: path, id: "from-flag"}
	cfg, err := opts.resolve(serve)
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.ID)
	assert.Equal(t, "127.0.0.1:7301", cfg.Listen)
	assert.Equal(t, "", cfg.HTTPListen)
}
