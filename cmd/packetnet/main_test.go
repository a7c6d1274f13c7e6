package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/packetnet/internal/echo"
	"github.com/marmos91/packetnet/pkg/capture"
	"github.com/marmos91/packetnet/pkg/config"
	"github.com/marmos91/packetnet/pkg/network"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath = ""
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}

func TestInit_WritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "packetnet.yaml")

	out, err := execute(t, "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	_, err = execute(t, "init", "--config", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, "init", "--config", path, "--force")
	require.NoError(t, err)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.TransportTCP, cfg.Listen.Transport)
}

func seedBadger(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	store, err := capture.NewBadgerStore(capture.BadgerStoreConfig{Path: dir})
	require.NoError(t, err)

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).UnixNano()
	require.NoError(t, store.Append(context.Background(), []capture.Record{
		{Seq: 1, Timestamp: ts, ConnID: "a", Inbound: true, Payload: []byte{1, 0, 0, 0, 0}},
		{Seq: 2, Timestamp: ts + 1, ConnID: "b", Inbound: false, Payload: bytes.Repeat([]byte{0xab}, 40)},
		{Seq: 3, Timestamp: ts + 2, ConnID: "a", Inbound: false, Payload: []byte{2}},
	}))
	require.NoError(t, store.Close())
	return dir
}

func TestCaptureDump_Text(t *testing.T) {
	dir := seedBadger(t)

	out, err := execute(t, "capture", "dump", "--path", dir)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "2024-05-01T12:00:00Z")
	assert.Contains(t, lines[0], "in")
	assert.Contains(t, lines[0], "0100000000")
	assert.True(t, strings.HasSuffix(lines[1], strings.Repeat("ab", 16)+"..."), lines[1])
}

func TestCaptureDump_JSONFilterAndLimit(t *testing.T) {
	dir := seedBadger(t)

	out, err := execute(t, "capture", "dump", "--path", dir, "--json", "--conn", "a", "--limit", "1")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"seq":1`)
	assert.Contains(t, lines[0], `"direction":"in"`)
	assert.Contains(t, lines[0], `"payload":"0100000000"`)
}

func TestCaptureDump_MemoryStoreRejected(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	_, err := execute(t, "capture", "dump")
	assert.ErrorContains(t, err, "memory capture store")
}

func TestRunPing_AgainstEchoServer(t *testing.T) {
	h := echo.NewHandler(nil)
	srv, err := network.NewServer(network.Config{Workers: 2}, network.Options{Registry: echo.Registry, Handler: h})
	require.NoError(t, err)
	h.SetRelay(srv)
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	go func() { _ = srv.Serve(context.Background()) }()
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })

	cfg := config.GetDefaultConfig()
	cfg.Client.Address = srv.Addr().String()

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	err = runPing(context.Background(), cmd, cfg, pingParams{
		count:    3,
		interval: time.Millisecond,
		timeout:  5 * time.Second,
		chat:     "hello",
	})
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "chat from")
	assert.Contains(t, text, "pong seq=2")
	assert.Contains(t, text, "3 sent, 3 received")
}

func TestMain(m *testing.M) {
	// Keep test log output quiet.
	_ = os.Setenv("PACKETNET_LOGGING_LEVEL", "ERROR")
	os.Exit(m.Run())
}
