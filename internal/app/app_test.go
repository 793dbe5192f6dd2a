package app

import (
	"bytes"
	"context"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/goopcall/internal/config"
	"github.com/petervdpas/goopcall/internal/docstore"
)

func TestNormalizeLocalViewer(t *testing.T) {
	cases := map[string]string{
		":8790":          "127.0.0.1:8790",
		"0.0.0.0:8790":   "127.0.0.1:8790",
		"127.0.0.1:9000": "127.0.0.1:9000",
	}
	for in, want := range cases {
		addr, url, _ := NormalizeLocalViewer(in)
		assert.Equal(t, want, addr)
		assert.Equal(t, "http://"+want, url)
	}
}

func TestPromptInteractive(t *testing.T) {
	answers := strings.Join([]string{
		"alice", "Alice", "", // identity
		"ws", "ws://relay.example.org:8787/ws",
		"y", // synthetic
		"",  // viewer addr keeps default
		"x", // not a number
		"9000",
	}, "\n") + "\n"
	var out bytes.Buffer

	cfg := PromptInteractive(strings.NewReader(answers), &out, "/peers/a", "/peers/a/goopcall.json", config.Default())

	assert.Equal(t, "alice", cfg.Identity.ID)
	assert.Equal(t, "Alice", cfg.Identity.DisplayName)
	assert.Equal(t, config.BackendWS, cfg.Relay.Backend)
	assert.Equal(t, "ws://relay.example.org:8787/ws", cfg.Relay.URL)
	assert.Equal(t, config.CaptureSynthetic, cfg.Media.Capture)
	assert.Equal(t, "127.0.0.1:8790", cfg.Viewer.HTTPAddr)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Contains(t, out.String(), "Please enter a number.")
}

func TestPromptInteractiveKeepsConfigOnInvalidAnswers(t *testing.T) {
	answers := "bad/id\n\n\n\n\n\n\n"
	var out bytes.Buffer
	def := config.Default()

	cfg := PromptInteractive(strings.NewReader(answers), &out, "d", "c", def)

	assert.Equal(t, def, cfg)
	assert.Contains(t, out.String(), "Invalid config")
}

func TestICEServers(t *testing.T) {
	got := iceServers([]config.ICEServer{
		{URLs: []string{"stun:stun.example.org:3478"}},
		{URLs: []string{"turn:turn.example.org:3478"}, Username: "u", Credential: "p"},
	})
	require.Len(t, got, 2)
	assert.Nil(t, got[0].Credential)
	assert.Equal(t, "p", got[1].Credential)

	assert.NotEmpty(t, iceServers(nil))
}

func TestParty(t *testing.T) {
	p := party(config.Identity{ID: "bob", Email: "bob@example.org"})
	assert.Equal(t, "bob", p.UID)
	assert.Equal(t, "bob", p.Name)
	assert.Equal(t, "bob@example.org", p.Email)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	mem, err := openStore(ctx, storeConfig{Backend: config.BackendMemory})
	require.NoError(t, err)
	require.NoError(t, mem.Set(ctx, "calls", "c1", docstore.Doc{"status": "calling"}))
	require.NoError(t, mem.Close())

	dir := t.TempDir()
	sc := peerStoreConfig(filepath.Join(dir, "alice"), config.Relay{
		Backend:        config.BackendSQLite,
		SQLitePath:     "../relay.db",
		PollIntervalMs: 50,
	})
	assert.Equal(t, filepath.Join(dir, "relay.db"), sc.SQLitePath)
	sq, err := openStore(ctx, sc)
	require.NoError(t, err)
	require.NoError(t, sq.Set(ctx, "calls", "c1", docstore.Doc{"status": "calling"}))
	require.NoError(t, sq.Close())

	_, err = openStore(ctx, storeConfig{Backend: "carrier-pigeon"})
	assert.Error(t, err)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestRunRelayServesClients(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Server.Port = freePort(t)
	cfgPath := filepath.Join(dir, config.FileName)
	require.NoError(t, config.Save(cfgPath, cfg))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunRelay(ctx, Options{PeerDir: dir, CfgPath: cfgPath, Cfg: cfg}) }()

	addr := net.JoinHostPort(cfg.Server.Bind, strconv.Itoa(cfg.Server.Port))
	require.NoError(t, WaitTCP(addr, 3*time.Second))

	client, err := openStore(ctx, storeConfig{Backend: config.BackendWS, URL: "ws://" + addr + "/ws"})
	require.NoError(t, err)
	require.NoError(t, client.Set(ctx, "calls", "c1", docstore.Doc{"status": "calling"}))
	doc, err := client.Get(ctx, "calls", "c1")
	require.NoError(t, err)
	assert.Equal(t, "calling", doc["status"])
	require.NoError(t, client.Close())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop")
	}
}
