package daemon

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/remote/remotetest"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/tui/client"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

// testParams uses a short /tmp path to stay under the 104-char Unix socket limit.
func testParams(t *testing.T, serverURL, token string) Params {
	t.Helper()
	tmpDir, err := os.MkdirTemp("/tmp", "chatsync-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	cfg := config.Default()
	cfg.ServerURL = serverURL
	cfg.AuthToken = token
	cfg.UserID = "me"
	cfg.ReconnectInitial = "10ms"
	cfg.ReconnectMax = "50ms"
	return Params{
		ProfileName: "test",
		Config:      cfg,
		Dir:         filepath.Join(tmpDir, "test"),
		SocketPath:  filepath.Join(tmpDir, "d.sock"),
	}
}

func startDaemon(t *testing.T, p Params) (*fxtest.App, *client.Client) {
	t.Helper()
	app := fxtest.New(t, fx.NopLogger, Module(p))
	app.RequireStart()

	c, err := client.New(p.SocketPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })

	waitFor(t, "daemon to serve", func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		return c.Ping(ctx) == nil
	})
	return app, c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestDaemonLifecycle(t *testing.T) {
	srv := remotetest.NewServer("tok")
	defer srv.Close()
	p := testParams(t, srv.URL, "tok")

	app, c := startDaemon(t, p)
	ctx := context.Background()

	info, err := os.Stat(p.SocketPath)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket permission = %o, want 0600", perm)
	}
	if pid := lock.Holder(p.Dir); pid != os.Getpid() {
		t.Errorf("lock holder = %d, want %d", pid, os.Getpid())
	}
	if _, err := os.Stat(filepath.Join(p.Dir, "logs", "chatsyncd.log")); err != nil {
		t.Errorf("log file: %v", err)
	}

	if _, err := c.Send(ctx, "c1", "hello"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "message to sync", func() bool {
		msgs, err := c.ListMessages(ctx, "c1")
		return err == nil && len(msgs) == 1 && msgs[0].Status == store.StatusSynced
	})
	waitFor(t, "ONLINE state", func() bool {
		st, err := c.Status(ctx)
		return err == nil && st.State == string(status.Online)
	})

	if err := c.Open(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "live feed", func() bool { return srv.Subscribers("c1") == 1 })
	srv.Post("c1", "bob", "hi there")
	waitFor(t, "live message", func() bool {
		msgs, err := c.ListMessages(ctx, "c1")
		return err == nil && len(msgs) == 2 && msgs[1].Content == "hi there"
	})

	app.RequireStop()
	if _, err := os.Stat(p.SocketPath); !os.IsNotExist(err) {
		t.Errorf("socket still present after stop: %v", err)
	}
	if pid := lock.Holder(p.Dir); pid != 0 {
		t.Errorf("lock still held by %d after stop", pid)
	}
	if srv.Subscribers("c1") != 0 {
		waitFor(t, "live feed to close", func() bool { return srv.Subscribers("c1") == 0 })
	}
}

func TestDaemonWithoutToken(t *testing.T) {
	srv := remotetest.NewServer("tok")
	defer srv.Close()
	p := testParams(t, srv.URL, "")

	app, c := startDaemon(t, p)
	defer app.RequireStop()
	ctx := context.Background()

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.State != string(status.Degraded) || st.HasToken {
		t.Errorf("status = %+v, want DEGRADED without token", st)
	}

	msg, err := c.Send(ctx, "c1", "offline")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Status != store.StatusPending {
		t.Errorf("status = %s, want pending", msg.Status)
	}
	time.Sleep(100 * time.Millisecond)
	if srv.Posts() != 0 {
		t.Errorf("server received %d posts without a token", srv.Posts())
	}
	if st, _ := c.Status(ctx); st.Pending != 1 {
		t.Errorf("pending = %d, want 1", st.Pending)
	}
}

func TestPendingFlushedOnStart(t *testing.T) {
	srv := remotetest.NewServer("tok")
	defer srv.Close()
	p := testParams(t, srv.URL, "tok")

	// A previous run left a pending message behind.
	if err := os.MkdirAll(p.Dir, 0700); err != nil {
		t.Fatal(err)
	}
	db, err := store.Open(filepath.Join(p.Dir, "chatsync.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&store.Message{
		ID: "local-1", ConversationID: "c1", SenderID: "me", Content: "from last time",
		CreatedAt: time.Now().UnixMilli(), Status: store.StatusPending,
	}); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	app, c := startDaemon(t, p)
	defer app.RequireStop()

	waitFor(t, "pending push", func() bool { return srv.Posts() == 1 })
	waitFor(t, "confirmation", func() bool {
		msgs, err := c.ListMessages(context.Background(), "c1")
		return err == nil && len(msgs) == 1 && msgs[0].ID == "srv-1"
	})
}

func TestSecondDaemonFails(t *testing.T) {
	srv := remotetest.NewServer("tok")
	defer srv.Close()
	p := testParams(t, srv.URL, "tok")

	app, _ := startDaemon(t, p)
	defer app.RequireStop()

	second := p
	second.SocketPath = p.SocketPath + "2"
	app2 := fx.New(fx.NopLogger, Module(second))
	err := app2.Err()
	if err == nil {
		t.Fatal("second daemon on the same profile should fail")
	}
	if !strings.Contains(err.Error(), "profile lock held") {
		t.Errorf("error = %v, want profile lock error", err)
	}
}

func TestInvalidConfigFails(t *testing.T) {
	p := testParams(t, "http://localhost:3000", "tok")
	p.Config.SyncSchedule = "whenever"
	app := fx.New(fx.NopLogger, Module(p))
	if app.Err() == nil {
		t.Fatal("expected error for invalid sync_schedule")
	}
}

func TestMetricsBindFailureCleansUp(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()

	srv := remotetest.NewServer("tok")
	defer srv.Close()
	p := testParams(t, srv.URL, "tok")
	p.Config.MetricsAddr = busy.Addr().String()

	app := fx.New(fx.NopLogger, Module(p))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Start(ctx); err == nil {
		_ = app.Stop(ctx)
		t.Fatal("start should fail when the metrics address is taken")
	}

	if _, err := os.Stat(p.SocketPath); !os.IsNotExist(err) {
		t.Errorf("socket left behind after failed start: %v", err)
	}
	if pid := lock.Holder(p.Dir); pid != 0 {
		t.Errorf("lock still held by %d after failed start", pid)
	}
}

func TestMetricsServer(t *testing.T) {
	cfg := config.Default()
	cfg.MetricsAddr = "127.0.0.1:0"
	m := NewMetricsServer(cfg, zap.NewNop())
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = m.Stop(context.Background()) }()

	resp, err := http.Get("http://" + m.Addr().String() + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "chatsync_live_connections") {
		t.Error("metrics output missing chatsync_live_connections")
	}

	inert := NewMetricsServer(config.Default(), zap.NewNop())
	if err := inert.Start(); err != nil || inert.Addr() != nil {
		t.Errorf("inert server: err=%v addr=%v", err, inert.Addr())
	}
}
