package main

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/steveyegge/foundry/internal/configcache"
	"github.com/steveyegge/foundry/internal/manufacturing"
	"github.com/steveyegge/foundry/internal/storage/sqlite"
	"github.com/steveyegge/foundry/internal/tracker/testutil"
	"github.com/steveyegge/foundry/internal/types"
)

// newClosableApp wires the parts closeApp releases. The Redis client
// never dials until a command runs.
func newClosableApp(t *testing.T) (*app, *redis.Client) {
	t.Helper()
	store, err := sqlite.New(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	remote := testutil.NewFakeClient()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	rt := configcache.NewRedisTierFromClient(client)
	cache, err := configcache.New(remote, types.DefaultWorkflow(),
		configcache.WithDistributed(rt),
		configcache.WithPersistent(configcache.NewPersistentTier(store)),
	)
	if err != nil {
		t.Fatalf("configcache.New: %v", err)
	}
	return &app{store: store, remote: remote, cache: cache, distributed: rt}, client
}

// swapExit records exit codes instead of exiting and resets the globals
// exit touches.
func swapExit(t *testing.T) *[]int {
	t.Helper()
	var codes []int
	prevExit, prevCtx, prevCancel := osExit, rootCtx, rootCancel
	osExit = func(code int) { codes = append(codes, code) }
	t.Cleanup(func() {
		osExit, rootCtx, rootCancel = prevExit, prevCtx, prevCancel
		appMu.Lock()
		current = nil
		appMu.Unlock()
	})
	return &codes
}

func TestAppCloseReleasesRedisTier(t *testing.T) {
	a, client := newClosableApp(t)
	a.close()

	if err := client.Ping(context.Background()).Err(); !errors.Is(err, redis.ErrClosed) {
		t.Errorf("Ping after close = %v, want %v", err, redis.ErrClosed)
	}
	if _, err := a.distributed.Get(context.Background(), types.NewSnapshotKey("o", "p")); err == nil {
		t.Error("redis tier still serves reads after close")
	}
	if _, err := a.cache.Get(context.Background(), types.NewSnapshotKey("o", "p")); !errors.Is(err, configcache.ErrClosed) {
		t.Errorf("cache Get after close = %v, want ErrClosed", err)
	}
}

func TestAppCloseToleratesPartialBuild(t *testing.T) {
	(&app{}).close()
}

func TestExitShutsDownFirst(t *testing.T) {
	codes := swapExit(t)
	a, client := newClosableApp(t)
	appMu.Lock()
	current = a
	appMu.Unlock()
	rootCtx, rootCancel = context.WithCancel(context.Background())

	exit(2)

	if len(*codes) != 1 || (*codes)[0] != 2 {
		t.Fatalf("exit codes = %v, want [2]", *codes)
	}
	if current != nil {
		t.Error("app still set after exit")
	}
	if rootCtx.Err() == nil {
		t.Error("root context not cancelled")
	}
	if err := client.Ping(context.Background()).Err(); !errors.Is(err, redis.ErrClosed) {
		t.Errorf("redis client not closed before exit: %v", err)
	}
}

func TestPrintResultRefusedExitsTwo(t *testing.T) {
	codes := swapExit(t)
	stdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = w
	defer func() { os.Stdout = stdout }()

	res := &manufacturing.Result{
		Outcome:  manufacturing.OutcomeGateFailure,
		WorkItem: &types.WorkItem{ID: "wi-1"},
		Reason:   "coverage below threshold",
	}
	if err := printResult(res); err != nil {
		t.Fatalf("printResult: %v", err)
	}
	_ = w.Close()
	os.Stdout = stdout
	out, _ := io.ReadAll(r)

	if len(*codes) != 1 || (*codes)[0] != 2 {
		t.Errorf("exit codes = %v, want [2]", *codes)
	}
	if want := "wi-1: gate_failure: coverage below threshold\n"; string(out) != want {
		t.Errorf("output = %q, want %q", out, want)
	}

	*codes = nil
	if err := printResult(&manufacturing.Result{Outcome: manufacturing.OutcomeNoOp, WorkItem: &types.WorkItem{ID: "wi-1"}}); err != nil {
		t.Fatalf("printResult: %v", err)
	}
	if len(*codes) != 0 {
		t.Errorf("no-op exited with %v", *codes)
	}
}
