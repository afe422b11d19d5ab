package registry

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.json")
	r, err := New(path, NewFileLocker(path+".lock", time.Second), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func fixedClock(ts string) func() time.Time {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return t }
}

func TestGetOrCreateActiveConversation(t *testing.T) {
	r := newTestRegistry(t)
	first, err := r.GetOrCreateActiveConversation("42")
	if err != nil {
		t.Fatal(err)
	}
	if first == "" {
		t.Fatal("expected a conversation id")
	}
	again, err := r.GetOrCreateActiveConversation("42")
	if err != nil {
		t.Fatal(err)
	}
	if again != first {
		t.Fatalf("expected stable id %q, got %q", first, again)
	}
	other, _ := r.GetOrCreateActiveConversation("43")
	if other == first {
		t.Fatal("different users must not share a conversation")
	}
}

func TestGetOrCreateConcurrent(t *testing.T) {
	r := newTestRegistry(t)
	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := r.GetOrCreateActiveConversation("7")
			if err != nil {
				t.Error(err)
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()
	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("concurrent callers created different ids: %q vs %q", ids[0], id)
		}
	}
}

func TestStartNewConversation(t *testing.T) {
	r := newTestRegistry(t)
	old, _ := r.GetOrCreateActiveConversation("1")
	fresh, err := r.StartNewConversation("1")
	if err != nil {
		t.Fatal(err)
	}
	if fresh == old {
		t.Fatal("expected a new conversation id")
	}
	cur, _ := r.GetOrCreateActiveConversation("1")
	if cur != fresh {
		t.Fatalf("active conversation = %q, want %q", cur, fresh)
	}
}

func TestInFlightLifecycle(t *testing.T) {
	r := newTestRegistry(t)
	ok, err := r.BeginInFlight("1")
	if err != nil || !ok {
		t.Fatalf("first begin: ok=%v err=%v", ok, err)
	}
	ok, err = r.BeginInFlight("1")
	if err != nil || ok {
		t.Fatalf("second begin should fail: ok=%v err=%v", ok, err)
	}
	if err := r.SetStatus("1", 555); err != nil {
		t.Fatal(err)
	}
	id, ok, err := r.StatusMessageID("1")
	if err != nil || !ok || id != 555 {
		t.Fatalf("status = %d %v %v", id, ok, err)
	}
	if err := r.ClearStatus("1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := r.StatusMessageID("1"); ok {
		t.Fatal("status should be cleared")
	}
	ok, _ = r.BeginInFlight("1")
	if !ok {
		t.Fatal("begin after clear should succeed")
	}
}

func TestBeginInFlightExactlyOneWinner(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")
	// Two registries on the same file contend through the advisory lock,
	// as two processes would.
	var regs []*Registry
	for i := 0; i < 2; i++ {
		r, err := New(path, NewFileLocker(path+".lock", 2*time.Second), testLogger())
		if err != nil {
			t.Fatal(err)
		}
		regs = append(regs, r)
	}

	for round := 0; round < 20; round++ {
		var wins atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(r *Registry) {
				defer wg.Done()
				<-start
				ok, err := r.BeginInFlight("9")
				if err != nil {
					t.Error(err)
					return
				}
				if ok {
					wins.Add(1)
				}
			}(regs[i%2])
		}
		close(start)
		wg.Wait()
		if got := wins.Load(); got != 1 {
			t.Fatalf("round %d: %d winners, want 1", round, got)
		}
		if err := regs[0].ClearStatus("9"); err != nil {
			t.Fatal(err)
		}
	}
}

func TestQuotaByDate(t *testing.T) {
	r := newTestRegistry(t)
	r.now = fixedClock("2026-03-01T23:00:00Z")

	const limit = 3
	for i := 0; i < limit; i++ {
		ok, err := r.CanConsumeMessage("5", limit)
		if err != nil || !ok {
			t.Fatalf("message %d: ok=%v err=%v", i, ok, err)
		}
		if err := r.ConsumeMessage("5"); err != nil {
			t.Fatal(err)
		}
	}
	ok, err := r.CanConsumeMessage("5", limit)
	if err != nil || ok {
		t.Fatalf("expected quota exhausted, ok=%v err=%v", ok, err)
	}
	if ok, _ := r.CanConsumeMessage("6", limit); !ok {
		t.Fatal("other users are unaffected")
	}
	if ok, _ := r.CanConsumeMessage("5", 0); !ok {
		t.Fatal("limit 0 means unlimited")
	}

	r.now = fixedClock("2026-03-02T00:30:00Z")
	if ok, _ := r.CanConsumeMessage("5", limit); !ok {
		t.Fatal("quota should reset on a new UTC date")
	}

	e, _, _ := r.Get("5")
	if e.DailyUsage["2026-03-01"] != limit {
		t.Fatalf("past usage should be retained, got %v", e.DailyUsage)
	}
}

func TestQuotaUsesUTC(t *testing.T) {
	r := newTestRegistry(t)
	loc := time.FixedZone("UTC+5", 5*3600)
	r.now = func() time.Time { return time.Date(2026, 3, 2, 2, 0, 0, 0, loc) }
	if err := r.ConsumeMessage("5"); err != nil {
		t.Fatal(err)
	}
	e, _, _ := r.Get("5")
	if e.DailyUsage["2026-03-01"] != 1 {
		t.Fatalf("expected usage keyed by UTC date, got %v", e.DailyUsage)
	}
}

func TestUpdateProfile(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.UpdateProfile("1", "Ada Lovelace", "ada"); err != nil {
		t.Fatal(err)
	}
	e, ok, err := r.Get("1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if e.FullName != "Ada Lovelace" || e.ProfileURL != "https://t.me/ada" {
		t.Fatalf("unexpected profile %+v", e)
	}
	if e.UpdatedAt.IsZero() {
		t.Fatal("updated_at not stamped")
	}
}

func TestCorruptRegistryIsNotOverwritten(t *testing.T) {
	r := newTestRegistry(t)
	if err := os.WriteFile(r.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := r.GetOrCreateActiveConversation("1"); err == nil {
		t.Fatal("expected an error for a corrupt registry")
	}
	data, _ := os.ReadFile(r.Path())
	if string(data) != "{not json" {
		t.Fatal("corrupt registry was overwritten")
	}
}

func TestNoTempFilesLeft(t *testing.T) {
	r := newTestRegistry(t)
	for i := 0; i < 5; i++ {
		if err := r.ConsumeMessage("1"); err != nil {
			t.Fatal(err)
		}
	}
	entries, _ := os.ReadDir(filepath.Dir(r.Path()))
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Fatalf("leftover temp file %s", e.Name())
		}
	}
}

func TestReleaseStale(t *testing.T) {
	r := newTestRegistry(t)
	r.now = fixedClock("2026-03-01T10:00:00Z")
	r.BeginInFlight("old")
	r.now = fixedClock("2026-03-01T10:20:00Z")
	r.BeginInFlight("new")

	released, err := r.ReleaseStale(15 * time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(released) != 1 || released[0] != "old" {
		t.Fatalf("released = %v", released)
	}
	if e, _, _ := r.Get("new"); !e.InFlight {
		t.Fatal("recent turn must stay in flight")
	}
}

func TestPruneUsage(t *testing.T) {
	r := newTestRegistry(t)
	for _, day := range []string{"2026-01-01T12:00:00Z", "2026-02-25T12:00:00Z", "2026-03-01T12:00:00Z"} {
		r.now = fixedClock(day)
		r.ConsumeMessage("1")
	}
	removed, err := r.PruneUsage(30)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	e, _, _ := r.Get("1")
	if _, ok := e.DailyUsage["2026-01-01"]; ok {
		t.Fatal("old counter kept")
	}
	if len(e.DailyUsage) != 2 {
		t.Fatalf("usage = %v", e.DailyUsage)
	}
}

func TestFileLockerTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.lock")
	holder := NewFileLocker(path, time.Second)
	unlock, err := holder.Lock()
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	waiter := NewFileLocker(path, 50*time.Millisecond)
	if _, err := waiter.Lock(); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}

func TestNewLocker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.lock")
	l, err := NewLocker(LockMutex, path, 0, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := l.(*MutexLocker); !ok {
		t.Fatalf("mutex mode returned %T", l)
	}
	if _, err := NewLocker("bogus", path, 0, testLogger()); err == nil {
		t.Fatal("expected error for unknown mode")
	}
	l, err = NewLocker(LockFile, path, 0, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	unlock, err := l.Lock()
	if err != nil {
		t.Fatal(err)
	}
	unlock()
}

func TestMutexLockerRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	r, err := New(path, &MutexLocker{}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := r.BeginInFlight("1"); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("%d winners", wins.Load())
	}
}
