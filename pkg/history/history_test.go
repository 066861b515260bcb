package history_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/iopet/pkg/history"
)

// memStore is an in-memory [history.Store] that records every save.
type memStore struct {
	mu      sync.Mutex
	turns   []history.Turn
	loadErr error
	saveErr error
	saves   int
}

func (m *memStore) Load(context.Context) ([]history.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return append([]history.Turn(nil), m.turns...), nil
}

func (m *memStore) Save(_ context.Context, turns []history.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.turns = append([]history.Turn(nil), turns...)
	return nil
}

func turn(i int) history.Turn {
	return history.Turn{Time: "2024-05-01 10:00", User: fmt.Sprintf("u%d", i), AI: fmt.Sprintf("a%d", i)}
}

func TestNewTurn(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 9, 7, 33, 0, time.Local)
	long := strings.Repeat("ü", 250)

	got := history.NewTurn(now, "hello", long)
	if got.Time != "2024-05-01 09:07" {
		t.Errorf("Time = %q, want %q", got.Time, "2024-05-01 09:07")
	}
	if got.User != "hello" {
		t.Errorf("User = %q, want %q", got.User, "hello")
	}
	if n := len([]rune(got.AI)); n != history.DefaultReplyLimit {
		t.Errorf("AI rune count = %d, want %d", n, history.DefaultReplyLimit)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel"},
		{"你好世界", 2, "你好"},
		{"abc", 0, ""},
		{"", 4, ""},
	}
	for _, tt := range tests {
		if got := history.Truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestLog_AppendCapsAtMaxTurns(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	log := history.NewLog(store)
	ctx := context.Background()

	for i := range history.DefaultMaxTurns + 5 {
		log.Append(ctx, turn(i))
	}

	turns := log.Turns()
	if len(turns) != history.DefaultMaxTurns {
		t.Fatalf("len = %d, want %d", len(turns), history.DefaultMaxTurns)
	}
	if turns[0].User != "u5" {
		t.Errorf("oldest = %q, want u5", turns[0].User)
	}
	if last := turns[len(turns)-1]; last.User != fmt.Sprintf("u%d", history.DefaultMaxTurns+4) {
		t.Errorf("newest = %q", last.User)
	}
	if len(store.turns) != history.DefaultMaxTurns {
		t.Errorf("stored len = %d, want %d", len(store.turns), history.DefaultMaxTurns)
	}
}

func TestLog_AppendPersistsEveryMutation(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	log := history.NewLog(store, history.WithMaxTurns(3))
	ctx := context.Background()

	for i := range 4 {
		log.Append(ctx, turn(i))
	}
	if store.saves != 4 {
		t.Errorf("saves = %d, want 4", store.saves)
	}
	if len(store.turns) != 3 || store.turns[0].User != "u1" {
		t.Errorf("stored = %+v", store.turns)
	}
}

func TestLog_AppendSwallowsSaveError(t *testing.T) {
	t.Parallel()

	store := &memStore{saveErr: errors.New("disk full")}
	log := history.NewLog(store)

	log.Append(context.Background(), turn(1))

	if log.Len() != 1 {
		t.Errorf("Len = %d, want 1", log.Len())
	}
}

func TestLog_LoadFailsSoft(t *testing.T) {
	t.Parallel()

	store := &memStore{loadErr: errors.New("corrupt")}
	log := history.NewLog(store)

	if got := log.Load(context.Background()); len(got) != 0 {
		t.Errorf("Load = %v, want empty", got)
	}
}

func TestLog_LoadTrimsOversizedStore(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	for i := range 10 {
		store.turns = append(store.turns, turn(i))
	}
	log := history.NewLog(store, history.WithMaxTurns(4))

	got := log.Load(context.Background())
	if len(got) != 4 || got[0].User != "u6" {
		t.Errorf("Load = %+v, want the newest 4 turns", got)
	}
}

func TestLog_RecentIsNewestFirst(t *testing.T) {
	t.Parallel()

	log := history.NewLog(&memStore{})
	ctx := context.Background()
	for i := range 3 {
		log.Append(ctx, turn(i))
	}

	recent := log.Recent()
	if recent[0].User != "u2" || recent[2].User != "u0" {
		t.Errorf("Recent = %+v", recent)
	}
	if log.Turns()[0].User != "u0" {
		t.Error("Recent must not reorder the underlying log")
	}
}

func TestLog_Clear(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	log := history.NewLog(store)
	ctx := context.Background()
	log.Append(ctx, turn(1))

	if err := log.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if log.Len() != 0 || len(store.turns) != 0 {
		t.Errorf("after Clear: log=%d store=%d", log.Len(), len(store.turns))
	}
}

func TestLog_ConcurrentAppends(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	log := history.NewLog(store, history.WithMaxTurns(1000))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Append(ctx, turn(i))
		}()
	}
	wg.Wait()

	if log.Len() != 50 {
		t.Errorf("Len = %d, want 50", log.Len())
	}
	if len(store.turns) != 50 {
		t.Errorf("stored = %d, want 50", len(store.turns))
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "chat_history.json")
	ctx := context.Background()

	log := history.NewLog(history.NewFileStore(path))
	log.Load(ctx)
	log.Append(ctx, history.Turn{Time: "2024-05-01 10:00", User: "你好", AI: "hi <there>"})
	log.Append(ctx, turn(2))

	reloaded := history.NewLog(history.NewFileStore(path))
	got := reloaded.Load(ctx)
	if len(got) != 2 {
		t.Fatalf("reloaded len = %d, want 2", len(got))
	}
	if got[0].User != "你好" || got[0].AI != "hi <there>" {
		t.Errorf("first turn = %+v", got[0])
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	text := string(raw)
	if !strings.Contains(text, "你好") {
		t.Error("non-ASCII text must be stored verbatim")
	}
	if !strings.Contains(text, "<there>") {
		t.Error("HTML characters must not be escaped")
	}
	if !strings.Contains(text, "\n  {\n    \"time\"") {
		t.Errorf("expected two-space indentation, got:\n%s", text)
	}
}

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	store := history.NewFileStore(filepath.Join(t.TempDir(), "nope.json"))
	turns, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("Load = %v, want empty", turns)
	}
}

func TestFileStore_MalformedFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := history.NewFileStore(path)
	if _, err := store.Load(context.Background()); err == nil {
		t.Error("expected decode error")
	}

	log := history.NewLog(store)
	if got := log.Load(context.Background()); len(got) != 0 {
		t.Errorf("Log.Load = %v, want empty", got)
	}
}

func TestFileStore_DefaultPath(t *testing.T) {
	t.Parallel()

	if got := history.NewFileStore("").Path(); got != history.DefaultPath {
		t.Errorf("Path = %q, want %q", got, history.DefaultPath)
	}
}
