package engine

import (
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/InsulaLabs/rfs/db/vstore"
	"github.com/InsulaLabs/rfs/vfs"
)

const testNowMs = int64(1700000000000)

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Receive(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

type testEngine struct {
	engine *Engine
	events *eventRecorder
	dir    string
}

func (t *testEngine) Cleanup() error {
	if err := t.engine.Close(); err != nil {
		return err
	}
	return os.RemoveAll(t.dir)
}

func createTestEngine(dir string) (*testEngine, error) {
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp(os.TempDir(), "rfs_engine_test_*")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp dir for test: %w", err)
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	store, err := vstore.New(vstore.Config{
		Logger:    logger,
		Directory: dir,
	})
	if err != nil {
		return nil, err
	}

	events := &eventRecorder{}
	eng, err := New(Config{
		Logger: logger,
		Store:  store,
		Clock: func() time.Time {
			return time.UnixMilli(testNowMs)
		},
		EventReceiver: events,
	})
	if err != nil {
		return nil, err
	}

	return &testEngine{engine: eng, events: events, dir: dir}, nil
}

func mustDo(t *testing.T, e *Engine, args ...string) any {
	t.Helper()
	reply, err := e.Do(args...)
	if err != nil {
		t.Fatalf("Do(%v) error = %v, wantErr nil", args, err)
	}
	return reply
}

func wantToken(t *testing.T, err error, token string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with token %q, got nil", token)
	}
	if !strings.Contains(err.Error(), token) {
		t.Fatalf("expected error containing %q, got %q", token, err.Error())
	}
}

func TestEngine_EchoAutoParents(t *testing.T) {
	te, err := createTestEngine("")
	if err != nil {
		t.Fatalf("Failed to create test engine: %v", err)
	}
	defer te.Cleanup()
	e := te.engine

	reply := mustDo(t, e, "FS.ECHO", "V", "/a/b/c.txt", "hi")
	if reply != int64(2) {
		t.Errorf("FS.ECHO reply = %v, want 2", reply)
	}

	stat := mustDo(t, e, "FS.STAT", "V", "/a").([]any)
	if stat[0] != "type" || stat[1] != "dir" {
		t.Errorf("FS.STAT /a type = %v, want dir", stat[1])
	}

	data := mustDo(t, e, "FS.CAT", "V", "/a/b/c.txt")
	if data != "hi" {
		t.Errorf("FS.CAT = %v, want hi", data)
	}
}

func TestEngine_AppendThenRead(t *testing.T) {
	te, err := createTestEngine("")
	if err != nil {
		t.Fatalf("Failed to create test engine: %v", err)
	}
	defer te.Cleanup()
	e := te.engine

	mustDo(t, e, "FS.ECHO", "V", "/log", "one\n")

	reply := mustDo(t, e, "FS.ECHO", "V", "/log", "two\n", "APPEND")
	if reply != int64(4) {
		t.Errorf("FS.ECHO APPEND reply = %v, want 4", reply)
	}

	if data := mustDo(t, e, "FS.CAT", "V", "/log"); data != "one\ntwo\n" {
		t.Errorf("FS.CAT = %q, want %q", data, "one\ntwo\n")
	}

	t.Run("FS.APPEND alias", func(t *testing.T) {
		mustDo(t, e, "FS.APPEND", "V", "/log", "three\n")
		if data := mustDo(t, e, "FS.CAT", "V", "/log"); data != "one\ntwo\nthree\n" {
			t.Errorf("FS.CAT after alias = %q", data)
		}
	})
}

func TestEngine_SymlinkLoop(t *testing.T) {
	te, err := createTestEngine("")
	if err != nil {
		t.Fatalf("Failed to create test engine: %v", err)
	}
	defer te.Cleanup()
	e := te.engine

	mustDo(t, e, "FS.LN", "V", "/a", "/b")
	mustDo(t, e, "FS.LN", "V", "/b", "/a")

	_, doErr := e.Do("FS.CAT", "V", "/a")
	wantToken(t, doErr, "too many symbolic links")
}

func TestEngine_RecursiveRemove(t *testing.T) {
	te, err := createTestEngine("")
	if err != nil {
		t.Fatalf("Failed to create test engine: %v", err)
	}
	defer te.Cleanup()
	e := te.engine

	mustDo(t, e, "FS.MKDIR", "V", "/x/y/z", "PARENTS")
	mustDo(t, e, "FS.ECHO", "V", "/x/y/z/f", "d")

	_, doErr := e.Do("FS.RM", "V", "/x")
	wantToken(t, doErr, "directory not empty")

	if reply := mustDo(t, e, "FS.RM", "V", "/x", "RECURSIVE"); reply != int64(4) {
		t.Errorf("FS.RM RECURSIVE reply = %v, want 4", reply)
	}

	if reply := mustDo(t, e, "FS.TEST", "V", "/x"); reply != int64(0) {
		t.Errorf("FS.TEST reply = %v, want 0", reply)
	}
}

func TestEngine_GlobFind(t *testing.T) {
	te, err := createTestEngine("")
	if err != nil {
		t.Fatalf("Failed to create test engine: %v", err)
	}
	defer te.Cleanup()
	e := te.engine

	mustDo(t, e, "FS.ECHO", "V", "/a.md", "1")
	mustDo(t, e, "FS.ECHO", "V", "/b.md", "2")
	mustDo(t, e, "FS.ECHO", "V", "/c.txt", "3")

	reply := mustDo(t, e, "FS.FIND", "V", "/", "*.md")
	want := []any{"/a.md", "/b.md"}
	if !reflect.DeepEqual(reply, want) {
		t.Errorf("FS.FIND reply = %v, want %v", reply, want)
	}
}

func TestEngine_GrepNocaseTriples(t *testing.T) {
	te, err := createTestEngine("")
	if err != nil {
		t.Fatalf("Failed to create test engine: %v", err)
	}
	defer te.Cleanup()
	e := te.engine

	mustDo(t, e, "FS.ECHO", "V", "/f", "Error here\nno issue\nERRORED\n")

	reply := mustDo(t, e, "FS.GREP", "V", "/", "*error*", "NOCASE")
	want := []any{
		[]any{"/f", int64(1), "Error here"},
		[]any{"/f", int64(3), "ERRORED"},
	}
	if !reflect.DeepEqual(reply, want) {
		t.Errorf("FS.GREP reply = %v, want %v", reply, want)
	}
}

func TestEngine_StatAndInfoPairs(t *testing.T) {
	te, err := createTestEngine("")
	if err != nil {
		t.Fatalf("Failed to create test engine: %v", err)
	}
	defer te.Cleanup()
	e := te.engine

	mustDo(t, e, "FS.ECHO", "V", "/f", "abc")
	mustDo(t, e, "FS.LN", "V", "/f", "/ln")

	t.Run("stat pairs for a file", func(t *testing.T) {
		pairs := mustDo(t, e, "FS.STAT", "V", "/f").([]any)
		m := pairsAsMap(t, pairs)
		if m["type"] != "file" {
			t.Errorf("type = %v, want file", m["type"])
		}
		if m["size"] != int64(3) {
			t.Errorf("size = %v, want 3", m["size"])
		}
		if m["mtime_ms"] != testNowMs {
			t.Errorf("mtime_ms = %v, want %v", m["mtime_ms"], testNowMs)
		}
		if _, hasTarget := m["target"]; hasTarget {
			t.Error("file stat must not include a target")
		}
	})

	t.Run("stat does not follow the final symlink", func(t *testing.T) {
		pairs := mustDo(t, e, "FS.STAT", "V", "/ln").([]any)
		m := pairsAsMap(t, pairs)
		if m["type"] != "symlink" {
			t.Errorf("type = %v, want symlink", m["type"])
		}
		if m["target"] != "/f" {
			t.Errorf("target = %v, want /f", m["target"])
		}
	})

	t.Run("info counts", func(t *testing.T) {
		pairs := mustDo(t, e, "FS.INFO", "V").([]any)
		m := pairsAsMap(t, pairs)
		if m["files"] != int64(1) || m["symlinks"] != int64(1) || m["directories"] != int64(1) {
			t.Errorf("unexpected counts: %v", m)
		}
		if m["total_bytes"] != int64(3) {
			t.Errorf("total_bytes = %v, want 3", m["total_bytes"])
		}
	})
}

func pairsAsMap(t *testing.T, pairs []any) map[string]any {
	t.Helper()
	if len(pairs)%2 != 0 {
		t.Fatalf("pair array has odd length: %v", pairs)
	}
	m := make(map[string]any, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		m[pairs[i].(string)] = pairs[i+1]
	}
	return m
}

func TestEngine_LsShapes(t *testing.T) {
	te, err := createTestEngine("")
	if err != nil {
		t.Fatalf("Failed to create test engine: %v", err)
	}
	defer te.Cleanup()
	e := te.engine

	mustDo(t, e, "FS.ECHO", "V", "/d/bb", "22")
	mustDo(t, e, "FS.MKDIR", "V", "/d/aa")

	names := mustDo(t, e, "FS.LS", "V", "/d")
	if !reflect.DeepEqual(names, []any{"aa", "bb"}) {
		t.Errorf("FS.LS reply = %v", names)
	}

	long := mustDo(t, e, "FS.LS", "V", "/d", "LONG").([]any)
	first := long[0].([]any)
	if first[0] != "aa" || first[1] != "dir" {
		t.Errorf("FS.LS LONG first entry = %v", first)
	}
	if first[2] != "40755" {
		t.Errorf("FS.LS LONG mode octal = %v, want 40755", first[2])
	}
	second := long[1].([]any)
	if second[1] != "file" || second[3] != int64(2) {
		t.Errorf("FS.LS LONG second entry = %v", second)
	}
}

func TestEngine_TreeShape(t *testing.T) {
	te, err := createTestEngine("")
	if err != nil {
		t.Fatalf("Failed to create test engine: %v", err)
	}
	defer te.Cleanup()
	e := te.engine

	mustDo(t, e, "FS.ECHO", "V", "/a/f", "1")
	mustDo(t, e, "FS.ECHO", "V", "/b", "2")

	reply := mustDo(t, e, "FS.TREE", "V", "/")
	want := []any{"", []any{
		[]any{"a", []any{"f"}},
		"b",
	}}
	if !reflect.DeepEqual(reply, want) {
		t.Errorf("FS.TREE reply = %v, want %v", reply, want)
	}

	t.Run("depth bound", func(t *testing.T) {
		reply := mustDo(t, e, "FS.TREE", "V", "/", "DEPTH", "1")
		want := []any{"", []any{"a", "b"}}
		if !reflect.DeepEqual(reply, want) {
			t.Errorf("FS.TREE DEPTH 1 reply = %v, want %v", reply, want)
		}
	})
}

func TestEngine_MutatorsAndMetadata(t *testing.T) {
	te, err := createTestEngine("")
	if err != nil {
		t.Fatalf("Failed to create test engine: %v", err)
	}
	defer te.Cleanup()
	e := te.engine

	mustDo(t, e, "FS.ECHO", "V", "/f", "x")

	t.Run("chmod and chown", func(t *testing.T) {
		mustDo(t, e, "FS.CHMOD", "V", "/f", "600")
		mustDo(t, e, "FS.CHOWN", "V", "/f", "42", "43")
		m := pairsAsMap(t, mustDo(t, e, "FS.STAT", "V", "/f").([]any))
		if m["mode"] != int64(vfs.ModeTypeFile|0o600) {
			t.Errorf("mode = %v", m["mode"])
		}
		if m["uid"] != int64(42) || m["gid"] != int64(43) {
			t.Errorf("owner = %v:%v", m["uid"], m["gid"])
		}
	})

	t.Run("utimens", func(t *testing.T) {
		mustDo(t, e, "FS.UTIMENS", "V", "/f", "123", "456")
		m := pairsAsMap(t, mustDo(t, e, "FS.STAT", "V", "/f").([]any))
		if m["atime_ms"] != int64(123) || m["mtime_ms"] != int64(456) {
			t.Errorf("times = %v/%v", m["atime_ms"], m["mtime_ms"])
		}
	})

	t.Run("cp and mv", func(t *testing.T) {
		if reply := mustDo(t, e, "FS.CP", "V", "/f", "/f2"); reply != int64(1) {
			t.Errorf("FS.CP reply = %v, want 1", reply)
		}
		mustDo(t, e, "FS.MV", "V", "/f2", "/f3")
		if reply := mustDo(t, e, "FS.TEST", "V", "/f2"); reply != int64(0) {
			t.Errorf("moved source still present")
		}
		if data := mustDo(t, e, "FS.CAT", "V", "/f3"); data != "x" {
			t.Errorf("FS.CAT /f3 = %v", data)
		}
	})

	t.Run("readlink", func(t *testing.T) {
		mustDo(t, e, "FS.LN", "V", "rel/target", "/ln")
		if target := mustDo(t, e, "FS.READLINK", "V", "/ln"); target != "rel/target" {
			t.Errorf("FS.READLINK = %v", target)
		}
		_, doErr := e.Do("FS.READLINK", "V", "/f")
		wantToken(t, doErr, "not a symbolic link")
	})

	t.Run("touch", func(t *testing.T) {
		mustDo(t, e, "FS.TOUCH", "V", "/brand/new")
		if reply := mustDo(t, e, "FS.TEST", "V", "/brand/new"); reply != int64(1) {
			t.Errorf("touched file missing")
		}
	})
}

func TestEngine_VolumeLifecycle(t *testing.T) {
	te, err := createTestEngine("")
	if err != nil {
		t.Fatalf("Failed to create test engine: %v", err)
	}
	defer te.Cleanup()
	e := te.engine

	t.Run("read of a missing volume fails", func(t *testing.T) {
		_, doErr := e.Do("FS.CAT", "missing", "/f")
		if doErr == nil {
			t.Fatal("expected error for missing volume")
		}
	})

	t.Run("test on a missing volume is zero", func(t *testing.T) {
		if reply := mustDo(t, e, "FS.TEST", "missing", "/"); reply != int64(0) {
			t.Errorf("FS.TEST missing volume = %v, want 0", reply)
		}
	})

	t.Run("write creates, del destroys", func(t *testing.T) {
		mustDo(t, e, "FS.ECHO", "W", "/f", "x")
		if reply := mustDo(t, e, "EXISTS", "W"); reply != int64(1) {
			t.Errorf("EXISTS = %v, want 1", reply)
		}
		if reply := mustDo(t, e, "DEL", "W"); reply != int64(1) {
			t.Errorf("DEL = %v, want 1", reply)
		}
		if reply := mustDo(t, e, "EXISTS", "W"); reply != int64(0) {
			t.Errorf("EXISTS after DEL = %v, want 0", reply)
		}
		if reply := mustDo(t, e, "DEL", "W"); reply != int64(0) {
			t.Errorf("second DEL = %v, want 0", reply)
		}
	})

	t.Run("failed first write leaves no volume", func(t *testing.T) {
		_, doErr := e.Do("FS.RM", "X", "/f")
		if doErr == nil {
			t.Fatal("expected error")
		}
		_, doErr = e.Do("FS.ECHO", "Y", "/", "data")
		wantToken(t, doErr, "invalid argument")
		if reply := mustDo(t, e, "EXISTS", "Y"); reply != int64(0) {
			t.Errorf("failed create left a volume behind")
		}
	})

	t.Run("keys lists volumes", func(t *testing.T) {
		mustDo(t, e, "FS.ECHO", "list:a", "/f", "x")
		mustDo(t, e, "FS.ECHO", "list:b", "/f", "x")
		reply := mustDo(t, e, "KEYS", "list:").([]any)
		if !reflect.DeepEqual(reply, []any{"list:a", "list:b"}) {
			t.Errorf("KEYS reply = %v", reply)
		}
	})

	t.Run("memory estimate", func(t *testing.T) {
		mustDo(t, e, "FS.ECHO", "M", "/f", "0123456789")
		reply := mustDo(t, e, "MEMORY", "M")
		if reply.(int64) <= 0 {
			t.Errorf("MEMORY = %v, want positive", reply)
		}
	})
}

func TestEngine_Dispatch(t *testing.T) {
	te, err := createTestEngine("")
	if err != nil {
		t.Fatalf("Failed to create test engine: %v", err)
	}
	defer te.Cleanup()
	e := te.engine

	t.Run("unknown command", func(t *testing.T) {
		_, doErr := e.Do("FS.BOGUS", "V")
		if doErr == nil || !strings.Contains(doErr.Error(), "unknown command") {
			t.Errorf("unexpected error: %v", doErr)
		}
	})

	t.Run("wrong arg count", func(t *testing.T) {
		_, doErr := e.Do("FS.ECHO", "V")
		if doErr == nil || !strings.Contains(doErr.Error(), "wrong number of arguments") {
			t.Errorf("unexpected error: %v", doErr)
		}
	})

	t.Run("bad flag word", func(t *testing.T) {
		_, doErr := e.Do("FS.RM", "V", "/f", "SIDEWAYS")
		if doErr == nil || !strings.Contains(doErr.Error(), "wrong number of arguments") {
			t.Errorf("unexpected error: %v", doErr)
		}
	})

	t.Run("command word is case insensitive", func(t *testing.T) {
		mustDo(t, e, "fs.echo", "V", "/f", "x")
		if data := mustDo(t, e, "fs.cat", "V", "/f"); data != "x" {
			t.Errorf("lowercase dispatch failed: %v", data)
		}
	})
}

func TestEngine_PersistenceAcrossRestart(t *testing.T) {
	te, err := createTestEngine("")
	if err != nil {
		t.Fatalf("Failed to create test engine: %v", err)
	}
	dir := te.dir

	mustDo(t, te.engine, "FS.ECHO", "V", "/keep/data.txt", "survives")
	mustDo(t, te.engine, "FS.LN", "V", "/keep/data.txt", "/keep/ln")

	if err := te.engine.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	te2, err := createTestEngine(dir)
	if err != nil {
		t.Fatalf("Failed to reopen engine: %v", err)
	}
	defer te2.Cleanup()

	if data := mustDo(t, te2.engine, "FS.CAT", "V", "/keep/data.txt"); data != "survives" {
		t.Errorf("FS.CAT after restart = %v", data)
	}
	if target := mustDo(t, te2.engine, "FS.READLINK", "V", "/keep/ln"); target != "/keep/data.txt" {
		t.Errorf("FS.READLINK after restart = %v", target)
	}
}

func TestEngine_EventsEmitted(t *testing.T) {
	te, err := createTestEngine("")
	if err != nil {
		t.Fatalf("Failed to create test engine: %v", err)
	}
	defer te.Cleanup()
	e := te.engine

	mustDo(t, e, "FS.ECHO", "V", "/f", "x")
	mustDo(t, e, "FS.MKDIR", "V", "/d")
	mustDo(t, e, "FS.CAT", "V", "/f")

	events := te.events.snapshot()
	if len(events) != 2 {
		t.Fatalf("event count = %d, want 2 (reads must not emit)", len(events))
	}
	if events[0].Command != "FS.ECHO" || events[0].Path != "/f" || events[0].Key != "V" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Command != "FS.MKDIR" {
		t.Errorf("second event = %+v", events[1])
	}
}

func TestEngine_MonotonicVolumeIDs(t *testing.T) {
	te, err := createTestEngine("")
	if err != nil {
		t.Fatalf("Failed to create test engine: %v", err)
	}
	defer te.Cleanup()
	e := te.engine

	mustDo(t, e, "FS.TOUCH", "first", "/f")
	mustDo(t, e, "FS.TOUCH", "second", "/f")

	vol1, _, err := e.volumeFor("first", false)
	if err != nil {
		t.Fatalf("volumeFor first: %v", err)
	}
	vol2, _, err := e.volumeFor("second", false)
	if err != nil {
		t.Fatalf("volumeFor second: %v", err)
	}
	if vol2.ID <= vol1.ID {
		t.Errorf("ids not monotonic: %d then %d", vol1.ID, vol2.ID)
	}
}
