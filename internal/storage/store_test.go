package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"gitpulse/internal/domain"
	logx "gitpulse/pkg/logx"
)

type opener func(t *testing.T, dir string) Store

// mongoTestURIEnv points the shared store tests at a live MongoDB. The mongo
// cases are skipped when it is unset.
const mongoTestURIEnv = "GITPULSE_TEST_MONGO_URI"

var mongoTestSeq atomic.Int64

// openMongoTest opens a mongo store on a fresh database dropped at cleanup.
func openMongoTest(t *testing.T, uri string) (Store, string) {
	t.Helper()
	db := fmt.Sprintf("gitpulse_test_%d_%d", time.Now().UnixNano(), mongoTestSeq.Add(1))
	st := reopenMongoTest(t, uri, db)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		client, err := mongo.Connect(options.Client().ApplyURI(uri))
		if err != nil {
			t.Logf("drop %s: %v", db, err)
			return
		}
		defer client.Disconnect(ctx)
		if err := client.Database(db).Drop(ctx); err != nil {
			t.Logf("drop %s: %v", db, err)
		}
	})
	return st, db
}

func reopenMongoTest(t *testing.T, uri, db string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "mongo", URI: uri, Database: db, ConnectTimeout: 5 * time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("open mongo store: %v", err)
	}
	return st
}

func drivers() map[string]opener {
	m := map[string]opener{
		"memory": func(t *testing.T, dir string) Store {
			return NewMemory()
		},
		"file": func(t *testing.T, dir string) Store {
			st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "state")}, logx.Nop())
			if err != nil {
				t.Fatalf("open file store: %v", err)
			}
			return st
		},
		"sqlite": func(t *testing.T, dir string) Store {
			st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(dir, "state.db")}, logx.Nop())
			if err != nil {
				t.Fatalf("open sqlite store: %v", err)
			}
			return st
		},
	}
	if uri := strings.TrimSpace(os.Getenv(mongoTestURIEnv)); uri != "" {
		m["mongo"] = func(t *testing.T, dir string) Store {
			st, _ := openMongoTest(t, uri)
			return st
		}
	}
	return m
}

func TestStoreRepoStateRoundTrip(t *testing.T) {
	for name, open := range drivers() {
		t.Run(name, func(t *testing.T) {
			st := open(t, t.TempDir())
			defer st.Close()
			ctx := context.Background()

			got, err := st.LoadRepoState(ctx, "openlake/demo")
			if err != nil {
				t.Fatalf("LoadRepoState: %v", err)
			}
			if got.Repo != "openlake/demo" || len(got.NotifiedPRs) != 0 || len(got.NotifiedIssues) != 0 {
				t.Fatalf("unseen repo should be empty, got %+v", got)
			}

			want := domain.RepoState{
				Repo:           "openlake/demo",
				NotifiedPRs:    domain.NewURLSet("https://x/pull/1", "https://x/pull/2"),
				NotifiedIssues: domain.NewURLSet("https://x/issues/3"),
			}
			if err := st.SaveRepoState(ctx, want); err != nil {
				t.Fatalf("SaveRepoState: %v", err)
			}
			got, err = st.LoadRepoState(ctx, "openlake/demo")
			if err != nil {
				t.Fatalf("LoadRepoState: %v", err)
			}
			if !sameSet(got.NotifiedPRs, want.NotifiedPRs) || !sameSet(got.NotifiedIssues, want.NotifiedIssues) {
				t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
			}

			// Replace semantics: a smaller set drops members.
			want.NotifiedPRs = domain.NewURLSet("https://x/pull/2")
			want.NotifiedIssues = domain.URLSet{}
			if err := st.SaveRepoState(ctx, want); err != nil {
				t.Fatalf("SaveRepoState: %v", err)
			}
			got, _ = st.LoadRepoState(ctx, "openlake/demo")
			if !sameSet(got.NotifiedPRs, want.NotifiedPRs) || len(got.NotifiedIssues) != 0 {
				t.Fatalf("replace mismatch: got %+v", got)
			}

			other, _ := st.LoadRepoState(ctx, "openlake/other")
			if len(other.NotifiedPRs) != 0 {
				t.Fatalf("repos must be isolated, got %+v", other)
			}
		})
	}
}

func TestStoreIncrementPoints(t *testing.T) {
	for name, open := range drivers() {
		t.Run(name, func(t *testing.T) {
			st := open(t, t.TempDir())
			defer st.Close()
			ctx := context.Background()

			if _, ok, err := st.GetPoints(ctx, "u1"); err != nil || ok {
				t.Fatalf("GetPoints on unseen user: ok=%v err=%v", ok, err)
			}
			for i := 1; i <= 3; i++ {
				up, err := st.IncrementPoints(ctx, "u1", "alice")
				if err != nil {
					t.Fatalf("IncrementPoints: %v", err)
				}
				if up.Points != int64(i) {
					t.Fatalf("points = %d, want %d", up.Points, i)
				}
			}
			up, err := st.IncrementPoints(ctx, "u1", "alice2")
			if err != nil {
				t.Fatalf("IncrementPoints: %v", err)
			}
			if up.Username != "alice2" || up.Points != 4 {
				t.Fatalf("unexpected record %+v", up)
			}
			got, ok, err := st.GetPoints(ctx, "u1")
			if err != nil || !ok || got.Points != 4 {
				t.Fatalf("GetPoints = %+v ok=%v err=%v", got, ok, err)
			}
			if _, err := st.IncrementPoints(ctx, "", "x"); err == nil {
				t.Fatal("expected error for empty user id")
			}
		})
	}
}

func TestStoreConcurrentIncrementsDoNotLoseUpdates(t *testing.T) {
	for name, open := range drivers() {
		t.Run(name, func(t *testing.T) {
			st := open(t, t.TempDir())
			defer st.Close()
			ctx := context.Background()

			const n = 50
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := st.IncrementPoints(ctx, "same", "bob"); err != nil {
						t.Errorf("IncrementPoints: %v", err)
					}
				}()
			}
			wg.Wait()
			got, _, err := st.GetPoints(ctx, "same")
			if err != nil {
				t.Fatalf("GetPoints: %v", err)
			}
			if got.Points != n {
				t.Fatalf("points = %d, want %d", got.Points, n)
			}
		})
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	for _, name := range []string{"file", "sqlite"} {
		open := drivers()[name]
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			ctx := context.Background()

			st := open(t, dir)
			if err := st.SaveRepoState(ctx, domain.RepoState{
				Repo:           "a/b",
				NotifiedPRs:    domain.NewURLSet("u1"),
				NotifiedIssues: domain.NewURLSet("u2"),
			}); err != nil {
				t.Fatalf("SaveRepoState: %v", err)
			}
			if _, err := st.IncrementPoints(ctx, "42", "carol"); err != nil {
				t.Fatalf("IncrementPoints: %v", err)
			}
			if err := st.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			st = open(t, dir)
			defer st.Close()
			got, err := st.LoadRepoState(ctx, "a/b")
			if err != nil {
				t.Fatalf("LoadRepoState: %v", err)
			}
			if !got.NotifiedPRs.Has("u1") || !got.NotifiedIssues.Has("u2") {
				t.Fatalf("state lost across reopen: %+v", got)
			}
			up, ok, err := st.GetPoints(ctx, "42")
			if err != nil || !ok || up.Points != 1 || up.Username != "carol" {
				t.Fatalf("points lost across reopen: %+v ok=%v err=%v", up, ok, err)
			}
		})
	}
}

func TestMongoStoreSurvivesReopen(t *testing.T) {
	uri := strings.TrimSpace(os.Getenv(mongoTestURIEnv))
	if uri == "" {
		t.Skipf("%s not set", mongoTestURIEnv)
	}
	ctx := context.Background()
	st, db := openMongoTest(t, uri)
	if err := st.SaveRepoState(ctx, domain.RepoState{
		Repo:           "a/b",
		NotifiedPRs:    domain.NewURLSet("u1"),
		NotifiedIssues: domain.NewURLSet("u2"),
	}); err != nil {
		t.Fatalf("SaveRepoState: %v", err)
	}
	if _, err := st.IncrementPoints(ctx, "42", "carol"); err != nil {
		t.Fatalf("IncrementPoints: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st = reopenMongoTest(t, uri, db)
	defer st.Close()
	got, err := st.LoadRepoState(ctx, "a/b")
	if err != nil {
		t.Fatalf("LoadRepoState: %v", err)
	}
	if !got.NotifiedPRs.Has("u1") || !got.NotifiedIssues.Has("u2") {
		t.Fatalf("state lost across reopen: %+v", got)
	}
	up, ok, err := st.GetPoints(ctx, "42")
	if err != nil || !ok || up.Points != 1 || up.Username != "carol" {
		t.Fatalf("points lost across reopen: %+v ok=%v err=%v", up, ok, err)
	}
}

func TestOpenMongoRequiresURI(t *testing.T) {
	if _, err := Open(Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatal("expected error for mongo without uri")
	}
}

func TestFileStoreReplaysJournalWithoutClose(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	path := filepath.Join(dir, "state")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.SaveRepoState(ctx, domain.RepoState{Repo: "a/b", NotifiedPRs: domain.NewURLSet("u1"), NotifiedIssues: domain.URLSet{}}); err != nil {
		t.Fatalf("SaveRepoState: %v", err)
	}
	// Simulate a crash: no Close, so no compaction; reopen must replay the journal.
	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	got, _ := st2.LoadRepoState(ctx, "a/b")
	if !got.NotifiedPRs.Has("u1") {
		t.Fatalf("journal not replayed: %+v", got)
	}
	_ = st.Close()
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestClosedStoreRejectsWrites(t *testing.T) {
	st := NewMemory()
	_ = st.Close()
	if err := st.SaveRepoState(context.Background(), domain.EmptyRepoState("a/b")); err != ErrClosed {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func sameSet(a, b domain.URLSet) bool {
	if len(a) != len(b) {
		return false
	}
	for u := range a {
		if !b.Has(u) {
			return false
		}
	}
	return true
}
