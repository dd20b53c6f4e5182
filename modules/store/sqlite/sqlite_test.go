package sqlitestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tutorlab/roomd/internal/collab"
)

func openTestStores(t *testing.T) *Stores {
	t.Helper()
	stores, err := OpenStores(filepath.Join(t.TempDir(), "roomd.db"))
	if err != nil {
		t.Fatalf("open stores: %v", err)
	}
	t.Cleanup(func() { stores.Close() })
	return stores
}

func fractionsCollection() *collab.Collection {
	return &collab.Collection{
		ID:   7,
		Name: "fractions",
		Settings: collab.CollectionSettings{
			GroupStrategy: collab.StrategyPair,
			GroupSize:     2,
			SelectionMode: collab.SelectionAuto,
			HelpLevel:     2,
			Locale:        "en",
		},
		Problems: []collab.Problem{
			{ID: 70, Sequence: 0, Statement: "simplify 4/8", MaxResolution: 5 * time.Minute},
			{ID: 71, Sequence: 1, Statement: "add 1/3 + 1/6", MaxResolution: 10 * time.Minute},
		},
	}
}

func TestOpenStores_MigrationIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "roomd.db")
	first, err := OpenStores(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := first.Catalog.Put(context.Background(), fractionsCollection()); err != nil {
		t.Fatalf("put: %v", err)
	}
	first.Close()

	second, err := OpenStores(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()

	c, err := second.Catalog.Get(context.Background(), 7)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if c.Name != "fractions" || len(c.Problems) != 2 {
		t.Fatalf("collection = %+v", c)
	}
}

func TestCatalog_GetReturnsOrderedProblems(t *testing.T) {
	t.Parallel()

	stores := openTestStores(t)
	ctx := context.Background()

	want := fractionsCollection()
	// Insert out of order; Get must sort by sequence.
	want.Problems[0], want.Problems[1] = want.Problems[1], want.Problems[0]
	if err := stores.Catalog.Put(ctx, want); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := stores.Catalog.Get(ctx, 7)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Problems[0].Sequence != 0 || got.Problems[1].Sequence != 1 {
		t.Fatalf("problems out of order: %+v", got.Problems)
	}
	if got.Problems[1].MaxResolution != 10*time.Minute {
		t.Fatalf("max resolution = %v, want 10m", got.Problems[1].MaxResolution)
	}
	if got.Settings.GroupStrategy != collab.StrategyPair || got.Settings.HelpLevel != 2 {
		t.Fatalf("settings = %+v", got.Settings)
	}
}

func TestCatalog_GetUnknown(t *testing.T) {
	t.Parallel()

	stores := openTestStores(t)
	if _, err := stores.Catalog.Get(context.Background(), 99); !errors.Is(err, collab.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCatalog_AccessControl(t *testing.T) {
	t.Parallel()

	stores := openTestStores(t)
	ctx := context.Background()
	if err := stores.Catalog.Put(ctx, fractionsCollection()); err != nil {
		t.Fatal(err)
	}

	// No access rows: open to everyone.
	if _, err := stores.Catalog.GetForUser(ctx, 7, "anyone"); err != nil {
		t.Fatalf("open collection rejected user: %v", err)
	}

	if err := stores.Catalog.GrantAccess(ctx, 7, "alice"); err != nil {
		t.Fatal(err)
	}

	if _, err := stores.Catalog.GetForUser(ctx, 7, "alice"); err != nil {
		t.Fatalf("granted user rejected: %v", err)
	}
	if _, err := stores.Catalog.GetForUser(ctx, 7, "mallory"); !errors.Is(err, collab.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound for unauthorized user", err)
	}
}

func TestAdapter_HintUnlocking(t *testing.T) {
	t.Parallel()

	stores := openTestStores(t)
	ctx := context.Background()
	c := fractionsCollection()
	if err := stores.Catalog.Put(ctx, c); err != nil {
		t.Fatal(err)
	}
	if err := stores.Catalog.PutHint(ctx, 70, 1, "find the greatest common divisor"); err != nil {
		t.Fatal(err)
	}
	if err := stores.Catalog.PutHint(ctx, 70, 2, "divide both by 4"); err != nil {
		t.Fatal(err)
	}

	view, err := stores.Adapter.Adapt(ctx, "alice", c.Problems[0], 0)
	if err != nil {
		t.Fatal(err)
	}
	if view.Statement != "simplify 4/8" {
		t.Fatalf("level 0 leaked a hint: %q", view.Statement)
	}

	view, err = stores.Adapter.Adapt(ctx, "alice", c.Problems[0], 2)
	if err != nil {
		t.Fatal(err)
	}
	if view.Statement != "simplify 4/8\n\nHint: divide both by 4" {
		t.Fatalf("level 2 statement = %q, want strongest unlocked hint", view.Statement)
	}
	if view.HelpLevel != 2 || view.MaxResolution != 5*time.Minute {
		t.Fatalf("view = %+v", view)
	}
}

func TestMembership_AssignAndQuery(t *testing.T) {
	t.Parallel()

	stores := openTestStores(t)
	ctx := context.Background()
	m := stores.Membership

	if err := m.Assign(ctx, "r1", 7, []string{"alice", "bob"}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	// Re-assigning the same group is a no-op.
	if err := m.Assign(ctx, "r1", 7, []string{"alice", "bob"}); err != nil {
		t.Fatalf("re-assign: %v", err)
	}

	exists, err := m.ExistsRoom(ctx, "r1")
	if err != nil || !exists {
		t.Fatalf("exists = %v (%v), want true", exists, err)
	}
	if exists, _ := m.ExistsRoom(ctx, "r2"); exists {
		t.Fatal("unknown room reported as existing")
	}

	ms, err := m.RoomForUser(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if ms == nil || ms.RoomID != "r1" || ms.CollectionID != 7 {
		t.Fatalf("membership = %+v", ms)
	}
	if _, err := m.RoomForUser(ctx, "nobody"); !errors.Is(err, collab.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound for unassigned user", err)
	}

	ms, err = m.RoomFor(ctx, "bob", 7)
	if err != nil || ms == nil || ms.RoomID != "r1" {
		t.Fatalf("room for bob in 7 = %+v (%v)", ms, err)
	}
	if _, err := m.RoomFor(ctx, "bob", 8); !errors.Is(err, collab.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound in wrong collection", err)
	}

	users, err := m.Members(ctx, "r1")
	if err != nil || len(users) != 2 {
		t.Fatalf("members = %v (%v)", users, err)
	}
	n, err := m.CountParticipants(ctx, "r1")
	if err != nil || n != 2 {
		t.Fatalf("count = %d (%v), want 2", n, err)
	}

	if err := m.DeleteAll(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := m.CountParticipants(ctx, "r1"); n != 0 {
		t.Fatalf("count after purge = %d", n)
	}
}

func TestRealized_SaveAssignsIDAndRoundTrips(t *testing.T) {
	t.Parallel()

	stores := openTestStores(t)
	ctx := context.Background()

	rp, err := stores.Realized.Save(ctx, collab.RealizedProblem{ProblemID: 70})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if rp.ID == 0 {
		t.Fatal("save did not assign an id")
	}
	if rp.CreatedAt.IsZero() {
		t.Fatal("save did not stamp created_at")
	}

	rp.FinishedByTimer = true
	if _, err := stores.Realized.Save(ctx, rp); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := stores.Realized.Get(ctx, rp.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ProblemID != 70 || !got.FinishedByTimer {
		t.Fatalf("got = %+v", got)
	}
	if !got.CreatedAt.Equal(rp.CreatedAt) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, rp.CreatedAt)
	}

	if _, err := stores.Realized.Get(ctx, 9999); !errors.Is(err, collab.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestReports_CountsDistinctUsers(t *testing.T) {
	t.Parallel()

	stores := openTestStores(t)
	ctx := context.Background()

	save := func(user string, exercise int) {
		t.Helper()
		r, err := stores.Reports.Save(ctx, collab.Report{
			RoomID:            "r1",
			User:              user,
			RealizedProblemID: 1,
			ExerciseIndex:     exercise,
			Kind:              "solution",
			Results:           `{"answer":"1/2"}`,
		})
		if err != nil {
			t.Fatalf("save report: %v", err)
		}
		if r.ID == 0 {
			t.Fatal("report id not assigned")
		}
	}

	save("alice", 0)
	save("alice", 0) // duplicate report from the same user
	save("bob", 0)
	save("alice", 1)

	n, err := stores.Reports.CountForExercise(ctx, "r1", 0)
	if err != nil || n != 2 {
		t.Fatalf("count exercise 0 = %d (%v), want 2", n, err)
	}
	n, err = stores.Reports.CountForExercise(ctx, "r1", 1)
	if err != nil || n != 1 {
		t.Fatalf("count exercise 1 = %d (%v), want 1", n, err)
	}

	if err := stores.Reports.DeleteAll(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := stores.Reports.CountForExercise(ctx, "r1", 0); n != 0 {
		t.Fatalf("count after purge = %d", n)
	}
}
