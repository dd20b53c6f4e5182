package grouping

import (
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/tutorlab/roomd/internal/collab"
)

// sequentialIDs returns a Maker whose room IDs are deterministic, so group
// output can be compared across runs.
func sequentialIDs() *Maker {
	n := 0
	return &Maker{newRoomID: func() (string, error) {
		n++
		return fmt.Sprintf("room-%d", n), nil
	}}
}

func TestMakeGroups_Individual(t *testing.T) {
	t.Parallel()

	m := sequentialIDs()
	groups, err := m.MakeGroups(collab.StrategyIndividual, 0, "algebra", []string{"ana", "ben", "cem"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 3 {
		t.Fatalf("got %d groups, want 3", len(groups))
	}
	for i, g := range groups {
		if len(g.Users) != 1 {
			t.Errorf("group %d has %d users, want 1", i, len(g.Users))
		}
		if g.Index != i {
			t.Errorf("group %d index = %d", i, g.Index)
		}
	}
}

func TestMakeGroups_Pair_DropsTrailing(t *testing.T) {
	t.Parallel()

	m := sequentialIDs()
	users := []string{"u0", "u1", "u2", "u3", "u4"}
	groups, err := m.MakeGroups(collab.StrategyPair, 0, "geometry", users)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if groups[0].Users[0] != "u0" || groups[0].Users[1] != "u1" {
		t.Errorf("first pair = %v, want earliest joiners in order", groups[0].Users)
	}
	if groups[1].Users[0] != "u2" || groups[1].Users[1] != "u3" {
		t.Errorf("second pair = %v, want next joiners in order", groups[1].Users)
	}
	// u4 is the trailing partial chunk: no group for it.
	for _, g := range groups {
		for _, u := range g.Users {
			if u == "u4" {
				t.Error("trailing user must not be grouped")
			}
		}
	}
}

func TestMakeGroups_FixedSize_LeftoverIsCountModN(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		users int
		size  int
	}{
		{users: 0, size: 3},
		{users: 2, size: 3},
		{users: 7, size: 3},
		{users: 9, size: 3},
		{users: 10, size: 4},
	} {
		users := make([]string, tc.users)
		for i := range users {
			users[i] = fmt.Sprintf("u%d", i)
		}
		m := sequentialIDs()
		groups, err := m.MakeGroups(collab.StrategyGroup, tc.size, "c", users)
		if err != nil {
			t.Fatalf("users=%d size=%d: %v", tc.users, tc.size, err)
		}
		grouped := 0
		for _, g := range groups {
			grouped += len(g.Users)
		}
		leftover := tc.users - grouped
		if leftover != tc.users%tc.size {
			t.Errorf("users=%d size=%d: leftover = %d, want %d", tc.users, tc.size, leftover, tc.users%tc.size)
		}
	}
}

func TestMakeGroups_Deterministic(t *testing.T) {
	t.Parallel()

	users := []string{"a", "b", "c", "d", "e", "f", "g"}

	first, err := sequentialIDs().MakeGroups(collab.StrategyGroup, 3, "c", users)
	if err != nil {
		t.Fatal(err)
	}
	second, err := sequentialIDs().MakeGroups(collab.StrategyGroup, 3, "c", users)
	if err != nil {
		t.Fatal(err)
	}

	if len(first) != len(second) {
		t.Fatalf("group counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if len(first[i].Users) != len(second[i].Users) {
			t.Fatalf("group %d sizes differ", i)
		}
		for j := range first[i].Users {
			if first[i].Users[j] != second[i].Users[j] {
				t.Errorf("group %d member %d differs: %q vs %q", i, j, first[i].Users[j], second[i].Users[j])
			}
		}
	}
}

func TestMakeGroups_UnknownStrategy(t *testing.T) {
	t.Parallel()

	_, err := NewMaker().MakeGroups("roulette", 0, "c", []string{"a"})
	if !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("error = %v, want ErrUnknownStrategy", err)
	}
}

func TestMakeGroups_InvalidGroupSize(t *testing.T) {
	t.Parallel()

	_, err := NewMaker().MakeGroups(collab.StrategyGroup, 0, "c", []string{"a", "b"})
	if !errors.Is(err, ErrInvalidGroupSize) {
		t.Fatalf("error = %v, want ErrInvalidGroupSize", err)
	}
}

func TestGenerateRoomID_URLSafe(t *testing.T) {
	t.Parallel()

	valid := regexp.MustCompile(`^[0-9a-f]{32}$`)
	seen := make(map[string]struct{})
	for range 100 {
		id, err := generateRoomID()
		if err != nil {
			t.Fatal(err)
		}
		if !valid.MatchString(id) {
			t.Fatalf("room id %q is not 32 lowercase hex chars", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate room id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestMakeGroups_DoesNotAliasInput(t *testing.T) {
	t.Parallel()

	users := []string{"a", "b"}
	groups, err := sequentialIDs().MakeGroups(collab.StrategyPair, 0, "c", users)
	if err != nil {
		t.Fatal(err)
	}
	users[0] = "mutated"
	if groups[0].Users[0] != "a" {
		t.Error("assignment should copy the member slice")
	}
}
