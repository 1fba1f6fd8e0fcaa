package history

import (
	"errors"
	"fmt"
	"testing"
)

func openTest(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(Options{Dir: dir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestPutGet(t *testing.T) {
	s := openTest(t, "")
	defer s.Close()

	e := &Entry{Text: "Hello world.", App: "Notes", Strategy: "paste", Delivered: true}
	if err := s.Put(e); err != nil {
		t.Fatal(err)
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Fatalf("Put did not assign id/time: %+v", e)
	}

	got, err := s.Get(e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != e.Text || got.App != e.App || !got.Delivered {
		t.Errorf("Get() = %+v, want %+v", got, e)
	}

	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := openTest(t, "")
	defer s.Close()

	for i := 0; i < 5; i++ {
		e := &Entry{Text: fmt.Sprintf("entry %d", i), Delivered: i%2 == 0}
		if err := s.Put(e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.List(3)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"entry 4", "entry 3", "entry 2"}
	if len(got) != len(want) {
		t.Fatalf("List(3) returned %d entries", len(got))
	}
	for i := range want {
		if got[i].Text != want[i] {
			t.Errorf("List(3)[%d] = %q, want %q", i, got[i].Text, want[i])
		}
	}

	failed, err := s.Undelivered(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 2 || failed[0].Text != "entry 3" || failed[1].Text != "entry 1" {
		t.Errorf("Undelivered() = %+v", failed)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s := openTest(t, dir)
	e := &Entry{Text: "Not lost.", Error: "all strategies failed"}
	if err := s.Put(e); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s = openTest(t, dir)
	defer s.Close()
	got, err := s.Get(e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "Not lost." || got.Delivered {
		t.Errorf("reopened entry = %+v", got)
	}
}
