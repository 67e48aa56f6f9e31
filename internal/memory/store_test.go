package memory

import (
	"testing"
)

func setClock(ms int64) {
	nowMS = func() int64 { return ms }
}

func TestWriteAndRead(t *testing.T) {
	orig := nowMS
	defer func() { nowMS = orig }()
	setClock(1000)

	s := New(nil)
	m := s.Write(CategoryNote, "title", "content", []string{"A", " b "}, "ctx", 0)
	if m.Source != LocalSource {
		t.Fatalf("source = %q, want local", m.Source)
	}
	if len(m.Tags) != 2 || m.Tags[0] != "a" || m.Tags[1] != "b" {
		t.Fatalf("tags not normalized: %#v", m.Tags)
	}

	got := s.Read(ReadFilter{Limit: 10})
	if len(got) != 1 || got[0].ID != m.ID {
		t.Fatalf("read mismatch: %#v", got)
	}
}

// TestTTLInvariant covers spec invariant 1: expired memories are absent from
// read/search and from cleanup's remaining count.
func TestTTLInvariant(t *testing.T) {
	orig := nowMS
	defer func() { nowMS = orig }()

	setClock(0)
	s := New(nil)
	s.Write(CategoryNote, "one hour", "x", nil, "", 3_600_000)
	s.Write(CategoryNote, "one hour 2", "x", nil, "", 3_600_000)
	s.Write(CategoryNote, "forever", "x", nil, "", 0)
	s.Write(CategoryNote, "already expired", "x", nil, "", -1)

	setClock(2 * 3_600_000)

	res := s.CleanupExpired()
	if res.LocalExpired != 3 {
		t.Fatalf("LocalExpired = %d, want 3", res.LocalExpired)
	}
	if res.SharedExpired != 0 {
		t.Fatalf("SharedExpired = %d, want 0", res.SharedExpired)
	}

	remaining := s.Read(ReadFilter{Limit: 100})
	if len(remaining) != 1 || remaining[0].Title != "forever" {
		t.Fatalf("remaining = %#v", remaining)
	}
}

func TestSourceFidelity(t *testing.T) {
	s := New(nil)
	s.Write(CategoryNote, "t", "c", nil, "", 0)

	s.Receive("peer-a", []*Memory{
		{ID: "m1", Title: "from peer", Source: "local", Content: "c"},
	})

	shared := s.Read(ReadFilter{Source: "peer-a", IncludeShared: true, Limit: 10})
	if len(shared) != 1 {
		t.Fatalf("expected 1 shared memory, got %d", len(shared))
	}
	if shared[0].Source != "peer-a" {
		t.Fatalf("source not rewritten to sender: %q", shared[0].Source)
	}

	for _, m := range s.Read(ReadFilter{Source: LocalSource, Limit: 10}) {
		if m.Source != LocalSource {
			t.Fatalf("local partition contains non-local source %q", m.Source)
		}
	}
}

func TestReceiveIdempotent(t *testing.T) {
	s := New(nil)
	batch := []*Memory{{ID: "m1", Title: "a", Content: "c"}}
	s.Receive("peer-a", batch)
	s.Receive("peer-a", batch)

	got := s.Read(ReadFilter{Source: "peer-a", IncludeShared: true, Limit: 100})
	if len(got) != 1 {
		t.Fatalf("receive not idempotent: got %d entries", len(got))
	}
}

func TestUpdateLocalOnly(t *testing.T) {
	orig := nowMS
	defer func() { nowMS = orig }()
	setClock(500)

	s := New(nil)
	m := s.Write(CategoryNote, "t", "c", nil, "", 0)

	updated := s.Update(m.ID, func(mem *Memory) { mem.Content = "new" })
	if updated == nil || updated.Content != "new" {
		t.Fatalf("update failed: %#v", updated)
	}
	if updated.Updated < updated.Created {
		t.Fatalf("updated (%d) should be >= created (%d)", updated.Updated, updated.Created)
	}

	if s.Update("does-not-exist", func(*Memory) {}) != nil {
		t.Fatal("expected nil for missing id")
	}
}

func TestSearchRanksTitleFirst(t *testing.T) {
	orig := nowMS
	defer func() { nowMS = orig }()
	setClock(1)

	s := New(nil)
	s.Write(CategoryNote, "mentions widget in body", "widget", nil, "", 0)
	setClock(2)
	s.Write(CategoryNote, "widget", "unrelated", nil, "", 0)

	results := s.Search("widget", SearchOptions{Limit: 10})
	if len(results) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(results))
	}
	if results[0].Title != "widget" {
		t.Fatalf("title match should rank first, got %q", results[0].Title)
	}
}

func TestGetSince(t *testing.T) {
	orig := nowMS
	defer func() { nowMS = orig }()

	setClock(100)
	s := New(nil)
	s.Write(CategoryNote, "old", "c", nil, "", 0)

	setClock(200)
	s.Write(CategoryNote, "new", "c", nil, "", 0)

	since := s.GetSince(150)
	if len(since) != 1 || since[0].Title != "new" {
		t.Fatalf("GetSince mismatch: %#v", since)
	}
}

func TestDelete(t *testing.T) {
	s := New(nil)
	m := s.Write(CategoryNote, "t", "c", nil, "", 0)
	if !s.Delete(m.ID) {
		t.Fatal("delete should report true for existing memory")
	}
	if s.Delete(m.ID) {
		t.Fatal("delete should report false on second call")
	}
}
