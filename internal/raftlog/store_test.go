package raftlog

import (
	"path/filepath"
	"testing"
)

func TestMemStore_TermAndVote(t *testing.T) {
	s := NewMemStore()

	if term, _ := s.LoadTerm(); term != 0 {
		t.Fatalf("expected initial term 0, got %d", term)
	}
	if err := s.SaveTerm(5); err != nil {
		t.Fatalf("SaveTerm: %v", err)
	}
	if term, _ := s.LoadTerm(); term != 5 {
		t.Fatalf("expected term 5, got %d", term)
	}

	if vote, _ := s.LoadVote(); vote != "" {
		t.Fatalf("expected no initial vote, got %q", vote)
	}
	if err := s.SaveVote("node-2"); err != nil {
		t.Fatalf("SaveVote: %v", err)
	}
	if vote, _ := s.LoadVote(); vote != "node-2" {
		t.Fatalf("expected vote node-2, got %q", vote)
	}
}

func TestMemStore_AppendAndReadRange(t *testing.T) {
	s := NewMemStore()
	entries := []LogEntry{
		{Index: 1, Term: 1, Type: EntryNoop},
		{Index: 2, Term: 1, Type: EntryMembership, Payload: []byte("a")},
		{Index: 3, Term: 2, Type: EntryNodeReport, Payload: []byte("b")},
	}
	if err := s.AppendEntries(entries); err != nil {
		t.Fatalf("AppendEntries: %v", err)
	}

	last, _ := s.LastIndex()
	if last != 3 {
		t.Fatalf("expected last index 3, got %d", last)
	}
	lastTerm, _ := s.LastTerm()
	if lastTerm != 2 {
		t.Fatalf("expected last term 2, got %d", lastTerm)
	}

	got, err := s.ReadRange(2, 3)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if len(got) != 2 || got[0].Index != 2 || got[1].Index != 3 {
		t.Fatalf("unexpected range result: %+v", got)
	}
}

func TestMemStore_TruncateSuffix(t *testing.T) {
	s := NewMemStore()
	s.AppendEntries([]LogEntry{
		{Index: 1, Term: 1},
		{Index: 2, Term: 1},
		{Index: 3, Term: 1},
		{Index: 4, Term: 2},
	})

	if err := s.TruncateSuffix(3); err != nil {
		t.Fatalf("TruncateSuffix: %v", err)
	}
	last, _ := s.LastIndex()
	if last != 2 {
		t.Fatalf("expected last index 2 after truncating from 3, got %d", last)
	}
}

func TestFileStore_PersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "raftlog")

	s1, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := s1.SaveTerm(7); err != nil {
		t.Fatalf("SaveTerm: %v", err)
	}
	if err := s1.SaveVote("node-1"); err != nil {
		t.Fatalf("SaveVote: %v", err)
	}
	if err := s1.AppendEntries([]LogEntry{
		{Index: 1, Term: 7, Type: EntryNoop},
		{Index: 2, Term: 7, Type: EntryStateOp, Payload: []byte(`{"x":1}`)},
	}); err != nil {
		t.Fatalf("AppendEntries: %v", err)
	}

	s2, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("reopen NewFileStore: %v", err)
	}
	if term, _ := s2.LoadTerm(); term != 7 {
		t.Fatalf("expected restored term 7, got %d", term)
	}
	if vote, _ := s2.LoadVote(); vote != "node-1" {
		t.Fatalf("expected restored vote node-1, got %q", vote)
	}
	last, _ := s2.LastIndex()
	if last != 2 {
		t.Fatalf("expected restored last index 2, got %d", last)
	}
	entries, err := s2.ReadRange(1, 2)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if len(entries) != 2 || string(entries[1].Payload) != `{"x":1}` {
		t.Fatalf("unexpected restored entries: %+v", entries)
	}
}

func TestFileStore_TruncateSuffixPersists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "raftlog")
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	s.AppendEntries([]LogEntry{
		{Index: 1, Term: 1},
		{Index: 2, Term: 1},
		{Index: 3, Term: 2},
	})
	if err := s.TruncateSuffix(2); err != nil {
		t.Fatalf("TruncateSuffix: %v", err)
	}

	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	last, _ := reopened.LastIndex()
	if last != 1 {
		t.Fatalf("expected truncated last index 1, got %d", last)
	}
}
