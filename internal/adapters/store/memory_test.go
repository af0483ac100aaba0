package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ladiesman540/crane-platform/internal/domain"
	"github.com/ladiesman540/crane-platform/internal/ports"
)

func reading(addr string, counter int64, vel float64) domain.Reading {
	return domain.Reading{DeviceAddress: addr, SequenceCounter: counter, X: domain.Axis{VelocityMMs: domain.Float(vel)}}
}

func TestMemoryStoreIdempotency(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	now := time.Now()

	first, err := s.Accept(ctx, "D1", reading("D1", 101, 1.95), now)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if first.ID == "" {
		t.Fatalf("expected server-assigned id")
	}
	if _, err := s.Accept(ctx, "D1", reading("D1", 101, 1.95), now); !errors.Is(err, ports.ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	list, _ := s.Recent(ctx, "D1", 10)
	if len(list) != 1 {
		t.Fatalf("expected exactly one accepted reading, got %d", len(list))
	}
	if _, err := s.Accept(ctx, "D2", reading("D2", 101, 0.2), now); err != nil {
		t.Fatalf("same counter on another device must be accepted: %v", err)
	}
}

func TestMemoryStoreRecentNewestFirstAndRetention(t *testing.T) {
	s := NewMemoryStore(3)
	ctx := context.Background()
	base := time.Now()
	for i := int64(1); i <= 5; i++ {
		if _, err := s.Accept(ctx, "S", reading("S", i, 0.1), base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("accept %d: %v", i, err)
		}
	}
	list, _ := s.Recent(ctx, "S", 0)
	if len(list) != 3 {
		t.Fatalf("expected retention of 3, got %d", len(list))
	}
	for i, want := range []int64{5, 4, 3} {
		if list[i].Reading.SequenceCounter != want {
			t.Fatalf("position %d: expected counter %d, got %d", i, want, list[i].Reading.SequenceCounter)
		}
	}
	if _, err := s.Accept(ctx, "S", reading("S", 1, 0.1), base); !errors.Is(err, ports.ErrDuplicate) {
		t.Fatalf("evicted readings must still be duplicates, got %v", err)
	}
	two, _ := s.Recent(ctx, "S", 2)
	if len(two) != 2 || two[0].Reading.SequenceCounter != 5 {
		t.Fatalf("unexpected limited list %+v", two)
	}
}

func TestJournalStoreSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	j, err := OpenJournal(dir, 0, true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	a, err := j.Accept(ctx, "D1", reading("D1", 7, 1.2), time.Now())
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := j.Accept(ctx, "D1", reading("D1", 8, 1.3), time.Now()); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, "readings.journal"), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	f.Write([]byte{0, 0, 0, 0, 0, 0, 0, 9, 0, 0})
	f.Close()

	j, err = OpenJournal(dir, 0, false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j.Close()
	if _, err := j.Accept(ctx, "D1", reading("D1", 7, 1.2), time.Now()); !errors.Is(err, ports.ErrDuplicate) {
		t.Fatalf("expected duplicate after restart, got %v", err)
	}
	list, _ := j.Recent(ctx, "D1", 10)
	if len(list) != 2 || list[1].ID != a.ID || *list[1].Reading.X.VelocityMMs != 1.2 {
		t.Fatalf("unexpected replayed readings %+v", list)
	}
	next, err := j.Accept(ctx, "D1", reading("D1", 9, 1.4), time.Now())
	if err != nil {
		t.Fatalf("accept after restart: %v", err)
	}
	if next.ID != "3" {
		t.Fatalf("expected ids to continue at 3, got %s", next.ID)
	}
}
