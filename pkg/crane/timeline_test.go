package crane

import (
	"strconv"
	"testing"
	"time"

	"github.com/ladiesman540/crane-platform/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func entryAt(id int, offset time.Duration) Entry {
	return Entry{ID: domain.ReadingID(strconv.Itoa(id)), SensorID: "D1", At: t0.Add(offset)}
}

func TestTimelineAppendIsBounded(t *testing.T) {
	tl := NewTimeline(0)
	for i := 0; i < 250; i++ {
		if !tl.AppendOne(entryAt(i, time.Duration(i)*time.Second)) {
			t.Fatalf("append %d refused", i)
		}
	}
	if tl.Len() != DefaultCapacity {
		t.Fatalf("expected %d entries, got %d", DefaultCapacity, tl.Len())
	}
	got := tl.Entries()
	if got[0].ID != "50" || got[len(got)-1].ID != "249" {
		t.Fatalf("expected oldest 50 evicted, window is %s..%s", got[0].ID, got[len(got)-1].ID)
	}
}

func TestTimelineAppendDedupesAndKeepsArrivalOrder(t *testing.T) {
	tl := NewTimeline(5)
	tl.AppendOne(entryAt(1, 0))
	tl.AppendOne(entryAt(3, 2*time.Second))
	if tl.AppendOne(entryAt(1, 5*time.Second)) {
		t.Fatalf("expected duplicate id to be refused")
	}
	tl.AppendOne(entryAt(2, time.Second))

	got := tl.Entries()
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	for i, want := range []domain.ReadingID{"1", "3", "2"} {
		if got[i].ID != want {
			t.Fatalf("entry %d: expected %s, got %s", i, want, got[i].ID)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i].At.Before(got[i-1].At) {
			t.Fatalf("entry %d at %v precedes entry %d at %v", i, got[i].At, i-1, got[i-1].At)
		}
	}
	last, ok := tl.Last()
	if !ok || last.ID != "2" || !last.At.Equal(t0.Add(2*time.Second)) {
		t.Fatalf("unexpected last %+v", last)
	}
}

func TestTimelineReplaceAll(t *testing.T) {
	tl := NewTimeline(3)
	tl.AppendOne(entryAt(99, time.Hour))

	tl.ReplaceAll([]Entry{
		entryAt(4, 4*time.Second),
		entryAt(1, time.Second),
		entryAt(3, 3*time.Second),
		entryAt(3, 3*time.Second),
		entryAt(2, 2*time.Second),
	})
	got := tl.Entries()
	if len(got) != 3 {
		t.Fatalf("expected capacity 3, got %d", len(got))
	}
	for i, want := range []domain.ReadingID{"2", "3", "4"} {
		if got[i].ID != want {
			t.Fatalf("entry %d: expected %s, got %s", i, want, got[i].ID)
		}
	}
}

func TestStatusBands(t *testing.T) {
	cases := []struct {
		age  time.Duration
		want StatusLevel
	}{
		{0, StatusLive},
		{-time.Minute, StatusLive},
		{5*time.Minute - time.Second, StatusLive},
		{5 * time.Minute, StatusStale},
		{30 * time.Minute, StatusStale},
		{30*time.Minute + time.Second, StatusOffline},
	}
	for _, tc := range cases {
		if got := StatusAt(t0, t0.Add(-tc.age)); got.Level != tc.want {
			t.Fatalf("age %s: expected level %d, got %d", tc.age, tc.want, got.Level)
		}
	}
	if got := StatusAt(t0, time.Time{}); got.Level != StatusOffline {
		t.Fatalf("expected never-seen sensor to be offline")
	}
	if s := StatusAt(t0, t0.Add(-12*time.Minute)).String(); s != "STALE (12m)" {
		t.Fatalf("unexpected stale label %q", s)
	}
}

func TestMergerSnapshotThenLive(t *testing.T) {
	m := NewMerger(0)
	snap := []domain.AcceptedReading{
		{ID: "2", SensorID: "D1", AcceptedAt: t0.Add(time.Minute), Reading: domain.Reading{DeviceAddress: "D1", SequenceCounter: 2}},
		{ID: "1", SensorID: "D1", AcceptedAt: t0, Reading: domain.Reading{DeviceAddress: "D1", SequenceCounter: 1}},
	}
	m.LoadSnapshot("D1", snap)

	ev := domain.LiveEvent{Event: domain.EventSensorReading, SensorID: "D1", ReadingID: "3", Zone: domain.ZoneB}
	if !m.HandleEvent(ev, t0.Add(2*time.Minute)) {
		t.Fatalf("expected live event to be appended")
	}
	if m.HandleEvent(ev, t0.Add(3*time.Minute)) {
		t.Fatalf("expected repeated event to be ignored")
	}

	got := m.Timeline("D1")
	if len(got) != 3 || got[0].ID != "1" || got[2].ID != "3" {
		t.Fatalf("unexpected timeline %+v", got)
	}
	if st := m.Status("D1", t0.Add(3*time.Minute)); st.Level != StatusLive {
		t.Fatalf("expected LIVE, got %s", st)
	}
	if st := m.Status("D9", t0); st.Level != StatusOffline {
		t.Fatalf("expected unknown sensor offline, got %s", st)
	}
	if ids := m.Sensors(); len(ids) != 1 || ids[0] != "D1" {
		t.Fatalf("unexpected sensors %v", ids)
	}
}

func TestMergerLiveEventAfterSnapshotDespiteClockSkew(t *testing.T) {
	m := NewMerger(0)
	m.LoadSnapshot("D1", []domain.AcceptedReading{
		{ID: "7", SensorID: "D1", AcceptedAt: t0.Add(2 * time.Minute), Reading: domain.Reading{DeviceAddress: "D1", SequenceCounter: 7}},
	})

	// Local clock runs 90s behind the server that stamped the snapshot.
	ev := domain.LiveEvent{Event: domain.EventSensorReading, SensorID: "D1", ReadingID: "8", Zone: domain.ZoneC,
		Reading: domain.Reading{DeviceAddress: "D1", SequenceCounter: 8}}
	if !m.HandleEvent(ev, t0.Add(30*time.Second)) {
		t.Fatalf("expected live event to be appended")
	}

	latest, ok := m.Latest("D1")
	if !ok || latest.ID != "8" || latest.Zone != domain.ZoneC {
		t.Fatalf("expected the live event as latest, got %+v", latest)
	}
	if got := m.Timeline("D1"); len(got) != 2 || got[0].ID != "7" || got[1].ID != "8" {
		t.Fatalf("unexpected timeline %+v", got)
	}
}
