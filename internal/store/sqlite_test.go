package store

import (
	"path/filepath"
	"testing"
	"time"

	"switchboard/internal/lane"
)

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lanes.db")

	at := testTime(0)
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}

	l := sampleLane("sess", "lane-1", at)
	l.OwnerSessionID = "delegate-3"
	if err := s.CreateLane(l); err != nil {
		t.Fatalf("CreateLane: %v", err)
	}
	if err := s.UpsertMemberships([]lane.Membership{
		{SessionID: "sess", MessageID: "m1", LaneID: "lane-1", Relevance: 0.8, IsPrimary: true, CreatedAt: at},
	}); err != nil {
		t.Fatalf("UpsertMemberships: %v", err)
	}
	if err := s.AppendSwitchEvent(&lane.SwitchEvent{
		SessionID: "sess", MessageID: "m1", ToLaneID: "lane-1",
		Reason: lane.ReasonCreatedNewContext, Confidence: 1.0, CreatedAt: at,
	}); err != nil {
		t.Fatalf("AppendSwitchEvent: %v", err)
	}
	if err := s.SetOverride(lane.ManualOverride{
		SessionID: "sess", LaneID: "lane-1", ExpiresAt: at.Add(time.Hour),
	}); err != nil {
		t.Fatalf("SetOverride: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A fresh handle on the same file sees everything.
	s2, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.GetLane("sess", "lane-1")
	if err != nil {
		t.Fatalf("GetLane after reopen: %v", err)
	}
	if got == nil {
		t.Fatal("lane lost across reopen")
	}
	if got.OwnerSessionID != "delegate-3" || got.Title != l.Title || got.Summary != l.Summary {
		t.Errorf("lane fields lost: %+v", got)
	}
	if !got.CreatedAt.Equal(at) {
		t.Errorf("created at = %v, want %v", got.CreatedAt, at)
	}

	primary, err := s2.LatestPrimaryLaneID("sess")
	if err != nil {
		t.Fatalf("LatestPrimaryLaneID after reopen: %v", err)
	}
	if primary != "lane-1" {
		t.Errorf("latest primary after reopen = %q, want lane-1", primary)
	}

	events, err := s2.ListSwitchEvents("sess", 10)
	if err != nil {
		t.Fatalf("ListSwitchEvents after reopen: %v", err)
	}
	if len(events) != 1 || events[0].Reason != lane.ReasonCreatedNewContext {
		t.Errorf("events after reopen = %+v", events)
	}

	o, err := s2.GetOverride("sess", at)
	if err != nil {
		t.Fatalf("GetOverride after reopen: %v", err)
	}
	if o == nil || o.LaneID != "lane-1" {
		t.Errorf("override after reopen = %+v", o)
	}
}

func TestSQLiteCreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested", "lanes.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore with missing parents: %v", err)
	}
	defer s.Close()

	if err := s.CreateLane(sampleLane("sess", "lane-1", testTime(0))); err != nil {
		t.Fatalf("CreateLane: %v", err)
	}
}

func TestSQLiteInitializeIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lanes.db")
	for i := 0; i < 2; i++ {
		s, err := NewSQLiteStore(path)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
	}
}
