package router

import (
	"testing"

	"switchboard/internal/lane"
)

func testConfig() lane.RoutingConfig {
	cfg := lane.DefaultRoutingConfig()
	cfg.PrimaryThreshold = 0.32
	cfg.SecondaryThreshold = 0.18
	cfg.SwitchMargin = 0.05
	return cfg
}

func TestSelectLanesEmpty(t *testing.T) {
	sel := SelectLanes(nil, "", testConfig())
	if sel.PrimaryID != "" || len(sel.SecondaryIDs) != 0 {
		t.Errorf("empty scores should select nothing, got %+v", sel)
	}
}

func TestSelectLanesBelowThreshold(t *testing.T) {
	scores := []lane.Score{
		{LaneID: "lane-a", Title: "A", Value: 0.31},
		{LaneID: "lane-b", Title: "B", Value: 0.20},
	}
	sel := SelectLanes(scores, "", testConfig())
	if sel.PrimaryID != "" {
		t.Errorf("top below primary threshold should select no primary, got %s", sel.PrimaryID)
	}
}

func TestSelectLanesPicksTop(t *testing.T) {
	scores := []lane.Score{
		{LaneID: "lane-a", Title: "A", Value: 0.70},
		{LaneID: "lane-b", Title: "B", Value: 0.40},
	}
	sel := SelectLanes(scores, "", testConfig())
	if sel.PrimaryID != "lane-a" {
		t.Errorf("primary = %s, want lane-a", sel.PrimaryID)
	}
}

func TestSelectLanesHysteresisHoldsCurrent(t *testing.T) {
	scores := []lane.Score{
		{LaneID: "lane-a", Title: "A", Value: 0.62},
		{LaneID: "lane-cur", Title: "Current", Value: 0.59},
		{LaneID: "lane-c", Title: "Other", Value: 0.21},
	}
	sel := SelectLanes(scores, "lane-cur", testConfig())

	// Current trails the top by 0.03, inside the 0.05 margin: it holds.
	if sel.PrimaryID != "lane-cur" {
		t.Errorf("primary = %s, want lane-cur held by hysteresis", sel.PrimaryID)
	}
	// The displaced top scorer rides along as a secondary.
	if len(sel.SecondaryIDs) == 0 || sel.SecondaryIDs[0] != "lane-a" {
		t.Errorf("secondaries = %v, want [lane-a]", sel.SecondaryIDs)
	}
}

func TestSelectLanesZeroMarginSwitches(t *testing.T) {
	cfg := testConfig()
	cfg.SwitchMargin = 0

	scores := []lane.Score{
		{LaneID: "lane-a", Title: "A", Value: 0.62},
		{LaneID: "lane-cur", Title: "Current", Value: 0.59},
	}
	sel := SelectLanes(scores, "lane-cur", cfg)
	if sel.PrimaryID != "lane-a" {
		t.Errorf("primary = %s, want lane-a with zero switch margin", sel.PrimaryID)
	}
}

func TestSelectLanesHysteresisNeedsSecondaryThreshold(t *testing.T) {
	scores := []lane.Score{
		{LaneID: "lane-a", Title: "A", Value: 0.35},
		{LaneID: "lane-cur", Title: "Current", Value: 0.17},
	}
	sel := SelectLanes(scores, "lane-cur", testConfig())

	// Current is below the secondary threshold: no hold, a switch happens.
	if sel.PrimaryID != "lane-a" {
		t.Errorf("primary = %s, want lane-a", sel.PrimaryID)
	}
}

func TestSelectLanesSecondaries(t *testing.T) {
	scores := []lane.Score{
		{LaneID: "lane-a", Title: "A", Value: 0.60},
		{LaneID: "lane-b", Title: "B", Value: 0.55},
		{LaneID: "lane-c", Title: "C", Value: 0.50},
		{LaneID: "lane-d", Title: "D", Value: 0.49},
	}
	sel := SelectLanes(scores, "", testConfig())

	if sel.PrimaryID != "lane-a" {
		t.Fatalf("primary = %s, want lane-a", sel.PrimaryID)
	}
	// All three trailers are within 0.12 and above threshold; cap is two.
	if len(sel.SecondaryIDs) != 2 {
		t.Fatalf("secondaries = %v, want exactly 2", sel.SecondaryIDs)
	}
	if sel.SecondaryIDs[0] != "lane-b" || sel.SecondaryIDs[1] != "lane-c" {
		t.Errorf("secondaries = %v, want [lane-b lane-c]", sel.SecondaryIDs)
	}
}

func TestSelectLanesSecondaryProximity(t *testing.T) {
	scores := []lane.Score{
		{LaneID: "lane-a", Title: "A", Value: 0.80},
		{LaneID: "lane-b", Title: "B", Value: 0.67},
		{LaneID: "lane-c", Title: "C", Value: 0.69},
	}
	SortScores(scores)
	sel := SelectLanes(scores, "", testConfig())

	// lane-c (0.69) is within 0.12 of the primary; lane-b (0.67) is not.
	if len(sel.SecondaryIDs) != 1 || sel.SecondaryIDs[0] != "lane-c" {
		t.Errorf("secondaries = %v, want [lane-c]", sel.SecondaryIDs)
	}
}

func TestSelectLanesProximityAgainstHeldPrimary(t *testing.T) {
	scores := []lane.Score{
		{LaneID: "lane-a", Title: "A", Value: 0.62},
		{LaneID: "lane-cur", Title: "Current", Value: 0.59},
		{LaneID: "lane-c", Title: "C", Value: 0.48},
	}
	sel := SelectLanes(scores, "lane-cur", testConfig())

	if sel.PrimaryID != "lane-cur" {
		t.Fatalf("primary = %s, want lane-cur", sel.PrimaryID)
	}
	// Proximity is measured from the held primary's score (0.59): lane-a
	// qualifies, lane-c (0.48, gap 0.11) also qualifies.
	if len(sel.SecondaryIDs) != 2 {
		t.Errorf("secondaries = %v, want 2 entries", sel.SecondaryIDs)
	}
}
