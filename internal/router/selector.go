package router

import (
	"switchboard/internal/lane"
	"switchboard/internal/logging"
)

// =============================================================================
// Lane Selection
// =============================================================================

// secondaryProximity is how close to the chosen primary's score a lane must
// be to ride along as a secondary.
const secondaryProximity = 0.12

// maxSecondaries caps the secondary lane set.
const maxSecondaries = 2

// SelectLanes picks the primary and secondary lanes from scores sorted
// descending. It is a pure function of its inputs.
//
// Hysteresis: when the session already has a primary and that lane scores
// at least the secondary threshold and within SwitchMargin of the top
// scorer, the current primary is kept. This prevents oscillation between
// two lanes with near-identical relevance on consecutive turns.
func SelectLanes(scores []lane.Score, currentPrimaryID string, cfg lane.RoutingConfig) lane.Selection {
	sel := lane.Selection{Scores: scores}
	if len(scores) == 0 {
		return sel
	}

	top := scores[0]
	if top.Value < cfg.PrimaryThreshold {
		// No qualifying lane; the orchestrator creates a new one.
		logging.SelectorDebug("Top score %.3f below primary threshold %.3f",
			top.Value, cfg.PrimaryThreshold)
		return sel
	}

	primary := top
	if currentPrimaryID != "" && currentPrimaryID != top.LaneID {
		for _, s := range scores {
			if s.LaneID != currentPrimaryID {
				continue
			}
			if s.Value >= cfg.SecondaryThreshold && s.Value >= top.Value-cfg.SwitchMargin {
				logging.SelectorDebug("Hysteresis holds: keeping %s (%.3f) over %s (%.3f)",
					s.LaneID, s.Value, top.LaneID, top.Value)
				primary = s
			}
			break
		}
	}
	sel.PrimaryID = primary.LaneID

	for _, s := range scores {
		if s.LaneID == primary.LaneID {
			continue
		}
		if s.Value < cfg.SecondaryThreshold {
			continue
		}
		if s.Value < primary.Value-secondaryProximity {
			continue
		}
		sel.SecondaryIDs = append(sel.SecondaryIDs, s.LaneID)
		if len(sel.SecondaryIDs) == maxSecondaries {
			break
		}
	}

	return sel
}
