package gm

import "sort"

// sessionFiles is the minimal shape overlapScores needs: a successful
// session's id, the files it changed and when it started — exactly
// spec §4.6 Analyzing's inputs.
type sessionFiles struct {
	SessionID string
	StartedAt int64 // unix nanos, sortable without importing time in the pure algorithm
	Files     []string
}

// overlapScores computes spec §4.6's conflict-proxy score and returns
// sessions ordered ascending by (score, startedAt, sessionID) — the
// exact merge_order the GM persists. The heuristic is the spec's own
// deliberately naive O(N·M): for each file a session changed, count how
// many *other* successful sessions also changed it, summed per session.
//
// New code — no teacher equivalent computes this metric.
// internal/orchestrator/overlap_analysis.go computes a different,
// pre-flight path-prefix overlap for *scheduling advice*; we keep that
// file's two-nested-loops idiom but replace the metric with this exact
// definition (see DESIGN.md).
func overlapScores(sessions []sessionFiles) []string {
	fileOwners := make(map[string][]string, 64)
	for _, s := range sessions {
		for _, f := range s.Files {
			fileOwners[f] = append(fileOwners[f], s.SessionID)
		}
	}

	score := make(map[string]int, len(sessions))
	for _, s := range sessions {
		total := 0
		for _, f := range s.Files {
			owners := fileOwners[f]
			total += len(owners) - 1 // exclude self
		}
		score[s.SessionID] = total
	}

	ordered := make([]sessionFiles, len(sessions))
	copy(ordered, sessions)
	sort.SliceStable(ordered, func(i, j int) bool {
		si, sj := ordered[i], ordered[j]
		if score[si.SessionID] != score[sj.SessionID] {
			return score[si.SessionID] < score[sj.SessionID]
		}
		if si.StartedAt != sj.StartedAt {
			return si.StartedAt < sj.StartedAt
		}
		return si.SessionID < sj.SessionID
	})

	order := make([]string, len(ordered))
	for i, s := range ordered {
		order[i] = s.SessionID
	}
	return order
}
