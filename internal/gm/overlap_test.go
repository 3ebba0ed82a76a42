package gm

import "testing"

func TestOverlapScoresNonOverlapping(t *testing.T) {
	sessions := []sessionFiles{
		{SessionID: "A", StartedAt: 1, Files: []string{"src/x.go"}},
		{SessionID: "B", StartedAt: 2, Files: []string{"src/y.go"}},
	}
	order := overlapScores(sessions)
	if len(order) != 2 || order[0] != "A" || order[1] != "B" {
		t.Fatalf("expected [A B] (tie broken by earlier started_at), got %v", order)
	}
}

func TestOverlapScoresSymmetricTieBrokenByStartedAt(t *testing.T) {
	// A touches src/x; B touches src/x and src/y. Both overlap on
	// src/x once each: score(A)=1, score(B)=1 -- a tie, per spec S2.
	sessions := []sessionFiles{
		{SessionID: "B", StartedAt: 2, Files: []string{"src/x.go", "src/y.go"}},
		{SessionID: "A", StartedAt: 1, Files: []string{"src/x.go"}},
	}
	order := overlapScores(sessions)
	if order[0] != "A" {
		t.Fatalf("expected earlier-started session first on tie, got %v", order)
	}
}

func TestOverlapScoresSessionIDTieBreak(t *testing.T) {
	sessions := []sessionFiles{
		{SessionID: "zzz", StartedAt: 5, Files: []string{"a"}},
		{SessionID: "aaa", StartedAt: 5, Files: []string{"b"}},
	}
	order := overlapScores(sessions)
	if order[0] != "aaa" {
		t.Fatalf("expected lexicographic session_id tie-break, got %v", order)
	}
}

func TestOverlapScoresThreeWayOverlap(t *testing.T) {
	sessions := []sessionFiles{
		{SessionID: "A", StartedAt: 1, Files: []string{"shared.go"}},
		{SessionID: "B", StartedAt: 2, Files: []string{"shared.go"}},
		{SessionID: "C", StartedAt: 3, Files: []string{"shared.go", "solo.go"}},
	}
	order := overlapScores(sessions)
	// score(A)=2, score(B)=2, score(C)=2 (shared.go contributes 2 each);
	// all tie on score, broken by started_at ascending.
	if order[0] != "A" || order[1] != "B" || order[2] != "C" {
		t.Fatalf("expected [A B C], got %v", order)
	}
}
