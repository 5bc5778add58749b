package thread

import (
	"testing"
	"time"

	"archive_server/core/domain"
	"archive_server/core/port/out"
)

func day(d int) time.Time {
	return time.Date(2012, 11, d, 0, 0, 0, 0, time.UTC)
}

func email(id, inReplyTo string, date time.Time) *domain.Email {
	return &domain.Email{MessageID: id, InReplyTo: inReplyTo, Date: date}
}

func positionsByID(positions []out.ThreadPosition) map[string]out.ThreadPosition {
	m := make(map[string]out.ThreadPosition, len(positions))
	for _, p := range positions {
		m[p.MessageID] = p
	}
	return m
}

func TestComputePositions_BasicReply(t *testing.T) {
	emails := []*domain.Email{
		email("m1", "", day(1)),
		email("m2", "m1", day(2)),
	}
	got := positionsByID(ComputePositions(emails))
	if p := got["m1"]; p.Order != 0 || p.Depth != 0 {
		t.Errorf("m1 = %+v, want order 0 depth 0", p)
	}
	if p := got["m2"]; p.Order != 1 || p.Depth != 1 {
		t.Errorf("m2 = %+v, want order 1 depth 1", p)
	}
}

func TestComputePositions_FourNodeTree(t *testing.T) {
	// m2 and m3 answer m1, m4 answers m2. Siblings walk in insertion
	// order, so m2's subtree finishes before m3 starts.
	emails := []*domain.Email{
		email("m1", "", day(1)),
		email("m2", "m1", day(2)),
		email("m3", "m1", day(3)),
		email("m4", "m2", day(4)),
	}
	got := positionsByID(ComputePositions(emails))
	want := map[string]out.ThreadPosition{
		"m1": {MessageID: "m1", Order: 0, Depth: 0},
		"m2": {MessageID: "m2", Order: 1, Depth: 1},
		"m4": {MessageID: "m4", Order: 2, Depth: 2},
		"m3": {MessageID: "m3", Order: 3, Depth: 1},
	}
	for id, w := range want {
		if got[id] != w {
			t.Errorf("%s = %+v, want %+v", id, got[id], w)
		}
	}
}

func TestComputePositions_SelfReply(t *testing.T) {
	emails := []*domain.Email{
		email("m1", "m1", day(1)),
	}
	positions := ComputePositions(emails)
	if len(positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(positions))
	}
	if positions[0].Order != 0 || positions[0].Depth != 0 {
		t.Errorf("m1 = %+v, want order 0 depth 0", positions[0])
	}
}

func TestComputePositions_ReplyLoopDropped(t *testing.T) {
	// m1 claims to answer m2 and m2 claims to answer m1. The second edge
	// would close the loop and is dropped; the walk still covers both.
	emails := []*domain.Email{
		email("m1", "m2", day(1)),
		email("m2", "m1", day(2)),
	}
	positions := ComputePositions(emails)
	if len(positions) != 2 {
		t.Fatalf("got %d positions, want 2", len(positions))
	}
	seen := map[int]bool{}
	for _, p := range positions {
		seen[p.Order] = true
	}
	if !seen[0] || !seen[1] {
		t.Errorf("orders not contiguous: %+v", positions)
	}
}

func TestComputePositions_OrphanContinuesNumbering(t *testing.T) {
	// m3's parent was never archived; it becomes a second root after the
	// main tree.
	emails := []*domain.Email{
		email("m1", "", day(1)),
		email("m2", "m1", day(2)),
		email("m3", "gone", day(3)),
	}
	got := positionsByID(ComputePositions(emails))
	if p := got["m3"]; p.Order != 2 || p.Depth != 0 {
		t.Errorf("m3 = %+v, want order 2 depth 0", p)
	}
}

func TestStartingEmail_ReplyLinkBeatsDate(t *testing.T) {
	// m2 is dated before m1 but explicitly answers it, so m1 stays the
	// root.
	emails := []*domain.Email{
		email("m2", "m1", day(1)),
		email("m1", "", day(2)),
	}
	if got := StartingEmail(emails); got.MessageID != "m1" {
		t.Errorf("StartingEmail = %s, want m1", got.MessageID)
	}
}

func TestStartingEmail_EarliestDateWhenNoRoot(t *testing.T) {
	emails := []*domain.Email{
		email("m2", "gone", day(2)),
		email("m1", "gone", day(1)),
	}
	if got := StartingEmail(emails); got.MessageID != "m1" {
		t.Errorf("StartingEmail = %s, want m1", got.MessageID)
	}
}

func TestStartingEmail_Empty(t *testing.T) {
	if got := StartingEmail(nil); got != nil {
		t.Errorf("StartingEmail(nil) = %v, want nil", got)
	}
}
