package world

import (
	"encoding/json"
	"testing"

	"aicycles.ai/internal/protocol"
)

func newArena(t *testing.T, w, h, players int) *World {
	t.Helper()
	wd := New()
	if err := wd.ApplyMapInfo(protocol.MapInfo{Width: w, Height: h, Players: players}); err != nil {
		t.Fatalf("ApplyMapInfo: %v", err)
	}
	return wd
}

func TestWorld_BorderRing(t *testing.T) {
	w := newArena(t, 5, 3, 2)
	if len(w.grid) != 7 || len(w.grid[0]) != 5 {
		t.Fatalf("grid size: got %dx%d want 7x5", len(w.grid), len(w.grid[0]))
	}
	for x := 0; x < 7; x++ {
		for y := 0; y < 5; y++ {
			border := x == 0 || x == 6 || y == 0 || y == 4
			got := w.Cell(x, y)
			if border && got != Wall {
				t.Fatalf("cell (%d,%d): got %d want wall", x, y, got)
			}
			if !border && got != Empty {
				t.Fatalf("cell (%d,%d): got %d want empty", x, y, got)
			}
		}
	}
	if !w.IsOccupied(-1, 2) || !w.IsOccupied(3, 99) {
		t.Fatalf("outside the grid must read as occupied")
	}
}

func TestWorld_RowsAreIndependent(t *testing.T) {
	w := newArena(t, 4, 4, 1)
	w.grid[2][2] = 9
	for x := range w.grid {
		if x != 2 && w.grid[x][2] == 9 {
			t.Fatalf("write to column 2 leaked into column %d", x)
		}
	}
}

func TestWorld_PositionBeforeMap(t *testing.T) {
	w := New()
	err := w.ApplyPosition(protocol.Position{Player: 1, X: 0, Y: 0})
	if protocol.CodeOf(err) != protocol.ErrProtocolOrder {
		t.Fatalf("got %v want %s", err, protocol.ErrProtocolOrder)
	}
}

func TestWorld_MapTwice(t *testing.T) {
	w := newArena(t, 5, 5, 2)
	err := w.ApplyMapInfo(protocol.MapInfo{Width: 5, Height: 5, Players: 2})
	if protocol.CodeOf(err) != protocol.ErrProtocolOrder {
		t.Fatalf("got %v want %s", err, protocol.ErrProtocolOrder)
	}
}

func TestWorld_PositionShift(t *testing.T) {
	w := newArena(t, 5, 5, 2)
	if err := w.ApplyPosition(protocol.Position{Player: 1, X: 1, Y: 1}); err != nil {
		t.Fatalf("ApplyPosition: %v", err)
	}
	if err := w.ApplyPosition(protocol.Position{Player: 2, X: 3, Y: 3}); err != nil {
		t.Fatalf("ApplyPosition: %v", err)
	}
	c1, _ := w.Cycle(1)
	c2, _ := w.Cycle(2)
	if c1.X != 2 || c1.Y != 2 || c2.X != 4 || c2.Y != 4 {
		t.Fatalf("cycles: got (%d,%d) (%d,%d) want (2,2) (4,4)", c1.X, c1.Y, c2.X, c2.Y)
	}
	if w.Cell(2, 2) != 1 || w.Cell(4, 4) != 2 {
		t.Fatalf("start cells not marked: %d %d", w.Cell(2, 2), w.Cell(4, 4))
	}
	if !c1.Alive || c1.Dir != protocol.North {
		t.Fatalf("defaults: %+v", c1)
	}
}

func TestWorld_PositionOutOfRange(t *testing.T) {
	w := newArena(t, 5, 5, 2)
	cases := []protocol.Position{
		{Player: 3, X: 0, Y: 0},
		{Player: 0, X: 0, Y: 0},
		{Player: 1, X: 5, Y: 0},
		{Player: 1, X: 0, Y: 5},
	}
	for _, p := range cases {
		if err := w.ApplyPosition(p); protocol.CodeOf(err) != protocol.ErrOutOfRange {
			t.Fatalf("ApplyPosition(%+v): got %v want %s", p, err, protocol.ErrOutOfRange)
		}
	}
}

func TestWorld_MoveLeavesTrail(t *testing.T) {
	w := newArena(t, 5, 5, 2)
	_ = w.ApplyPosition(protocol.Position{Player: 1, X: 2, Y: 2})
	_ = w.ApplyPosition(protocol.Position{Player: 2, X: 0, Y: 4})

	moves := []protocol.Move{
		{Player: 1, Dir: protocol.North},
		{Player: 2, Dir: protocol.East},
		{Player: 1, Dir: protocol.East},
		{Player: 2, Dir: protocol.East},
		{Player: 1, Dir: protocol.South},
		{Player: 2, Dir: protocol.North},
		{Player: 1, Dir: protocol.South},
	}
	written := map[[2]int]int{{3, 3}: 1, {1, 5}: 2}
	for _, m := range moves {
		before, _ := w.Cycle(m.Player)
		if err := w.ApplyMove(m); err != nil {
			t.Fatalf("ApplyMove(%+v): %v", m, err)
		}
		after, _ := w.Cycle(m.Player)
		dx, dy := m.Dir.Delta()
		if after.X != before.X+dx || after.Y != before.Y+dy || after.Dir != m.Dir {
			t.Fatalf("ApplyMove(%+v): got %+v from %+v", m, after, before)
		}
		cell := [2]int{after.X, after.Y}
		if _, seen := written[cell]; !seen {
			written[cell] = m.Player
		}
		// Every cell ever claimed keeps its first owner.
		for pos, owner := range written {
			if got := w.Cell(pos[0], pos[1]); got != owner {
				t.Fatalf("after %+v: cell %v got %d want %d", m, pos, got, owner)
			}
		}
	}
	c1, _ := w.Cycle(1)
	if c1.X != 4 || c1.Y != 4 || c1.Trail != 5 {
		t.Fatalf("player 1: %+v", c1)
	}
}

func TestWorld_MoveIntoTrailKeepsFirstOwner(t *testing.T) {
	w := newArena(t, 3, 3, 2)
	_ = w.ApplyPosition(protocol.Position{Player: 1, X: 0, Y: 1})
	_ = w.ApplyPosition(protocol.Position{Player: 2, X: 2, Y: 1})
	_ = w.ApplyMove(protocol.Move{Player: 1, Dir: protocol.East})
	_ = w.ApplyMove(protocol.Move{Player: 2, Dir: protocol.West})
	if got := w.Cell(2, 2); got != 1 {
		t.Fatalf("collision cell: got %d want 1", got)
	}
	// Driving into the border keeps the wall.
	_ = w.ApplyMove(protocol.Move{Player: 1, Dir: protocol.North})
	_ = w.ApplyMove(protocol.Move{Player: 1, Dir: protocol.North})
	if got := w.Cell(2, 0); got != Wall {
		t.Fatalf("border cell: got %d want wall", got)
	}
	if err := w.ApplyMove(protocol.Move{Player: 1, Dir: protocol.North}); protocol.CodeOf(err) != protocol.ErrOutOfRange {
		t.Fatalf("move off the grid: got %v", err)
	}
}

func TestWorld_DeathAndLocal(t *testing.T) {
	w := New()
	if err := w.SetLocal(2); err != nil {
		t.Fatalf("SetLocal: %v", err)
	}
	if _, ok := w.LocalCycle(); ok {
		t.Fatalf("local cycle must not exist before map info")
	}
	w = newArena(t, 5, 5, 3)
	if err := w.SetLocal(4); protocol.CodeOf(err) != protocol.ErrOutOfRange {
		t.Fatalf("SetLocal out of range: got %v", err)
	}
	_ = w.SetLocal(2)
	_ = w.ApplyDeath(protocol.Death{Player: 3})
	_ = w.ApplyDeath(protocol.Death{Player: 2})
	_ = w.ApplyDeath(protocol.Death{Player: 3})
	local, ok := w.LocalCycle()
	if !ok || local.Alive || local.Player != 2 {
		t.Fatalf("local: %+v ok=%v", local, ok)
	}
	if got := w.Deaths(); len(got) != 2 || got[0] != 3 || got[1] != 2 {
		t.Fatalf("deaths: got %v want [3 2]", got)
	}
}

func TestWorld_SnapshotIsDetached(t *testing.T) {
	w := newArena(t, 3, 3, 1)
	_ = w.ApplyPosition(protocol.Position{Player: 1, X: 1, Y: 1})
	snap := w.Snapshot(4)
	_ = w.ApplyMove(protocol.Move{Player: 1, Dir: protocol.East})
	if snap.Grid[3][2] != Empty || snap.Cycles[0].X != 2 {
		t.Fatalf("snapshot changed with the world: %+v", snap)
	}
	b, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Snapshot
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Cycles[0].Dir != protocol.North || back.Tick != 4 {
		t.Fatalf("decoded snapshot: %+v", back)
	}
}

func TestWorld_Dump(t *testing.T) {
	w := newArena(t, 2, 1, 1)
	_ = w.ApplyPosition(protocol.Position{Player: 1, X: 0, Y: 0})
	want := "-1 -1 -1 -1\n-1  1  0 -1\n-1 -1 -1 -1\n"
	if got := w.Dump(); got != want {
		t.Fatalf("Dump:\n%s\nwant:\n%s", got, want)
	}
}

func TestWorld_ApplyDispatch(t *testing.T) {
	w := New()
	msgs := []protocol.Message{
		protocol.Identity{ID: 2},
		protocol.Handshake{Name: "server"},
		protocol.MapInfo{Width: 4, Height: 4, Players: 2},
		protocol.RandomSeed{Seed: 3},
		protocol.Position{Player: 1, X: 0, Y: 0},
		protocol.Position{Player: 2, X: 3, Y: 3},
		protocol.Update{Tick: 1},
		protocol.Move{Player: 2, Dir: protocol.West},
		protocol.Death{Player: 1},
		protocol.Unknown{Type: 999, Data: "?"},
	}
	for _, m := range msgs {
		if err := w.Apply(m); err != nil {
			t.Fatalf("Apply(%#v): %v", m, err)
		}
	}
	local, ok := w.LocalCycle()
	if !ok || local.Player != 2 || local.X != 3 || local.Y != 4 || !local.Alive {
		t.Fatalf("local: %+v ok=%v", local, ok)
	}
	if err := w.Apply(protocol.Goodbye{Text: "End of line!"}); err != nil {
		t.Fatalf("Apply(goodbye): %v", err)
	}
	if local, _ := w.LocalCycle(); local.Alive {
		t.Fatalf("goodbye must end the local cycle")
	}
	if got := w.Deaths(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("deaths: %v", got)
	}
}
