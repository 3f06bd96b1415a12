package world

// Snapshot is a detached copy of the world that is safe to hand to other
// goroutines.
type Snapshot struct {
	Tick    int     `json:"tick"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	LocalID int     `json:"local_id"`
	Grid    [][]int `json:"grid"` // [x][y], border included
	Cycles  []Cycle `json:"cycles"`
	Deaths  []int   `json:"deaths,omitempty"`
}

func (w *World) Snapshot(tick int) Snapshot {
	grid := make([][]int, len(w.grid))
	for x, col := range w.grid {
		grid[x] = append([]int(nil), col...)
	}
	return Snapshot{
		Tick:    tick,
		Width:   w.width,
		Height:  w.height,
		LocalID: w.localID,
		Grid:    grid,
		Cycles:  w.Cycles(),
		Deaths:  w.Deaths(),
	}
}
