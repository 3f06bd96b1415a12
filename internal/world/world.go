package world

import (
	"fmt"
	"strings"

	"aicycles.ai/internal/protocol"
)

// Cell values. Positive values are player numbers.
const (
	Empty = 0
	Wall  = -1
)

// Cycle is one participant's light cycle. X and Y are grid coordinates,
// already shifted by one for the border ring.
type Cycle struct {
	Player int                `json:"player"`
	X      int                `json:"x"`
	Y      int                `json:"y"`
	Dir    protocol.Direction `json:"dir"`
	Alive  bool               `json:"alive"`
	Placed bool               `json:"placed"`
	Trail  int                `json:"trail"` // cells this cycle has claimed
}

// World mirrors the arena as announced by the server. It is only changed
// through the Apply* methods and SetLocal; it is not safe for concurrent use.
type World struct {
	width, height int
	grid          [][]int // [x][y], (width+2) x (height+2)
	cycles        []Cycle
	localID       int
	deaths        []int
}

func New() *World { return &World{} }

func (w *World) Ready() bool { return w.grid != nil }

func (w *World) Width() int  { return w.width }
func (w *World) Height() int { return w.height }

// Players is the participant count announced by MapInfo.
func (w *World) Players() int { return len(w.cycles) }

func (w *World) LocalID() int { return w.localID }

// ApplyMapInfo allocates the bordered grid and one cycle per participant.
func (w *World) ApplyMapInfo(m protocol.MapInfo) error {
	if w.grid != nil {
		return protocol.Errorf(protocol.ErrProtocolOrder, "map info", "map already received (%dx%d)", w.width, w.height)
	}
	if m.Width <= 0 || m.Height <= 0 {
		return protocol.Errorf(protocol.ErrOutOfRange, "map info", "arena %dx%d", m.Width, m.Height)
	}
	if m.Players <= 0 {
		return protocol.Errorf(protocol.ErrOutOfRange, "map info", "player count %d", m.Players)
	}
	if w.localID > m.Players {
		return protocol.Errorf(protocol.ErrOutOfRange, "map info", "local player %d of %d", w.localID, m.Players)
	}
	w.width, w.height = m.Width, m.Height
	cols, rows := m.Width+2, m.Height+2
	w.grid = make([][]int, cols)
	for x := range w.grid {
		col := make([]int, rows)
		col[0], col[rows-1] = Wall, Wall
		if x == 0 || x == cols-1 {
			for y := range col {
				col[y] = Wall
			}
		}
		w.grid[x] = col
	}
	w.cycles = make([]Cycle, m.Players)
	for i := range w.cycles {
		w.cycles[i] = Cycle{Player: i + 1, Dir: protocol.North, Alive: true}
	}
	return nil
}

// ApplyPosition places a participant. The wire coordinates are zero-based;
// they are stored shifted past the border.
func (w *World) ApplyPosition(m protocol.Position) error {
	if w.grid == nil {
		return protocol.Errorf(protocol.ErrProtocolOrder, "position", "player %d placed before map info", m.Player)
	}
	c, err := w.cycle("position", m.Player)
	if err != nil {
		return err
	}
	x, y := m.X+1, m.Y+1
	if x < 1 || x > w.width || y < 1 || y > w.height {
		return protocol.Errorf(protocol.ErrOutOfRange, "position", "player %d at (%d,%d) outside %dx%d", m.Player, m.X, m.Y, w.width, w.height)
	}
	c.X, c.Y = x, y
	c.Placed = true
	w.mark(c)
	return nil
}

// ApplyMove turns the cycle to the announced heading and advances it one
// cell. Cells are never cleared: the trail stays an obstacle for the rest of
// the match.
func (w *World) ApplyMove(m protocol.Move) error {
	if w.grid == nil {
		return protocol.Errorf(protocol.ErrProtocolOrder, "move", "move for player %d before map info", m.Player)
	}
	c, err := w.cycle("move", m.Player)
	if err != nil {
		return err
	}
	dx, dy := m.Dir.Delta()
	x, y := c.X+dx, c.Y+dy
	if x < 0 || x >= len(w.grid) || y < 0 || y >= len(w.grid[0]) {
		return protocol.Errorf(protocol.ErrOutOfRange, "move", "player %d moved off the grid to (%d,%d)", m.Player, x, y)
	}
	c.Dir = m.Dir
	c.X, c.Y = x, y
	w.mark(c)
	return nil
}

// ApplyDeath marks a participant as eliminated.
func (w *World) ApplyDeath(m protocol.Death) error {
	if w.grid == nil {
		return protocol.Errorf(protocol.ErrProtocolOrder, "death", "death of player %d before map info", m.Player)
	}
	c, err := w.cycle("death", m.Player)
	if err != nil {
		return err
	}
	if c.Alive {
		c.Alive = false
		w.deaths = append(w.deaths, c.Player)
	}
	return nil
}

// Apply routes an arena message to the matching Apply method. Messages that
// do not change the arena are ignored.
func (w *World) Apply(m protocol.Message) error {
	switch m := m.(type) {
	case protocol.MapInfo:
		return w.ApplyMapInfo(m)
	case protocol.Position:
		return w.ApplyPosition(m)
	case protocol.Move:
		return w.ApplyMove(m)
	case protocol.Death:
		return w.ApplyDeath(m)
	case protocol.Identity:
		return w.SetLocal(m.ID)
	case protocol.Goodbye:
		w.EndLocal()
	}
	return nil
}

// SetLocal records which participant this client controls.
func (w *World) SetLocal(id int) error {
	if id <= 0 {
		return protocol.Errorf(protocol.ErrOutOfRange, "identity", "player id %d", id)
	}
	if w.grid != nil && id > len(w.cycles) {
		return protocol.Errorf(protocol.ErrOutOfRange, "identity", "player id %d of %d", id, len(w.cycles))
	}
	w.localID = id
	return nil
}

// EndLocal marks the local cycle as no longer playing, e.g. after the server
// said goodbye.
func (w *World) EndLocal() {
	if c, ok := w.ref(w.localID); ok {
		c.Alive = false
	}
}

// IsOccupied reports whether (x, y) is a wall, a trail or outside the grid.
func (w *World) IsOccupied(x, y int) bool { return w.Cell(x, y) != Empty }

// Cell returns the raw grid value; coordinates outside the grid read as Wall.
func (w *World) Cell(x, y int) int {
	if x < 0 || x >= len(w.grid) || y < 0 || y >= len(w.grid[x]) {
		return Wall
	}
	return w.grid[x][y]
}

// LocalCycle returns the cycle this client controls, if it is known yet.
func (w *World) LocalCycle() (Cycle, bool) { return w.Cycle(w.localID) }

// Cycle returns a copy of one participant's cycle.
func (w *World) Cycle(player int) (Cycle, bool) {
	c, ok := w.ref(player)
	if !ok {
		return Cycle{}, false
	}
	return *c, true
}

func (w *World) Cycles() []Cycle { return append([]Cycle(nil), w.cycles...) }

// Deaths lists eliminated players in the order they died.
func (w *World) Deaths() []int { return append([]int(nil), w.deaths...) }

// Dump renders the grid row by row, one %2d cell per column.
func (w *World) Dump() string {
	if w.grid == nil {
		return ""
	}
	var b strings.Builder
	for y := 0; y < len(w.grid[0]); y++ {
		for x := range w.grid {
			if x > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%2d", w.grid[x][y])
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func (w *World) cycle(op string, player int) (*Cycle, error) {
	c, ok := w.ref(player)
	if !ok {
		return nil, protocol.Errorf(protocol.ErrOutOfRange, op, "player %d of %d", player, len(w.cycles))
	}
	return c, nil
}

func (w *World) ref(player int) (*Cycle, bool) {
	if player < 1 || player > len(w.cycles) {
		return nil, false
	}
	return &w.cycles[player-1], true
}

// mark claims the cycle's current cell. A cell keeps the first value written
// to it, so walls and older trails are never overwritten.
func (w *World) mark(c *Cycle) {
	if w.grid[c.X][c.Y] != Empty {
		return
	}
	w.grid[c.X][c.Y] = c.Player
	c.Trail++
}
