package agent

import (
	"math/rand"

	"aicycles.ai/internal/protocol"
	"aicycles.ai/internal/world"
)

// View is the read-only part of the world a policy may inspect.
type View interface {
	IsOccupied(x, y int) bool
}

// Policy picks the local cycle's heading for the next tick. ok is false when
// the cycle should keep going straight.
type Policy interface {
	Decide(v View, self world.Cycle) (dir protocol.Direction, ok bool)
}

// Seeder is implemented by policies that draw random numbers. The session
// seeds them from the server's RandomSeed so matches are reproducible.
type Seeder interface {
	Seed(seed int64)
}

// Clearance reports which of the three cells ahead of c are free.
func Clearance(v View, c world.Cycle) (forward, left, right bool) {
	free := func(d protocol.Direction) bool {
		dx, dy := d.Delta()
		return !v.IsOccupied(c.X+dx, c.Y+dy)
	}
	return free(c.Dir), free(c.Dir.Left()), free(c.Dir.Right())
}

const (
	DefaultLeftBelow  = 0.3
	DefaultRightAbove = 0.7
)

// RandomTurner wanders: it turns left or right at random when that side is
// clear and otherwise only turns to avoid a wall straight ahead.
type RandomTurner struct {
	LeftBelow  float64
	RightAbove float64

	rng *rand.Rand
}

func NewRandomTurner(leftBelow, rightAbove float64, seed int64) *RandomTurner {
	p := &RandomTurner{LeftBelow: leftBelow, RightAbove: rightAbove}
	p.Seed(seed)
	return p
}

func (p *RandomTurner) Seed(seed int64) {
	p.rng = rand.New(rand.NewSource(seed))
}

func (p *RandomTurner) Decide(v View, self world.Cycle) (protocol.Direction, bool) {
	if p.rng == nil {
		p.Seed(1)
	}
	choice := p.rng.Float64()
	forward, left, right := Clearance(v, self)
	switch {
	case choice < p.LeftBelow && left:
		return self.Dir.Left(), true
	case choice > p.RightAbove && right:
		return self.Dir.Right(), true
	case !forward && right:
		return self.Dir.Right(), true
	case !forward:
		return self.Dir.Left(), true
	}
	return self.Dir, false
}
