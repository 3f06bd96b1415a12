package protocol

import "fmt"

// DefaultPort is the port the arena server listens on.
const DefaultPort = 1982

// Code is the 3-digit numeric message type that prefixes every frame.
type Code int

// Message types.
// 1xx: connection and match data. 4xx: game state changes.
const (
	CodeHandshake  Code = 100
	CodeIdentity   Code = 101
	CodeMapInfo    Code = 102
	CodePosition   Code = 103
	CodeRandomSeed Code = 104
	CodeGoodbye    Code = 199

	CodeMove   Code = 400
	CodeTurn   Code = 401
	CodeUpdate Code = 402
	CodeDeath  Code = 404
)

var codeNames = map[Code]string{
	CodeHandshake:  "HANDSHAKE",
	CodeIdentity:   "IDENTITY",
	CodeMapInfo:    "MAP_INFO",
	CodePosition:   "POSITION",
	CodeRandomSeed: "RANDOM_SEED",
	CodeGoodbye:    "GOODBYE",
	CodeMove:       "MOVE",
	CodeTurn:       "DIRECTION",
	CodeUpdate:     "UPDATE",
	CodeDeath:      "DEATH",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("UNKNOWN(%03d)", int(c))
}

// Known reports whether c is part of the fixed message set.
func (c Code) Known() bool {
	_, ok := codeNames[c]
	return ok
}

// EndsBatch reports whether a message of this type marks the point where
// the agent gets control back.
func (c Code) EndsBatch() bool {
	return c == CodeHandshake || c == CodeUpdate || c == CodeGoodbye
}

// Direction is a cycle heading. Values are ordered clockwise so that turning
// is index arithmetic modulo 4.
type Direction uint8

const (
	North Direction = iota
	East
	South
	West
)

var directionLetters = [4]byte{'N', 'E', 'S', 'W'}

func (d Direction) String() string {
	if d > West {
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
	return string(directionLetters[d])
}

func (d Direction) Valid() bool { return d <= West }

// Left is the heading after a 90 degree counter-clockwise turn.
func (d Direction) Left() Direction { return (d + 3) % 4 }

// Right is the heading after a 90 degree clockwise turn.
func (d Direction) Right() Direction { return (d + 1) % 4 }

// Delta is the grid step for one move in this direction. y grows southwards.
func (d Direction) Delta() (dx, dy int) {
	switch d {
	case North:
		return 0, -1
	case East:
		return 1, 0
	case South:
		return 0, 1
	case West:
		return -1, 0
	}
	return 0, 0
}

// ParseDirection accepts exactly one of "N", "E", "S", "W".
func ParseDirection(s string) (Direction, error) {
	if len(s) == 1 {
		for i, l := range directionLetters {
			if s[0] == l {
				return Direction(i), nil
			}
		}
	}
	return 0, fmt.Errorf("not a direction: %q", s)
}

func (d Direction) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid direction %d", uint8(d))
	}
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}
