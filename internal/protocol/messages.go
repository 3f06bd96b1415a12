package protocol

import (
	"strconv"
)

// Message is one decoded frame. Body returns the wire body without the code
// prefix or the line terminator.
type Message interface {
	Code() Code
	Body() string
}

// HANDSHAKE (both). The server greets with one; the client answers with its name.
type Handshake struct {
	Name string
}

// IDENTITY (server -> client): the local participant's 1-based player number.
type Identity struct {
	ID int
}

// MAP_INFO (server -> client), once per session.
type MapInfo struct {
	Width   int
	Height  int
	Players int
}

// POSITION (server -> client): zero-based start placement, one per player.
type Position struct {
	Player int
	X      int
	Y      int
}

// RANDOM_SEED (server -> client).
type RandomSeed struct {
	Seed int64
}

// GOODBYE (both): ends the session with a human-readable reason.
type Goodbye struct {
	Text string
}

// MOVE (server -> client): a participant advanced with the given heading.
type Move struct {
	Player int
	Dir    Direction
}

// DIRECTION (client -> server): the local agent's new heading.
type Turn struct {
	Dir Direction
}

// UPDATE (server -> client): tick heartbeat. The reference server numbers
// its updates; an empty body decodes as Tick 0.
type Update struct {
	Tick int
}

// DEATH (server -> client).
type Death struct {
	Player int
}

// Unknown carries frames whose code is not in the fixed set, or whose body
// did not match the grammar of its code.
type Unknown struct {
	Type Code
	Data string
}

func (Handshake) Code() Code  { return CodeHandshake }
func (Identity) Code() Code   { return CodeIdentity }
func (MapInfo) Code() Code    { return CodeMapInfo }
func (Position) Code() Code   { return CodePosition }
func (RandomSeed) Code() Code { return CodeRandomSeed }
func (Goodbye) Code() Code    { return CodeGoodbye }
func (Move) Code() Code       { return CodeMove }
func (Turn) Code() Code       { return CodeTurn }
func (Update) Code() Code     { return CodeUpdate }
func (Death) Code() Code      { return CodeDeath }
func (m Unknown) Code() Code  { return m.Type }

func (m Handshake) Body() string  { return m.Name }
func (m Identity) Body() string   { return strconv.Itoa(m.ID) }
func (m MapInfo) Body() string    { return ints(m.Width, m.Height, m.Players) }
func (m Position) Body() string   { return ints(m.Player, m.X, m.Y) }
func (m RandomSeed) Body() string { return strconv.FormatInt(m.Seed, 10) }
func (m Goodbye) Body() string    { return m.Text }
func (m Move) Body() string       { return strconv.Itoa(m.Player) + " " + m.Dir.String() }
func (m Turn) Body() string       { return m.Dir.String() }
func (m Death) Body() string      { return strconv.Itoa(m.Player) }
func (m Unknown) Body() string    { return m.Data }

func (m Update) Body() string {
	if m.Tick == 0 {
		return ""
	}
	return strconv.Itoa(m.Tick)
}

func ints(vs ...int) string {
	b := make([]byte, 0, 16)
	for i, v := range vs {
		if i > 0 {
			b = append(b, ' ')
		}
		b = strconv.AppendInt(b, int64(v), 10)
	}
	return string(b)
}
