package session

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"aicycles.ai/internal/agent"
	"aicycles.ai/internal/protocol"
	"aicycles.ai/internal/world"
)

const (
	DefaultName     = "joe"
	DefaultFarewell = "So long, suckers!"
)

type State int

const (
	Bootstrapping State = iota
	Handshaking
	Playing
	Ending
	Closed
)

func (s State) String() string {
	switch s {
	case Bootstrapping:
		return "bootstrapping"
	case Handshaking:
		return "handshaking"
	case Playing:
		return "playing"
	case Ending:
		return "ending"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transport is the framed connection a session drives. *stream.Conn
// implements it.
type Transport interface {
	Send(m protocol.Message) error
	ReceiveBatch() ([]protocol.Message, error)
	EOF() bool
	Close() error
}

// frameCounter is implemented by transports that drop or rewrite bad input.
type frameCounter interface {
	Malformed() int
	Discarded() int
}

type Config struct {
	Name     string
	Farewell string

	// Publish, if set, gets a snapshot after every applied batch.
	Publish func(world.Snapshot)
	Logger  logrus.FieldLogger
}

// EndReason says why the local cycle stopped playing.
type EndReason string

const (
	EndDeath   EndReason = "death"
	EndGoodbye EndReason = "goodbye"
	EndEOF     EndReason = "eof"
)

// Result summarizes a finished (or aborted) session.
type Result struct {
	LocalID int
	Width   int
	Height  int
	Players int
	Seed    int64
	Seeded  bool

	Ticks     int // updates received
	Turns     int // turn commands sent
	Unknown   int // unknown or malformed frames received
	Malformed int // frames with a known code and a bad body, a subset of Unknown
	Discarded int // received lines that were not frames

	Reason     EndReason
	Deaths     []int
	DeathTicks map[int]int // player -> updates received before its death
	Cycles     []world.Cycle
}

// Survived reports whether the local cycle was never eliminated.
func (r Result) Survived() bool {
	if r.LocalID == 0 {
		return false
	}
	for _, id := range r.Deaths {
		if id == r.LocalID {
			return false
		}
	}
	return true
}

// Won reports whether every other participant died while the local cycle
// did not.
func (r Result) Won() bool {
	return r.Survived() && r.Players > 1 && len(r.Deaths) == r.Players-1
}

// Local returns the local cycle's final state.
func (r Result) Local() (world.Cycle, bool) {
	if r.LocalID < 1 || r.LocalID > len(r.Cycles) {
		return world.Cycle{}, false
	}
	return r.Cycles[r.LocalID-1], true
}

// Session plays one match over one transport. It is single-use and owns the
// world it builds; none of its methods are safe for concurrent use.
type Session struct {
	cfg    Config
	t      Transport
	policy agent.Policy
	world  *world.World
	log    logrus.FieldLogger

	state   State
	seed    int64
	seeded  bool
	ticks   int
	turns   int
	unknown int
	over    bool
	reason  EndReason

	deathTicks map[int]int
}

func New(t Transport, policy agent.Policy, cfg Config) *Session {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Farewell == "" {
		cfg.Farewell = DefaultFarewell
	}
	logger := cfg.Logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Session{
		cfg:    cfg,
		t:      t,
		policy: policy,
		world:  world.New(),
		log:    logger.WithField("component", "session"),

		deathTicks: map[int]int{},
	}
}

func (s *Session) State() State { return s.state }

// World exposes the session's arena mirror for inspection after Run.
func (s *Session) World() *world.World { return s.world }

// Run drives the session from bootstrap to close. Cancelling ctx closes the
// transport, which makes a pending receive fail; Run then returns ctx's
// error. The transport is always closed when Run returns.
func (s *Session) Run(ctx context.Context) (Result, error) {
	stop := context.AfterFunc(ctx, func() { _ = s.t.Close() })
	defer stop()

	err := s.run(ctx)
	if cerr := ctx.Err(); err != nil && cerr != nil {
		err = fmt.Errorf("session aborted: %w", cerr)
	}
	s.close()
	return s.result(), err
}

func (s *Session) run(ctx context.Context) error {
	// Bootstrapping: everything the server sends before our handshake.
	batch, err := s.receive("bootstrap")
	if err != nil {
		return err
	}
	if err := s.applyBatch(batch); err != nil {
		return err
	}

	s.setState(Handshaking)
	if err := s.t.Send(protocol.Handshake{Name: s.cfg.Name}); err != nil {
		return err
	}
	batch, err = s.receive("handshake")
	if err != nil {
		return err
	}
	if err := s.applyBatch(batch); err != nil {
		return err
	}

	s.setState(Playing)
	if !s.over {
		if !s.world.Ready() {
			return protocol.Errorf(protocol.ErrProtocolOrder, "play", "no map info before play")
		}
		if _, ok := s.world.LocalCycle(); !ok {
			return protocol.Errorf(protocol.ErrProtocolOrder, "play", "no identity before play")
		}
	}
	for s.playing() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.think(); err != nil {
			return err
		}
		batch, err := s.t.ReceiveBatch()
		if err != nil {
			return err
		}
		if err := s.applyBatch(batch); err != nil {
			return err
		}
		if s.t.EOF() && !s.over {
			s.log.Info("server closed the stream")
			s.finish(EndEOF)
		}
	}

	s.setState(Ending)
	if err := s.t.Send(protocol.Goodbye{Text: s.cfg.Farewell}); err != nil {
		if s.t.EOF() {
			s.log.WithError(err).Warn("goodbye not delivered")
			return nil
		}
		return err
	}
	return nil
}

// receive reads one batch during setup, where a closed stream is fatal.
func (s *Session) receive(op string) ([]protocol.Message, error) {
	batch, err := s.t.ReceiveBatch()
	if err != nil {
		return nil, err
	}
	if s.t.EOF() && !endsBatch(batch) {
		return nil, protocol.Errorf(protocol.ErrReceive, op, "stream closed after %d messages", len(batch))
	}
	return batch, nil
}

func endsBatch(batch []protocol.Message) bool {
	return len(batch) > 0 && batch[len(batch)-1].Code().EndsBatch()
}

func (s *Session) playing() bool {
	if s.over {
		return false
	}
	c, ok := s.world.LocalCycle()
	return ok && c.Alive
}

// think asks the policy for a heading and sends it if the cycle should turn.
func (s *Session) think() error {
	self, _ := s.world.LocalCycle()
	dir, turn := s.policy.Decide(s.world, self)
	if !turn {
		return nil
	}
	if err := s.t.Send(protocol.Turn{Dir: dir}); err != nil {
		return err
	}
	s.turns++
	s.log.WithFields(logrus.Fields{"from": self.Dir, "to": dir, "x": self.X, "y": self.Y}).Debug("turn")
	return nil
}

func (s *Session) applyBatch(batch []protocol.Message) error {
	for _, m := range batch {
		if err := s.apply(m); err != nil {
			return err
		}
	}
	if s.cfg.Publish != nil && s.world.Ready() {
		s.cfg.Publish(s.world.Snapshot(s.ticks))
	}
	return nil
}

// apply updates the arena through world.Apply, the same path a replay
// takes, then does the session's own bookkeeping.
func (s *Session) apply(m protocol.Message) error {
	if err := s.world.Apply(m); err != nil {
		return err
	}
	switch m := m.(type) {
	case protocol.MapInfo:
		s.log.WithFields(logrus.Fields{"width": m.Width, "height": m.Height, "players": m.Players}).Info("map")
	case protocol.Position, protocol.Move:
	case protocol.RandomSeed:
		s.seed, s.seeded = m.Seed, true
		if sd, ok := s.policy.(agent.Seeder); ok {
			sd.Seed(m.Seed)
		}
	case protocol.Identity:
		s.log.WithField("player", m.ID).Info("identity")
	case protocol.Handshake:
		s.log.WithField("server", m.Name).Debug("server handshake")
	case protocol.Death:
		if _, seen := s.deathTicks[m.Player]; !seen {
			s.deathTicks[m.Player] = s.ticks
		}
		if m.Player == s.world.LocalID() {
			s.log.WithField("tick", s.ticks).Info("local cycle died")
			s.finish(EndDeath)
		} else {
			s.log.WithField("player", m.Player).Info("cycle died")
		}
	case protocol.Update:
		s.ticks++
	case protocol.Goodbye:
		s.log.WithField("text", m.Text).Info("server said goodbye")
		s.finish(EndGoodbye)
	case protocol.Unknown:
		s.unknown++
		s.log.WithFields(logrus.Fields{"code": m.Type, "body": m.Data}).Warn("unknown frame")
	default:
		s.unknown++
		s.log.WithField("code", m.Code()).Warn("unexpected message")
	}
	return nil
}

// finish records the first reason the local cycle stopped.
func (s *Session) finish(r EndReason) {
	if s.reason == "" {
		s.reason = r
	}
	s.over = true
}

func (s *Session) setState(st State) {
	s.log.WithFields(logrus.Fields{"from": s.state, "to": st}).Debug("state")
	s.state = st
}

func (s *Session) close() {
	if err := s.t.Close(); err != nil {
		s.log.WithError(err).Debug("close")
	}
	s.setState(Closed)
}

func (s *Session) result() Result {
	ticks := make(map[int]int, len(s.deathTicks))
	for id, tick := range s.deathTicks {
		ticks[id] = tick
	}
	r := Result{
		LocalID: s.world.LocalID(),
		Width:   s.world.Width(),
		Height:  s.world.Height(),
		Players: s.world.Players(),
		Seed:    s.seed,
		Seeded:  s.seeded,
		Ticks:   s.ticks,
		Turns:   s.turns,
		Unknown: s.unknown,
		Reason:  s.reason,
		Deaths:  s.world.Deaths(),
		Cycles:  s.world.Cycles(),

		DeathTicks: ticks,
	}
	if fc, ok := s.t.(frameCounter); ok {
		r.Malformed, r.Discarded = fc.Malformed(), fc.Discarded()
	}
	return r
}
