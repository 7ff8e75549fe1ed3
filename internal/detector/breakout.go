package detector

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

const (
	defaultBreakoutLookback   = 20
	defaultVolumeMultiplier   = 1.5
	defaultBreakoutRetest     = 1
	defaultBreakoutSignalSize = 1.0
)

// BreakoutConfig tunes the breakout detector. Zero values take defaults.
type BreakoutConfig struct {
	// Lookback is the number of prior observations forming the channel.
	Lookback int
	// VolumeMultiplier: volume must exceed the window average times this.
	VolumeMultiplier float64
	// Retest is the number of consecutive confirming observations needed
	// before emitting. 1 emits on the first confirmed crossing.
	Retest int
	Size   float64
}

func (c BreakoutConfig) lookback() int {
	if c.Lookback > 0 {
		return c.Lookback
	}
	return defaultBreakoutLookback
}

func (c BreakoutConfig) multiplier() float64 {
	if c.VolumeMultiplier > 0 {
		return c.VolumeMultiplier
	}
	return defaultVolumeMultiplier
}

func (c BreakoutConfig) retest() int {
	if c.Retest > 0 {
		return c.Retest
	}
	return defaultBreakoutRetest
}

func (c BreakoutConfig) size() float64 {
	if c.Size > 0 {
		return c.Size
	}
	return defaultBreakoutSignalSize
}

// Breakout emits an entry when price closes through the rolling
// support/resistance channel on confirming volume.
type Breakout struct {
	cfg   BreakoutConfig
	mu    sync.Mutex
	state map[domain.MarketKey]*channelState
}

// NewBreakout creates a breakout detector.
func NewBreakout(cfg BreakoutConfig) *Breakout {
	return &Breakout{cfg: cfg, state: make(map[domain.MarketKey]*channelState)}
}

// Name returns the detector identifier.
func (b *Breakout) Name() string { return "breakout" }

// candidate is a crossing waiting for retest confirmations.
type candidate struct {
	dir        domain.Direction
	level      float64
	support    float64
	resistance float64
	avgVolume  float64
	count      int
}

// rearm tracks a fired direction until it may fire again: the window that
// produced it must roll over and price must come back inside the channel.
type rearm struct {
	level    float64
	seen     int
	returned bool
}

type channelState struct {
	closes   []float64
	volumes  []float64
	pending  *candidate
	disarmed map[domain.Direction]*rearm
}

func (s *channelState) push(close, volume float64, limit int) {
	s.closes = append(s.closes, close)
	s.volumes = append(s.volumes, volume)
	if over := len(s.closes) - limit; over > 0 {
		s.closes = s.closes[over:]
		s.volumes = s.volumes[over:]
	}
}

func (s *channelState) channel() (support, resistance, avgVolume float64) {
	support, resistance = s.closes[0], s.closes[0]
	var vol float64
	for i, c := range s.closes {
		support = min(support, c)
		resistance = max(resistance, c)
		vol += s.volumes[i]
	}
	return support, resistance, vol / float64(len(s.volumes))
}

func (s *channelState) advanceRearm(close float64, lookback int) {
	for dir, r := range s.disarmed {
		r.seen++
		if (dir == domain.DirectionEnterLong && close <= r.level) ||
			(dir == domain.DirectionEnterShort && close >= r.level) {
			r.returned = true
		}
		if r.returned && r.seen >= lookback {
			delete(s.disarmed, dir)
		}
	}
}

// Evaluate implements Detector.
func (b *Breakout) Evaluate(obs Observation) (domain.Signal, bool) {
	cur := obs.Current
	closePx := cur.Close()
	if closePx <= 0 {
		return domain.Signal{}, false
	}
	lookback := b.cfg.lookback()

	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.state[cur.Key()]
	if !ok {
		st = &channelState{disarmed: make(map[domain.Direction]*rearm)}
		b.state[cur.Key()] = st
	}
	defer st.push(closePx, cur.Volume, lookback)

	st.advanceRearm(closePx, lookback)
	if len(st.closes) < lookback {
		return domain.Signal{}, false
	}

	support, resistance, avgVolume := st.channel()
	confirmed := cur.Volume > avgVolume*b.cfg.multiplier()

	if p := st.pending; p != nil {
		holds := (p.dir == domain.DirectionEnterLong && closePx > p.level) ||
			(p.dir == domain.DirectionEnterShort && closePx < p.level)
		if !holds || !confirmed {
			st.pending = nil
			return domain.Signal{}, false
		}
		p.count++
		if p.count < b.cfg.retest() {
			return domain.Signal{}, false
		}
		st.pending = nil
		return b.fire(st, p, obs), true
	}

	prior := st.closes[len(st.closes)-1]
	if obs.HasPrior && obs.Prior.Close() > 0 {
		prior = obs.Prior.Close()
	}

	var c candidate
	switch {
	case closePx > resistance && prior <= resistance:
		c = candidate{dir: domain.DirectionEnterLong, level: resistance}
	case closePx < support && prior >= support:
		c = candidate{dir: domain.DirectionEnterShort, level: support}
	default:
		return domain.Signal{}, false
	}
	if !confirmed {
		return domain.Signal{}, false
	}
	if _, off := st.disarmed[c.dir]; off {
		return domain.Signal{}, false
	}

	c.support, c.resistance, c.avgVolume, c.count = support, resistance, avgVolume, 1
	if c.count < b.cfg.retest() {
		st.pending = &c
		return domain.Signal{}, false
	}
	return b.fire(st, &c, obs), true
}

func (b *Breakout) fire(st *channelState, c *candidate, obs Observation) domain.Signal {
	st.disarmed[c.dir] = &rearm{level: c.level}

	cur := obs.Current
	ref := cur.Close()
	if c.dir == domain.DirectionEnterLong && cur.Ask > 0 {
		ref = cur.Ask
	}
	if c.dir == domain.DirectionEnterShort && cur.Bid > 0 {
		ref = cur.Bid
	}
	return domain.Signal{
		ID:             uuid.NewString(),
		Kind:           domain.SignalKindBreakout,
		Source:         b.Name(),
		Symbol:         cur.Symbol,
		Venue:          cur.Venue,
		Direction:      c.dir,
		SuggestedSize:  b.cfg.size(),
		ReferencePrice: ref,
		Reason: fmt.Sprintf("close %.8g broke %s %.8g on volume %.8g (avg %.8g)",
			cur.Close(), levelName(c.dir), c.level, cur.Volume, c.avgVolume),
		CreatedAt: obs.Now,
		Breakout: &domain.BreakoutDetail{
			Support:       c.support,
			Resistance:    c.resistance,
			Volume:        cur.Volume,
			AverageVolume: c.avgVolume,
			Confirmations: c.count,
		},
	}
}

func levelName(dir domain.Direction) string {
	if dir == domain.DirectionEnterLong {
		return "resistance"
	}
	return "support"
}
