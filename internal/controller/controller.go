// Package controller owns the evacuation query workflow: it validates a form,
// issues the query to the flood service and maps the answer into the display
// state that renderers draw.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/evacmap/evacmap/internal/evacuation"
	"github.com/evacmap/evacmap/internal/telemetry"
	"github.com/evacmap/evacmap/pkg/polyline"
)

// ErrBusy is returned when a query is submitted while another is in flight.
var ErrBusy = errors.New("a query is already in progress")

// DisplayState is the renderer-facing snapshot of the last query.
type DisplayState struct {
	Path            [][2]float64   `json:"path"`
	FloodedZones    [][][2]float64 `json:"floodedZones"`
	Busy            bool           `json:"busy"`
	NoPathFound     bool           `json:"noPathFound"`
	ValidationError string         `json:"validationError,omitempty"`
	Sequence        uint64         `json:"sequence"`
	DistanceMeters  float64        `json:"distanceMeters"`
	EncodedPolyline string         `json:"encodedPolyline,omitempty"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// HasPath reports whether the state carries a drawable route.
func (s DisplayState) HasPath() bool {
	return len(s.Path) >= 2
}

// Config holds configuration for a controller.
type Config struct {
	// Provider answers evacuation queries.
	Provider evacuation.Provider

	// Parameters declares the accepted environmental parameters
	// (optional, defaults to evacuation.DefaultParameters).
	Parameters evacuation.ParameterSet

	// Logger for query outcomes.
	Logger zerolog.Logger

	// Metrics records query outcomes (optional).
	Metrics *telemetry.QueryMetrics

	// Clock stamps state updates (default: real clock).
	Clock clockwork.Clock
}

// Controller holds one display state and runs at most one query at a time.
type Controller struct {
	provider  evacuation.Provider
	params    evacuation.ParameterSet
	validator *formValidator
	logger    zerolog.Logger
	metrics   *telemetry.QueryMetrics
	clock     clockwork.Clock

	mu      sync.Mutex
	state   DisplayState
	subs    map[int]chan DisplayState
	nextSub int
	closed  bool
}

// New creates a controller with an empty display state.
func New(cfg Config) *Controller {
	params := cfg.Parameters
	if len(params) == 0 {
		params = evacuation.DefaultParameters()
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	c := &Controller{
		provider:  cfg.Provider,
		params:    params,
		validator: newFormValidator(params),
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		clock:     clock,
		subs:      make(map[int]chan DisplayState),
	}
	c.state = emptyState(clock.Now())
	return c
}

// Parameters returns the recognized environmental parameters.
func (c *Controller) Parameters() evacuation.ParameterSet {
	return c.params
}

// Submit validates the form, queries the provider and updates the display state.
//
// While a query is in flight further submissions return ErrBusy and change
// nothing. An invalid form returns a *ValidationError without issuing a
// request. Provider failures are not returned: they leave the state flagged
// as "no path found", exactly like an empty answer. Busy is false on return.
func (c *Controller) Submit(ctx context.Context, f Form) (DisplayState, error) {
	c.mu.Lock()
	if c.state.Busy {
		snap := c.state.clone()
		c.mu.Unlock()
		c.metrics.Rejected(telemetry.OutcomeBusy)
		return snap, ErrBusy
	}
	c.state.Busy = true
	c.state.NoPathFound = false
	c.state.ValidationError = ""
	claimed := c.state.Sequence
	c.touchLocked()
	c.mu.Unlock()

	q, err := c.validator.Query(f)

	c.mu.Lock()
	if c.state.Sequence != claimed {
		// Reset while validating; the state no longer belongs to this
		// submission, but an invalid form is still reported.
		snap := c.state.clone()
		c.mu.Unlock()
		if err != nil {
			c.metrics.Rejected(telemetry.OutcomeInvalid)
			return snap, err
		}
		c.metrics.Rejected(telemetry.OutcomeDiscarded)
		return snap, nil
	}
	if err != nil {
		defer c.mu.Unlock()
		c.state.Busy = false
		c.state.ValidationError = err.Error()
		c.touchLocked()
		c.metrics.Rejected(telemetry.OutcomeInvalid)
		c.logger.Debug().Err(err).Msg("evacuation query rejected")
		return c.state.clone(), err
	}

	c.state.Sequence++
	seq := c.state.Sequence
	c.state.Path = [][2]float64{}
	c.state.FloodedZones = [][][2]float64{}
	c.state.DistanceMeters = 0
	c.state.EncodedPolyline = ""
	c.touchLocked()
	c.mu.Unlock()

	start := c.clock.Now()
	c.metrics.Started()
	res, err := c.find(ctx, q)
	elapsed := c.clock.Since(start)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Sequence != seq {
		c.metrics.Finished(telemetry.OutcomeDiscarded, elapsed)
		c.logger.Debug().
			Uint64("sequence", seq).
			Uint64("current_sequence", c.state.Sequence).
			Msg("discarding response for superseded query")
		return c.state.clone(), nil
	}

	c.state.Busy = false
	switch {
	case err != nil:
		c.setNoPathLocked()
		c.metrics.Finished(outcomeFor(err), elapsed)
		c.logFailure(q, err, elapsed)
	case !res.HasPath():
		c.setNoPathLocked()
		c.metrics.Finished(telemetry.OutcomeNoPath, elapsed)
		c.logger.Info().
			Str("place", q.Place).
			Dur("duration", elapsed).
			Msg("no evacuation path found")
	default:
		c.setResultLocked(res)
		c.metrics.Finished(telemetry.OutcomePath, elapsed)
		c.logger.Info().
			Str("place", q.Place).
			Int("path_points", len(res.Path)).
			Int("flooded_zones", len(res.FloodedZones)).
			Float64("distance_m", c.state.DistanceMeters).
			Dur("duration", elapsed).
			Msg("evacuation path found")
	}
	c.touchLocked()

	return c.state.clone(), nil
}

// find calls the provider, turning a panic into a provider failure.
func (c *Controller) find(ctx context.Context, q evacuation.Query) (res *evacuation.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("%w: provider panic: %v", evacuation.ErrProviderUnavailable, r)
		}
	}()
	return c.provider.FindEvacuationPath(ctx, q)
}

func (c *Controller) logFailure(q evacuation.Query, err error, elapsed time.Duration) {
	if errors.Is(err, evacuation.ErrNoPathFound) {
		c.logger.Info().
			Err(err).
			Str("place", q.Place).
			Msg("flood service reported no path")
		return
	}
	c.logger.Error().
		Err(err).
		Str("place", q.Place).
		Str("origin", evacuation.FormatCoordinate(q.Origin)).
		Str("destination", evacuation.FormatCoordinate(q.Destination)).
		Dur("duration", elapsed).
		Msg("evacuation query failed")
}

func outcomeFor(err error) string {
	if errors.Is(err, evacuation.ErrNoPathFound) {
		return telemetry.OutcomeNoPath
	}
	return telemetry.OutcomeFailure
}

// Snapshot returns a copy of the current display state.
func (c *Controller) Snapshot() DisplayState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Reset clears the display state. A response still in flight is discarded
// when it arrives.
func (c *Controller) Reset() DisplayState {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := c.state.Sequence + 1
	c.state = emptyState(c.clock.Now())
	c.state.Sequence = seq
	c.notifyLocked()
	return c.state.clone()
}

// Subscribe returns a channel that receives the current state and then every
// change. Slow readers only see the latest state. The returned function
// unsubscribes and closes the channel. After Close the channel carries the
// current state and is then closed.
func (c *Controller) Subscribe() (<-chan DisplayState, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan DisplayState, 1)
	ch <- c.state.clone()
	if c.closed {
		close(ch)
		return ch, func() {}
	}

	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

// Close unsubscribes every observer and refuses new ones.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}

// active reports whether a query is in flight or anyone is watching.
func (c *Controller) active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Busy || len(c.subs) > 0
}

func (c *Controller) setNoPathLocked() {
	c.state.NoPathFound = true
	c.state.Path = [][2]float64{}
	c.state.FloodedZones = [][][2]float64{}
	c.state.DistanceMeters = 0
	c.state.EncodedPolyline = ""
}

func (c *Controller) setResultLocked(res *evacuation.Result) {
	path := make([][2]float64, len(res.Path))
	for i, p := range res.Path {
		path[i] = p.Pair()
	}

	zones := make([][][2]float64, 0, len(res.FloodedZones))
	for _, zone := range res.FloodedZones {
		ring := make([][2]float64, len(zone))
		for i, p := range zone {
			ring[i] = p.Pair()
		}
		zones = append(zones, ring)
	}

	c.state.NoPathFound = false
	c.state.Path = path
	c.state.FloodedZones = zones
	c.state.DistanceMeters = polyline.Length(path)
	c.state.EncodedPolyline = polyline.Encode(path)
}

// touchLocked stamps the state and publishes it. Callers must hold c.mu.
func (c *Controller) touchLocked() {
	c.state.UpdatedAt = c.clock.Now()
	c.notifyLocked()
}

// notifyLocked replaces any unread value in each subscriber's buffer.
func (c *Controller) notifyLocked() {
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- c.state.clone()
	}
}

func emptyState(now time.Time) DisplayState {
	return DisplayState{
		Path:         [][2]float64{},
		FloodedZones: [][][2]float64{},
		UpdatedAt:    now,
	}
}

func (s DisplayState) clone() DisplayState {
	out := s
	out.Path = append([][2]float64{}, s.Path...)
	out.FloodedZones = make([][][2]float64, len(s.FloodedZones))
	for i, zone := range s.FloodedZones {
		out.FloodedZones[i] = append([][2]float64{}, zone...)
	}
	return out
}
