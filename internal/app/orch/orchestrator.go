package orch

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrStopped = errors.New("orchestrator stopped")

// Orchestrator owns the membership table and the connection registry.
// Every event runs on the Run goroutine, one at a time, so no membership
// mutation can interleave with another and frames reach each recipient in
// the order the events were processed.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    *core.MembershipTable
	Policy   app.Policy

	events chan func()
	done   chan struct{}

	// mu guards stopped; submitters hold it shared while enqueueing.
	mu      sync.RWMutex
	stopped bool
	quit    chan struct{}
}

func New(reg *app.Registry, rooms *core.MembershipTable, policy app.Policy, buffer int) *Orchestrator {
	if buffer <= 0 {
		buffer = 256
	}
	return &Orchestrator{
		Registry: reg,
		Rooms:    rooms,
		Policy:   policy,
		events:   make(chan func(), buffer),
		done:     make(chan struct{}),
		quit:     make(chan struct{}),
	}
}

// Run processes events until ctx is cancelled, then closes every open
// connection.
func (o *Orchestrator) Run(ctx context.Context) {
	defer close(o.done)
	log.Info().Str("module", "orch").Msg("event loop started")
	for {
		select {
		case <-ctx.Done():
			o.stop()
			o.shutdown()
			return
		case fn := <-o.events:
			fn()
		}
	}
}

// Done is closed once Run has returned.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

func (o *Orchestrator) submit(fn func()) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.stopped {
		return ErrStopped
	}
	select {
	case o.events <- fn:
		return nil
	case <-o.quit:
		return ErrStopped
	}
}

// stop refuses new events and runs the ones already accepted, so every
// connection bound before shutdown is seen by it.
func (o *Orchestrator) stop() {
	close(o.quit)
	o.mu.Lock()
	o.stopped = true
	o.mu.Unlock()
	for {
		select {
		case fn := <-o.events:
			fn()
		default:
			return
		}
	}
}

func query[T any](ctx context.Context, o *Orchestrator, fn func() T) (T, error) {
	res := make(chan T, 1)
	var zero T
	if err := o.submit(func() { res <- fn() }); err != nil {
		return zero, err
	}
	select {
	case v := <-res:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-o.done:
		return zero, ErrStopped
	}
}

// RoomList returns every live room. Diagnostics only.
func (o *Orchestrator) RoomList(ctx context.Context) ([]core.RoomInfo, error) {
	return query(ctx, o, o.Rooms.Rooms)
}

func (o *Orchestrator) Participants(ctx context.Context, room domain.RoomID) ([]domain.Participant, error) {
	return query(ctx, o, func() []domain.Participant { return o.Rooms.Members(room) })
}

func (o *Orchestrator) ConnectionCount(ctx context.Context) (int, error) {
	return query(ctx, o, o.Registry.Len)
}

func (o *Orchestrator) shutdown() {
	sessions := o.Registry.All()
	for _, s := range sessions {
		s.Conn.Close()
	}
	log.Info().Str("module", "orch").Int("connections", len(sessions)).Msg("event loop stopped")
}

// deliver hands f to one connection. A missing target or an empty frame
// is a no-op.
func (o *Orchestrator) deliver(to domain.ConnID, f core.Frame) bool {
	if len(f) == 0 {
		return false
	}
	sess, ok := o.Registry.Get(to)
	if !ok {
		log.Debug().Str("module", "orch").Str("to", string(to)).Msg("deliver: no such connection")
		return false
	}
	err := sess.Conn.TrySend(f)
	switch {
	case err == nil:
		return true
	case errors.Is(err, core.ErrBackpressure):
		o.onBackPressure(sess)
	default:
		log.Debug().Err(err).Str("module", "orch").Str("to", string(to)).Msg("deliver failed")
	}
	return false
}

func (o *Orchestrator) onBackPressure(sess *app.Session) {
	action := app.DropFrame
	if o.Policy != nil {
		action = o.Policy.OnBackPressure(sess.ID)
	}
	switch action {
	case app.KickMember:
		log.Warn().Str("module", "orch").Str("conn", string(sess.ID)).Msg("slow consumer, closing connection")
		// Closing ends the read loop, which reports the disconnect.
		sess.Conn.Close()
	case app.DropFrame, app.NoAction:
		log.Warn().Str("module", "orch").Str("conn", string(sess.ID)).Msg("slow consumer, frame dropped")
	}
}

// broadcast sends f to every member of room except the sender.
func (o *Orchestrator) broadcast(room domain.RoomID, except domain.ConnID, f core.Frame) int {
	sent := 0
	for _, p := range o.Rooms.ListOthers(room, except) {
		if o.deliver(p.ConnID, f) {
			sent++
		}
	}
	log.Debug().Str("module", "orch").Str("room", string(room)).Str("from", string(except)).Int("sent_to", sent).Msg("broadcast result")
	return sent
}
