package app

import (
	"encoding/json"
	"sync/atomic"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/metrics"
	"github.com/dkeye/Relay/internal/session"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

const DefaultNotifyWorkers = 8

// Event is a room-level notification sent over signaling.
type Event struct {
	Type     string         `json:"type"`
	Room     domain.RoomID  `json:"room"`
	User     domain.UserID  `json:"user,omitempty"`
	Username string         `json:"username,omitempty"`
	Session  core.SessionID `json:"session,omitempty"`
}

// Notifier fans events out to the sessions that subscribed to them.
type Notifier struct {
	router  *Router
	workers int
	metrics *metrics.Metrics
}

func NewNotifier(router *Router, workers int, m *metrics.Metrics) *Notifier {
	if workers <= 0 {
		workers = DefaultNotifyWorkers
	}
	return &Notifier{router: router, workers: workers, metrics: m}
}

// Notify sends ev to every notify target in ev.Room except the origin's user
// and returns how many sessions accepted it. Full queues and sessions
// released since the snapshot are skipped.
func (n *Notifier) Notify(origin *session.Session, ev Event) int {
	targets := n.router.NotifyTargets(ev.Room, origin)
	if len(targets) == 0 {
		return 0
	}
	b, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "app.notifier").Msg("marshal event")
		return 0
	}

	var sent atomic.Int64
	p := pool.New().WithMaxGoroutines(n.workers)
	for _, t := range targets {
		t := t
		p.Go(func() {
			if !t.Retain() {
				return
			}
			defer t.Release()
			sig := t.Signal()
			if sig == nil {
				return
			}
			if err := sig.TrySend(b); err != nil {
				log.Debug().Err(err).Str("module", "app.notifier").Str("sid", string(t.ID())).Msg("notification dropped")
				return
			}
			sent.Add(1)
		})
	}
	p.Wait()

	delivered := int(sent.Load())
	n.metrics.Notified(ev.Type, delivered)
	log.Debug().Str("module", "app.notifier").Str("event", ev.Type).Str("room", ev.Room.String()).Int("sent_to", delivered).Msg("notified")
	return delivered
}
