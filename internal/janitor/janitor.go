// Package janitor implements the single background worker that periodically
// sweeps expired services, locks, and channel messages, detects stale/dead
// agents, and trims the activity log. The only state it keeps across ticks
// is the time of its last daily retention sweep, and it is safe to restart
// at any time.
package janitor

import (
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/portdaddy/daemon/internal/activity"
	"github.com/portdaddy/daemon/internal/agents"
	"github.com/portdaddy/daemon/internal/hub"
	"github.com/portdaddy/daemon/internal/locks"
	"github.com/portdaddy/daemon/internal/pubsub"
	"github.com/portdaddy/daemon/internal/resurrection"
	"github.com/portdaddy/daemon/internal/services"
	"github.com/portdaddy/daemon/internal/webhooks"
)

const (
	tickInterval    = 5 * time.Second
	dailySweepEvery = 24 * time.Hour
)

// Config wires the janitor to every subsystem it sweeps.
type Config struct {
	DB                    *sql.DB
	Services              *services.Manager
	Locks                 *locks.Manager
	PubSub                *pubsub.Broker
	Agents                *agents.Manager
	Resurrection          *resurrection.Store
	Webhooks              *webhooks.Dispatcher
	Activity              *activity.Log
	Hub                   *hub.Hub
	AgentTTL              time.Duration
	StaleAfter            time.Duration
	DeadAfter             time.Duration
	ResurrectionRetention time.Duration
}

// Janitor runs the periodic sweep.
type Janitor struct {
	cfg Config

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	lastDailySweep time.Time
}

// New builds a Janitor. Call Start to begin ticking.
func New(cfg Config) *Janitor {
	return &Janitor{cfg: cfg, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
}

// Start begins the tick loop in a new goroutine.
func (j *Janitor) Start() {
	go j.run()
}

// Stop signals the tick loop to exit and waits for it.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
	<-j.doneCh
}

func (j *Janitor) run() {
	defer close(j.doneCh)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.tick()
		case <-j.stopCh:
			return
		}
	}
}

// tick runs the five passes in order, per spec §4.9, plus a daily retention
// sweep of webhook deliveries and aged-out resurrection entries.
func (j *Janitor) tick() {
	j.expireServices()
	j.expireLocks()
	j.expireChannelMessages()
	j.sweepAgents()
	j.trimActivity()
	j.dailySweep()
}

// dailySweep runs the retention-window deletes that only need to happen
// once a day: old webhook deliveries and aged-out resurrection entries.
func (j *Janitor) dailySweep() {
	now := time.Now()
	if !j.lastDailySweep.IsZero() && now.Sub(j.lastDailySweep) < dailySweepEvery {
		return
	}
	j.lastDailySweep = now

	if j.cfg.Webhooks != nil {
		if n, err := j.cfg.Webhooks.SweepOld(); err != nil {
			slog.Error("janitor: sweep old webhook deliveries failed", "error", err)
		} else if n > 0 {
			slog.Info("janitor: swept old webhook deliveries", "count", n)
		}
	}

	if j.cfg.Resurrection != nil && j.cfg.ResurrectionRetention > 0 {
		cutoff := now.Add(-j.cfg.ResurrectionRetention).UnixMilli()
		if n, err := j.cfg.Resurrection.ExpireBefore(cutoff); err != nil {
			slog.Error("janitor: expire aged resurrection entries failed", "error", err)
		} else if n > 0 {
			slog.Info("janitor: expired aged resurrection entries", "count", n)
		}
	}
}

func (j *Janitor) expireServices() {
	n, err := j.cfg.Services.Release("*", services.ReleaseOptions{Expired: true})
	if err != nil {
		slog.Error("janitor: expire services failed", "error", err)
		return
	}
	if n > 0 {
		j.cfg.Hub.Emit("service.release", "", "", "janitor expired services", map[string]int{"count": n})
	}
}

func (j *Janitor) expireLocks() {
	// Locks also sweep their own expiry on every read/write, so rows a
	// request already swept before this tick produce no event here.
	res, err := j.cfg.DB.Exec("DELETE FROM locks WHERE expires_at IS NOT NULL AND expires_at <= ?", time.Now().UnixMilli())
	if err != nil {
		slog.Error("janitor: expire locks failed", "error", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		j.cfg.Hub.Emit("lock.expire", "", "", "janitor expired locks", map[string]int64{"count": n})
	}
}

func (j *Janitor) expireChannelMessages() {
	n, err := j.cfg.PubSub.ExpireBefore(time.Now().UnixMilli())
	if err != nil {
		slog.Error("janitor: expire channel messages failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("janitor: expired channel messages", "count", n)
	}
}

func (j *Janitor) sweepAgents() {
	now := time.Now()

	stale, err := j.cfg.Agents.StaleAgents(now.Add(-j.cfg.AgentTTL))
	if err != nil {
		slog.Error("janitor: stale agent scan failed", "error", err)
		return
	}

	for _, a := range stale {
		lastHeartbeat := time.UnixMilli(a.LastHeartbeat)
		age := now.Sub(lastHeartbeat)

		currentStatus, hasEntry, err := j.cfg.Resurrection.StatusOf(a.ID)
		if err != nil {
			slog.Error("janitor: lookup resurrection status failed", "agent", a.ID, "error", err)
			continue
		}

		j.releaseAgentLocks(a.ID)

		switch {
		case age >= j.cfg.DeadAfter:
			// The agent row is kept through the stale window specifically so
			// this branch still sees it; only delete it once it has been
			// promoted to pending, handing it off to the resurrection queue.
			if hasEntry && currentStatus == resurrection.StatusPending {
				continue
			}
			if !hasEntry {
				if err := j.cfg.Resurrection.Upsert(resurrection.Entry{
					AgentID: a.ID, Name: a.Name, Project: a.Project, Stack: a.Stack, Context: a.Context,
					Purpose: a.Purpose, Status: resurrection.StatusStale,
				}); err != nil {
					slog.Error("janitor: upsert resurrection entry failed", "agent", a.ID, "error", err)
					continue
				}
			}
			if err := j.cfg.Resurrection.UpdateStatus(a.ID, resurrection.StatusPending); err != nil {
				slog.Error("janitor: promote to pending failed", "agent", a.ID, "error", err)
				continue
			}
			j.cfg.Hub.Emit("agent.dead", a.ID, a.ID, "agent heartbeat missing past dead threshold", nil)
			if err := j.cfg.Agents.DeleteAgent(a.ID); err != nil {
				slog.Error("janitor: delete dead agent failed", "agent", a.ID, "error", err)
			}

		case age >= j.cfg.StaleAfter:
			if hasEntry {
				continue
			}
			if err := j.cfg.Resurrection.Upsert(resurrection.Entry{
				AgentID: a.ID, Name: a.Name, Project: a.Project, Stack: a.Stack, Context: a.Context,
				Purpose: a.Purpose, Status: resurrection.StatusStale,
			}); err != nil {
				slog.Error("janitor: upsert resurrection entry failed", "agent", a.ID, "error", err)
				continue
			}
			j.cfg.Hub.Emit("agent.stale", a.ID, a.ID, "agent heartbeat missing past stale threshold", nil)
			// The agent row is intentionally kept (not deleted) here: it must
			// still be returned by StaleAgents on a later tick so this sweep
			// can escalate it to dead and promote it to pending.
		}
	}
}

// releaseAgentLocks force-releases every lock owned by agentID. Locks don't
// support pattern deletion the way services do, so this lists by owner and
// releases each by name.
func (j *Janitor) releaseAgentLocks(agentID string) {
	held, err := j.cfg.Locks.List(agentID)
	if err != nil {
		slog.Error("janitor: list agent locks failed", "agent", agentID, "error", err)
		return
	}
	for _, l := range held {
		if _, err := j.cfg.Locks.Release(l.Name, locks.ReleaseOptions{Force: true}); err != nil {
			slog.Error("janitor: force-release lock failed", "agent", agentID, "lock", l.Name, "error", err)
		}
	}
}

func (j *Janitor) trimActivity() {
	if err := j.cfg.Activity.Trim(); err != nil {
		slog.Error("janitor: trim activity log failed", "error", err)
	}
}
