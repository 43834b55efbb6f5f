package gateway

import (
	"github.com/rickgao/exchange-gateway/internal/cache"
	"github.com/rickgao/exchange-gateway/internal/model"
	"github.com/rickgao/exchange-gateway/internal/monitor"
	"github.com/rickgao/exchange-gateway/internal/queue"
	"github.com/rickgao/exchange-gateway/internal/tasks"
	"github.com/rickgao/exchange-gateway/internal/worker"
)

// Stats is a point-in-time view of the gateway.
type Stats struct {
	Queue     queue.Stats                 `json:"queue"`
	Cache     cache.Stats                 `json:"cache"`
	Tasks     int                         `json:"tasks"`
	Running   []tasks.Info                `json:"running"`
	Schedules []worker.ScheduleInfo       `json:"schedules"`
	Pools     map[string]model.PoolSample `json:"pools"` // latest sample per pool
	Degraded  bool                        `json:"degraded"`
}

// Stats returns the gateway's counters.
func (g *Gateway) Stats() Stats {
	s := Stats{
		Queue:     g.queue.Stats(),
		Cache:     g.cache.Stats(),
		Tasks:     g.tracker.Len(),
		Running:   g.tracker.Snapshot(),
		Schedules: g.workers.Schedules(),
		Pools:     make(map[string]model.PoolSample, len(g.monitors)),
		Degraded:  g.degraded(),
	}
	for _, m := range g.monitors {
		if sample, ok := m.Latest(); ok {
			s.Pools[m.Pool()] = sample
		}
	}
	return s
}

// PoolHistory returns the retained samples and breaches of the named pool.
func (g *Gateway) PoolHistory(pool string) (monitor.History, bool) {
	for _, m := range g.monitors {
		if m.Pool() == pool {
			return m.History(), true
		}
	}
	return monitor.History{}, false
}
