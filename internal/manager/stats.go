package manager

import (
	"time"

	"analyzerd/pkg/types"
)

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// Stats builds the response for /stats. Memory usage is read fresh.
func (m *Manager) Stats() types.StatsResponse {
	now := m.now()
	resp := types.StatsResponse{
		LoadsTotal:     m.registry.loadsTotal.Load(),
		EvictionsTotal: m.registry.evictionsTotal.Load(),
		AnalyzeTotal:   m.requests.Load(),
		UptimeSeconds:  int64(now.Sub(m.startTime).Seconds()),
		ServerTimeUnix: now.Unix(),
	}

	snap := m.registry.Snapshot()
	resp.Kinds = make([]types.SlotStatus, 0, len(snap))
	for _, st := range snap {
		resp.Kinds = append(resp.Kinds, types.SlotStatus{
			Kind:                st.Kind.String(),
			State:               string(st.State),
			Priority:            st.Priority,
			EstimateBytes:       st.EstimateBytes,
			LoadedAt:            unixOrZero(st.LoadedAt),
			LastUsed:            unixOrZero(st.LastUsedAt),
			LastError:           st.LastError,
			Loads:               st.Loads,
			Failures:            st.Failures,
			ConsecutiveFailures: st.ConsecutiveFailures,
			Evictions:           st.Evictions,
			Inflight:            st.Inflight,
		})
	}

	cs := m.cache.Stats()
	resp.Cache = types.CacheStats{
		Size:        cs.Size,
		MaxEntries:  cs.MaxEntries,
		TTLSeconds:  cs.TTLSeconds,
		Hits:        cs.Hits,
		Misses:      cs.Misses,
		HitRate:     cs.HitRate,
		Evictions:   cs.Evictions,
		Expirations: cs.Expirations,
	}

	resp.Memory = types.MemoryStats{
		Source:       m.cfg.MemorySource,
		LimitBytes:   m.monitor.Limit(),
		PendingBytes: m.registry.PendingBytes(),
	}
	if usage, err := m.monitor.CurrentUsageBytes(); err != nil {
		resp.Memory.Error = err.Error()
	} else {
		resp.Memory.UsageBytes = usage
		resp.Memory.OverBudget = !m.monitor.Unlimited() && usage > m.monitor.Limit()
	}

	resp.Loader = types.LoaderStats{
		Running:           m.loader.IsRunning(),
		Active:            m.loader.IsActive(),
		Paused:            m.loader.IsPaused(),
		PausedForPressure: m.pressurePaused.Load(),
	}
	if k := m.loader.Current(); k != 0 {
		resp.Loader.Current = k.String()
	}
	return resp
}
