package tiler

import (
	"github.com/tilerspace/tilermgr/memutils"
)

// Statistics returns basic occupancy numbers across every container.
func (m *Manager) Statistics() memutils.Statistics {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var stats memutils.Statistics
	for _, c := range m.containers {
		stats.ContainerCount++
		stats.ContainerBytes += c.sizeBytes()
	}
	m.registry.visitAll(func(block *blockInfo) bool {
		stats.BlockCount++
		stats.BlockBytes += block.span()
		return false
	})
	return stats
}

// DetailedStatistics additionally walks every container's free space. It is more
// expensive than Statistics and is meant for diagnostics.
func (m *Manager) DetailedStatistics() memutils.DetailedStatistics {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var stats memutils.DetailedStatistics
	stats.Clear()

	for _, c := range m.containers {
		c.area.addDetailedStatistics(&stats)
	}
	m.registry.visitAll(func(block *blockInfo) bool {
		stats.AddBlock(block.span())
		return false
	})
	return stats
}
