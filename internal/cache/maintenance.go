package cache

import "time"

// expiryLoop periodically purges expired entries from memory and from the
// backing store until Close.
func (m *Manager) expiryLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if n := m.Purge(); n > 0 {
				m.log.Debug("purged expired entries", "count", n)
			}
			if n := m.tier.purge(m.now()); n > 0 {
				m.log.Debug("purged expired persisted records", "count", n)
			}
		}
	}
}
