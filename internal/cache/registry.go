package cache

import "sync"

var (
	registryMu sync.Mutex
	instance   *Manager
	pending    *Config
)

// Configure records the Config used to build the shared instance. It must
// run before the first GetInstance; afterwards it returns
// ErrAlreadyInitialized and the shared instance is left untouched.
func Configure(cfg Config) error {
	registryMu.Lock()
	defer registryMu.Unlock()

	if instance != nil {
		return ErrAlreadyInitialized
	}
	pending = &cfg
	return nil
}

// GetInstance returns the process-wide manager, building it on first use.
// Every call returns the same pointer.
func GetInstance() *Manager {
	registryMu.Lock()
	defer registryMu.Unlock()

	if instance == nil {
		var cfg Config
		if pending != nil {
			cfg = *pending
		}
		instance = New(cfg)
	}
	return instance
}
