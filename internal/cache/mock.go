package cache

// MockCache is a map-backed Cache for consumer tests. It ignores TTLs
// and records every call by operation name.
type MockCache struct {
	data  map[string]any
	Calls map[string]int
}

var _ Cache = (*MockCache)(nil)

// NewMockCache creates a new mock cache for testing.
func NewMockCache() *MockCache {
	return &MockCache{
		data:  make(map[string]any),
		Calls: make(map[string]int),
	}
}

func (m *MockCache) Get(namespace, key string, params any) (any, bool) {
	m.Calls["get"]++
	val, found := m.data[GenerateKey(namespace, key, params)]
	return val, found
}

func (m *MockCache) Set(namespace, key string, value any, _ *SetConfig, params any) {
	m.Calls["set"]++
	m.data[GenerateKey(namespace, key, params)] = value
}

func (m *MockCache) Has(namespace, key string, params any) bool {
	m.Calls["has"]++
	_, found := m.data[GenerateKey(namespace, key, params)]
	return found
}

func (m *MockCache) Delete(namespace, key string, params any) {
	m.Calls["delete"]++
	delete(m.data, GenerateKey(namespace, key, params))
}

// Len returns the number of stored values.
func (m *MockCache) Len() int {
	return len(m.data)
}
