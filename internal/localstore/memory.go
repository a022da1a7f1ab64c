package localstore

import "sync"

// Memory keeps records in process memory. It is used in tests and as a
// fallback when no writable directory is available.
type Memory struct {
	mu      sync.Mutex
	records map[string][]byte
	quota   int64
	used    int64
}

func NewMemory(quota int64) *Memory {
	return &Memory{records: make(map[string][]byte), quota: quota}
}

func (m *Memory) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *Memory) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := int64(len(m.records[key]))
	if err := quotaCheck(m.quota, m.used, old, int64(len(value))); err != nil {
		return err
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	m.records[key] = cp
	m.used += int64(len(value)) - old
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used -= int64(len(m.records[key]))
	delete(m.records, key)
	return nil
}

// SetQuota changes the capacity; tests use it to simulate a full device.
func (m *Memory) SetQuota(quota int64) {
	m.mu.Lock()
	m.quota = quota
	m.mu.Unlock()
}

func (m *Memory) Used() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

func (m *Memory) Close() error { return nil }
