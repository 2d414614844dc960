package storage

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// StreamEntry is a message recorded by MockRedisClient.PublishToStream
type StreamEntry struct {
	Stream string
	Key    string
	Value  string
}

// MockRedisClient is an in-memory implementation of RedisClient for testing.
// Values are JSON-encoded on write like the real client.
type MockRedisClient struct {
	mu sync.Mutex

	Data      map[string]string
	Sets      map[string]map[string]struct{}
	Lists     map[string][]string
	Streams   []StreamEntry
	Published []PubSubMessage

	PublishErr error
	GetErr     error
	SetErr     error
	DeleteErr  error
	PingErr    error
}

func NewMockRedisClient() *MockRedisClient {
	return &MockRedisClient{
		Data:  make(map[string]string),
		Sets:  make(map[string]map[string]struct{}),
		Lists: make(map[string][]string),
	}
}

func (m *MockRedisClient) PublishToStream(ctx context.Context, stream string, key string, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PublishErr != nil {
		return m.PublishErr
	}
	jsonData, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.Streams = append(m.Streams, StreamEntry{Stream: stream, Key: key, Value: string(jsonData)})
	return nil
}

func (m *MockRedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return m.SetErr
	}
	jsonData, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.Data[key] = string(jsonData)
	return nil
}

// SetRaw stores a value without JSON encoding, for seeding fixtures
func (m *MockRedisClient) SetRaw(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Data[key] = value
}

func (m *MockRedisClient) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return "", m.GetErr
	}
	return m.Data[key], nil
}

func (m *MockRedisClient) GetJSON(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return m.GetErr
	}
	value, exists := m.Data[key]
	if !exists {
		return nil
	}
	return json.Unmarshal([]byte(value), dest)
}

func (m *MockRedisClient) MGet(ctx context.Context, keys ...string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	out := make([]string, len(keys))
	for i, key := range keys {
		out[i] = m.Data[key]
	}
	return out, nil
}

func (m *MockRedisClient) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.Data, key)
	delete(m.Lists, key)
	delete(m.Sets, key)
	return nil
}

func (m *MockRedisClient) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.Data[key]
	return exists, nil
}

func (m *MockRedisClient) SetAdd(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return m.SetErr
	}
	if m.Sets[key] == nil {
		m.Sets[key] = make(map[string]struct{})
	}
	for _, member := range members {
		m.Sets[key][member] = struct{}{}
	}
	return nil
}

func (m *MockRedisClient) SetMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	members := make([]string, 0, len(m.Sets[key]))
	for member := range m.Sets[key] {
		members = append(members, member)
	}
	sort.Strings(members)
	return members, nil
}

func (m *MockRedisClient) SetRemove(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	for _, member := range members {
		delete(m.Sets[key], member)
	}
	return nil
}

func (m *MockRedisClient) ListPush(ctx context.Context, key string, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return m.SetErr
	}
	jsonData, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.Lists[key] = append([]string{string(jsonData)}, m.Lists[key]...)
	return nil
}

func (m *MockRedisClient) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	list := m.Lists[key]
	lo, hi, ok := listBounds(len(list), start, stop)
	if !ok {
		return []string{}, nil
	}
	out := make([]string, hi-lo+1)
	copy(out, list[lo:hi+1])
	return out, nil
}

func (m *MockRedisClient) ListTrim(ctx context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.Lists[key]
	lo, hi, ok := listBounds(len(list), start, stop)
	if !ok {
		delete(m.Lists, key)
		return nil
	}
	m.Lists[key] = append([]string(nil), list[lo:hi+1]...)
	return nil
}

// listBounds resolves Redis-style inclusive, possibly negative, indices
func listBounds(n int, start, stop int64) (int, int, bool) {
	if start < 0 {
		start += int64(n)
	}
	if stop < 0 {
		stop += int64(n)
	}
	if start < 0 {
		start = 0
	}
	if stop >= int64(n) {
		stop = int64(n) - 1
	}
	if n == 0 || start > stop {
		return 0, 0, false
	}
	return int(start), int(stop), true
}

func (m *MockRedisClient) Publish(ctx context.Context, channel string, message interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PublishErr != nil {
		return m.PublishErr
	}
	jsonData, err := json.Marshal(message)
	if err != nil {
		return err
	}
	m.Published = append(m.Published, PubSubMessage{Channel: channel, Message: string(jsonData)})
	return nil
}

func (m *MockRedisClient) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PingErr
}

func (m *MockRedisClient) Close() error {
	return nil
}
