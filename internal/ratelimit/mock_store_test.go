package ratelimit_test

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errMock = errors.New("mock error")

// fakeRequest is a test double for ratelimit.Request.
type fakeRequest struct {
	method string
	addr   string
	fields map[string]string
}

func (r fakeRequest) Method() string                { return r.method }
func (r fakeRequest) RemoteAddr() string            { return r.addr }
func (r fakeRequest) FieldValue(name string) string { return r.fields[name] }

func post(addr, username string) fakeRequest {
	return fakeRequest{method: "POST", addr: addr, fields: map[string]string{"username": username}}
}

func get(addr string) fakeRequest {
	return fakeRequest{method: "GET", addr: addr}
}

// testClock is a settable clock for bucket timestamps.
type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 10, 16, 12, 0, 30, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// plainStore is a ratelimit.Store without an atomic increment.
// It counts calls and can be configured to fail.
type plainStore struct {
	mu       sync.Mutex
	counters map[string]int64
	expiries map[string]time.Duration
	getErr   error
	setErr   error
	getCalls int
	setCalls int
}

func newPlainStore() *plainStore {
	return &plainStore{
		counters: make(map[string]int64),
		expiries: make(map[string]time.Duration),
	}
}

func (s *plainStore) GetMany(_ context.Context, keys []string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.getCalls++

	if s.getErr != nil {
		return nil, s.getErr
	}

	result := make(map[string]int64)

	for _, key := range keys {
		if v, ok := s.counters[key]; ok {
			result[key] = v
		}
	}

	return result, nil
}

func (s *plainStore) Set(_ context.Context, key string, value int64, expiry time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setCalls++

	if s.setErr != nil {
		return s.setErr
	}

	s.counters[key] = value
	s.expiries[key] = expiry

	return nil
}

func (s *plainStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.getCalls + s.setCalls
}

func (s *plainStore) value(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.counters[key]
}

// atomicStore adds an Incrementer to plainStore.
type atomicStore struct {
	*plainStore
	incErr   error
	incCalls int
}

func newAtomicStore() *atomicStore {
	return &atomicStore{plainStore: newPlainStore()}
}

func (s *atomicStore) Increment(_ context.Context, key string, expiry time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.incCalls++

	if s.incErr != nil {
		return 0, s.incErr
	}

	if _, ok := s.counters[key]; !ok {
		s.expiries[key] = expiry
	}

	s.counters[key]++

	return s.counters[key], nil
}
