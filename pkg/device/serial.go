package device

import (
	"context"
	"sync"
)

// Serial wraps an adapter so that exchanges are serialized per device name:
// two actions targeting the same device never execute concurrently, even from
// different parallel branches. Different devices proceed independently.
//
// An optional Locker extends the guarantee across processes sharing lab
// devices; the in-process mutex is always held first, so one misbehaving
// runner cannot starve its own branches.
type Serial struct {
	adapter Adapter
	locker  Locker

	mu      sync.Mutex
	devices map[string]*sync.Mutex
}

// NewSerial wraps adapter with per-device serialization. locker may be nil.
func NewSerial(adapter Adapter, locker Locker) *Serial {
	return &Serial{
		adapter: adapter,
		locker:  locker,
		devices: make(map[string]*sync.Mutex),
	}
}

// Execute implements Adapter, holding the device's lock for the full
// duration of the exchange.
func (s *Serial) Execute(ctx context.Context, req *Request) (*Response, error) {
	lock := s.deviceLock(req.Device)
	lock.Lock()
	defer lock.Unlock()

	if s.locker != nil {
		if err := s.locker.Acquire(ctx, req.Device); err != nil {
			return nil, err
		}
		defer s.locker.Release(context.Background(), req.Device)
	}

	return s.adapter.Execute(ctx, req)
}

// Capabilities implements CapabilityReporter when the wrapped adapter does.
func (s *Serial) Capabilities(device string) []string {
	if cr, ok := s.adapter.(CapabilityReporter); ok {
		return cr.Capabilities(device)
	}
	return nil
}

// Close implements Adapter.
func (s *Serial) Close() error {
	return s.adapter.Close()
}

func (s *Serial) deviceLock(device string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.devices[device]
	if !ok {
		lock = &sync.Mutex{}
		s.devices[device] = lock
	}
	return lock
}
