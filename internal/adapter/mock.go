package adapter

import "time"

// Mock is a test double for Adapter. Unset functions fall back to a stably
// idle, always-accepting adapter with no output.
type Mock struct {
	IdleStateFunc   func() (bool, time.Time)
	InjectFunc      func(text string) error
	OutputSinceFunc func(m Marker) string
	MarkerFunc      func() Marker
	AliveFunc       func() bool
	CloseFunc       func() error
}

func (m *Mock) IdleState() (bool, time.Time) {
	if m.IdleStateFunc != nil {
		return m.IdleStateFunc()
	}
	return true, time.Now().Add(-time.Hour)
}

func (m *Mock) Inject(text string) error {
	if m.InjectFunc != nil {
		return m.InjectFunc(text)
	}
	return nil
}

func (m *Mock) OutputSince(mk Marker) string {
	if m.OutputSinceFunc != nil {
		return m.OutputSinceFunc(mk)
	}
	return ""
}

func (m *Mock) Marker() Marker {
	if m.MarkerFunc != nil {
		return m.MarkerFunc()
	}
	return 0
}

func (m *Mock) Alive() bool {
	if m.AliveFunc != nil {
		return m.AliveFunc()
	}
	return true
}

func (m *Mock) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}
