package location

import "context"

// DefaultSelector prefers the fused backend and falls back to polling.
type DefaultSelector struct {
	Fused   *FusedBackend
	Polling *PollingBackend
}

func (s DefaultSelector) Select(ctx context.Context) Backend {
	if s.Fused.Available(ctx) {
		return s.Fused
	}
	if s.Polling != nil {
		return s.Polling
	}
	return nil
}
