package domain

import "context"

// NoopBalancer is a MemoryBalancer that always grants the requested
// memory and never reclaims it. The real qmemman-equivalent daemon is
// out of scope (the same boundary pkg/qubesdb draws around the real
// qubesdb transport) — this keeps Start/Shutdown's grant/release calls
// meaningful against the interface without requiring that daemon to
// exist for the lifecycle procedures to be exercised.
type NoopBalancer struct{}

func (NoopBalancer) Request(_ context.Context, _ string, _ uint64) error { return nil }
func (NoopBalancer) Release(_ context.Context, _ string)                 {}
