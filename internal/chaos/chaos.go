// Package chaos provides fault injection for relay endpoints.
package chaos

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/postalsys/udp-relay/internal/message"
)

// ErrInjected is returned by a FaultyEndpoint send that hit FaultError.
var ErrInjected = errors.New("chaos: injected fault")

// FaultType represents the type of fault to inject.
type FaultType int

const (
	// FaultNone means no fault was selected.
	FaultNone FaultType = iota - 1
	// FaultDrop silently discards a datagram, like loss on the wire.
	FaultDrop
	// FaultDelay adds latency to operations.
	FaultDelay
	// FaultPanic causes a panic in the calling goroutine.
	FaultPanic
	// FaultError causes an operation to return ErrInjected.
	FaultError
)

// String returns the fault name.
func (t FaultType) String() string {
	switch t {
	case FaultDrop:
		return "drop"
	case FaultDelay:
		return "delay"
	case FaultPanic:
		return "panic"
	case FaultError:
		return "error"
	default:
		return "none"
	}
}

// FaultConfig configures fault injection behavior.
type FaultConfig struct {
	// Probability is the chance of fault injection (0.0 to 1.0).
	Probability float64

	// Type is the type of fault to inject.
	Type FaultType

	// MinDelay and MaxDelay bound the latency added by FaultDelay.
	MinDelay time.Duration
	MaxDelay time.Duration
}

// FaultInjector decides which fault, if any, hits an operation.
type FaultInjector struct {
	configs   []FaultConfig
	mu        sync.RWMutex
	rng       *rand.Rand
	faultHits map[FaultType]int64
}

// NewFaultInjector creates a fault injector.
func NewFaultInjector(configs ...FaultConfig) *FaultInjector {
	return &FaultInjector{
		configs:   configs,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		faultHits: make(map[FaultType]int64),
	}
}

// MaybeInject returns the first configured fault whose probability hits,
// or FaultNone. A FaultDelay hit also returns the delay to apply.
func (f *FaultInjector) MaybeInject() (FaultType, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, config := range f.configs {
		if f.rng.Float64() >= config.Probability {
			continue
		}
		f.faultHits[config.Type]++
		if config.Type == FaultDelay {
			return FaultDelay, f.randomDelay(config.MinDelay, config.MaxDelay)
		}
		return config.Type, 0
	}

	return FaultNone, 0
}

// GetStats returns the number of hits per fault type.
func (f *FaultInjector) GetStats() map[FaultType]int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make(map[FaultType]int64, len(f.faultHits))
	for k, v := range f.faultHits {
		stats[k] = v
	}
	return stats
}

// randomDelay must be called with f.mu held.
func (f *FaultInjector) randomDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(f.rng.Int63n(int64(max-min)))
}

// Endpoint is the polling surface of a relay.
type Endpoint interface {
	TrySend(msg message.Message) error
	TryRecv() (message.Message, error)
}

// FaultyEndpoint injects faults into the sends of a wrapped Endpoint.
// Receives pass through untouched.
type FaultyEndpoint struct {
	Endpoint
	injector *FaultInjector
}

// Wrap returns ep with injector applied to every TrySend.
func Wrap(ep Endpoint, injector *FaultInjector) *FaultyEndpoint {
	return &FaultyEndpoint{Endpoint: ep, injector: injector}
}

// TrySend reports success for dropped messages, so the caller cannot tell
// them from datagrams lost in transit.
func (e *FaultyEndpoint) TrySend(msg message.Message) error {
	fault, delay := e.injector.MaybeInject()
	switch fault {
	case FaultDrop:
		return nil
	case FaultError:
		return ErrInjected
	case FaultPanic:
		panic("chaos: injected panic")
	case FaultDelay:
		time.Sleep(delay)
	}
	return e.Endpoint.TrySend(msg)
}

// Injector returns the injector driving e.
func (e *FaultyEndpoint) Injector() *FaultInjector {
	return e.injector
}
