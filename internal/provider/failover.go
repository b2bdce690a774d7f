package provider

import (
	"context"
	"fmt"
	"iter"
	"sync/atomic"
)

// Failover prefers the primary generator and switches to the fallback when a
// primary stream fails before its first token. Once the fallback has served a
// request it stays active until it fails the same way; then primary is tried
// again. Errors after text has been streamed are returned as is.
type Failover struct {
	primary        Generator
	fallback       Generator
	fallbackActive atomic.Bool
}

func NewFailover(primary, fallback Generator) *Failover {
	return &Failover{primary: primary, fallback: fallback}
}

func (f *Failover) Name() string {
	return NameOf(f.primary) + "+" + NameOf(f.fallback)
}

// FallbackActive reports whether requests currently start on the fallback.
func (f *Failover) FallbackActive() bool { return f.fallbackActive.Load() }

// Generate implements Generator.
func (f *Failover) Generate(ctx context.Context, messages []Message, cfg GenerationConfig) (iter.Seq2[string, error], error) {
	first, second := f.primary, f.fallback
	fromFallback := f.fallbackActive.Load()
	if fromFallback {
		first, second = second, first
	}
	return func(yield func(string, error) bool) {
		started, err := stream(ctx, first, messages, cfg, yield)
		if err == nil || started {
			if err != nil {
				yield("", err)
			}
			return
		}
		started, err2 := stream(ctx, second, messages, cfg, yield)
		if err2 == nil {
			f.fallbackActive.Store(!fromFallback)
			return
		}
		if !started {
			err2 = fmt.Errorf("%s failed: %v; %s failed: %w", NameOf(first), err, NameOf(second), err2)
		}
		yield("", err2)
	}, nil
}

// stream forwards g's tokens to yield and reports whether any were sent.
func stream(ctx context.Context, g Generator, messages []Message, cfg GenerationConfig, yield func(string, error) bool) (bool, error) {
	seq, err := g.Generate(ctx, messages, cfg)
	if err != nil {
		return false, err
	}
	started := false
	for tok, err := range seq {
		if err != nil {
			return started, err
		}
		started = true
		if !yield(tok, nil) {
			return true, nil
		}
	}
	return started, nil
}
