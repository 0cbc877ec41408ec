package llm

import "context"

// Serialized admits one Generate call at a time to the wrapped
// generator. Waiting callers give up when their context ends. This lock
// is independent of the per-user history lock, so a request holding one
// never waits on the other while holding it.
type Serialized struct {
	next Generator
	slot chan struct{}
}

// Serialize wraps g.
func Serialize(g Generator) *Serialized {
	return &Serialized{next: g, slot: make(chan struct{}, 1)}
}

func (s *Serialized) Generate(ctx context.Context, prompt string) (string, error) {
	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-s.slot }()

	return s.next.Generate(ctx, prompt)
}
