package benchmarks

import "context"

// NaiveStack is the comparison baseline: an unbounded undo stack with no
// events, no snapshots, no guard, and no redo invalidation. It marks the
// floor the engine's overhead is measured against.
type NaiveStack struct {
	undo []func(context.Context) error
	redo []func(context.Context) error
}

func NewNaiveStack() *NaiveStack {
	return &NaiveStack{}
}

func (s *NaiveStack) Execute(ctx context.Context, do, undo func(context.Context) error) error {
	if err := do(ctx); err != nil {
		return err
	}
	s.undo = append(s.undo, undo)
	s.redo = s.redo[:0]
	return nil
}

func (s *NaiveStack) Undo(ctx context.Context) bool {
	if len(s.undo) == 0 {
		return false
	}
	fn := s.undo[len(s.undo)-1]
	if err := fn(ctx); err != nil {
		return false
	}
	s.undo = s.undo[:len(s.undo)-1]
	s.redo = append(s.redo, fn)
	return true
}

func (s *NaiveStack) Len() int { return len(s.undo) }
