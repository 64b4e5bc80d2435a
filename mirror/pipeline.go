package mirror

import (
	"context"
	"fmt"
)

// step is one unit of archive work.
type step struct {
	name string
	run  func(ctx context.Context) error
}

// pipeline runs steps in order and stops at the first failure. Steps that
// already ran are not undone.
type pipeline []step

func (p *pipeline) add(name string, run func(ctx context.Context) error) {
	*p = append(*p, step{name: name, run: run})
}

func (p pipeline) run(ctx context.Context) error {
	for _, s := range p {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.run(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}
