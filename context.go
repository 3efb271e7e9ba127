package mediasan

import "context"

// contextInput makes every read and skip a cancellation point. All
// computation between I/O operations is deterministic, so wrapping an
// input this way yields byte-identical results to the unwrapped path.
type contextInput struct {
	ctx context.Context
	in  Input
}

// WithContext returns an Input that checks ctx before every ReadInto,
// Skip, and Drain. A cancelled context surfaces as an ErrIO-kind error
// wrapping ctx.Err().
func WithContext(ctx context.Context, in Input) Input {
	return &contextInput{ctx: ctx, in: in}
}

func (c *contextInput) ReadInto(p []byte) error {
	if err := c.ctx.Err(); err != nil {
		return IOError(c.in.Pos(), err)
	}
	return c.in.ReadInto(p)
}

func (c *contextInput) Skip(n uint64) error {
	if err := c.ctx.Err(); err != nil {
		return IOError(c.in.Pos(), err)
	}
	return c.in.Skip(n)
}

func (c *contextInput) Drain() (uint64, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, IOError(c.in.Pos(), err)
	}
	return c.in.Drain()
}

func (c *contextInput) Pos() uint64 {
	return c.in.Pos()
}
