package mesh

import "github.com/san-kum/trajopt/internal/dynamo"

// Option configures Refine.
type Option func(*options) error

type options struct {
	maxPoints int
	order     int
}

// WithMaxPoints caps the refined mesh size. Refine rejects values below 2.
func WithMaxPoints(n int) Option {
	return func(o *options) error {
		if n < 2 {
			return dynamo.Configf("max_points", "need at least 2, got %d", n)
		}
		o.maxPoints = n
		return nil
	}
}

// WithOrder sets the local error order of the discretization scheme.
func WithOrder(p int) Option {
	return func(o *options) error {
		if p < 1 {
			return dynamo.Configf("order", "must be at least 1, got %d", p)
		}
		o.order = p
		return nil
	}
}

func gatherOptions(opts ...Option) (options, error) {
	o := options{maxPoints: DefaultMaxPoints, order: DefaultOrder}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return options{}, err
		}
	}
	return o, nil
}
