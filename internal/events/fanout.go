package events

import (
	"context"
	"errors"
	"fmt"
)

// FanOut delivers every event to each of its publishers. A failing sink
// does not stop delivery to the others; the failures are joined.
type FanOut []Publisher

func (f FanOut) Publish(ctx context.Context, topic string, event any) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, topic, event); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

func (f FanOut) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
