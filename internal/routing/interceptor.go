package routing

import (
	"context"

	"github.com/google/uuid"

	"dynamic-datasource/internal/common/errors"
	"dynamic-datasource/internal/common/logging"
	"dynamic-datasource/internal/metrics"
	"dynamic-datasource/internal/tracing"
)

// Interceptor runs units of work under a routing key. It pushes the key
// before the work starts and pops it on every way out: normal return, error,
// panic, or a cancelled context.
type Interceptor struct {
	logger logging.Logger
	tracer *tracing.Tracer
}

// InterceptorOption configures an Interceptor.
type InterceptorOption func(*Interceptor)

// WithInterceptorLogger sets the logger. Defaults to the global logger.
func WithInterceptorLogger(logger logging.Logger) InterceptorOption {
	return func(i *Interceptor) { i.logger = logger }
}

// WithInterceptorTracer sets the tracer. Defaults to a noop tracer.
func WithInterceptorTracer(tracer *tracing.Tracer) InterceptorOption {
	return func(i *Interceptor) { i.tracer = tracer }
}

// NewInterceptor creates an interceptor.
func NewInterceptor(opts ...InterceptorOption) *Interceptor {
	i := &Interceptor{}
	for _, opt := range opts {
		opt(i)
	}
	if i.tracer == nil {
		i.tracer = tracing.Noop()
	}
	return i
}

// Do runs fn with the key from marker as the active routing key.
//
// fn receives a context derived from ctx with the key pushed; routing
// decisions made with it (or contexts derived from it) see the key. ctx
// itself is never changed, so the caller's key is back in effect when Do
// returns, and any number of goroutines may call Do on the same ctx. If ctx
// is already done, fn is not run and ctx.Err() is returned.
//
// A marker that fails or yields an empty key is reported before anything is
// pushed. Do panics with a stack underflow error if the scope's own node does
// not pop back to the caller's stack.
func (i *Interceptor) Do(ctx context.Context, marker Marker, fn func(ctx context.Context) error) (err error) {
	key, err := resolveKey(ctx, marker)
	if err != nil {
		metrics.RecordLookupFailure(metrics.ReasonInvalidRoutingKey)
		return err
	}

	outer := StackFrom(ctx)
	stack := outer.Push(key)
	depth := stack.Depth()
	ctx = WithStack(ctx, stack)

	scopeID := uuid.NewString()

	ctx, span := i.tracer.StartIntercept(ctx, key, scopeID, depth)
	ctx = logging.ContextWithFields(ctx, logging.String("scope_id", scopeID), logging.RoutingKey(key))
	log := logging.OrGlobal(i.logger).WithContext(ctx)
	log.Debug("Routing scope entered", logging.Int("depth", depth))

	defer func() {
		popped, rest, popErr := stack.Pop()
		if popErr != nil || popped != key || rest != outer || rest.Depth() != depth-1 {
			panic(errors.StackUnderflowError().
				WithContext("key", key).
				WithContext("popped", popped).
				WithContext("depth", rest.Depth()).
				WithContext("expected_depth", depth-1))
		}

		if err != nil {
			i.tracer.RecordError(span, err)
		}
		i.tracer.EndSpan(span)
		log.Debug("Routing scope exited", logging.Int("depth", depth-1))
	}()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fn(ctx)
}

// Wrap returns fn decorated so that every call runs under marker.
func (i *Interceptor) Wrap(marker Marker, fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return i.Do(ctx, marker, fn)
	}
}

// Call is Do for work that returns a value.
func Call[T any](ctx context.Context, i *Interceptor, marker Marker, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := i.Do(ctx, marker, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}
