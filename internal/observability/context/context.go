package context

import "context"

type actorKey struct{}
type runKey struct{}
type requestIDKey struct{}

type actor struct {
	typ string
	id  string
}

type run struct {
	job string
	id  string
}

func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor{typ: actorType, id: actorID})
}

func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	if a, ok := ctx.Value(actorKey{}).(actor); ok {
		return a.typ, a.id
	}
	return "", ""
}

// WithRun tags the context with the batch job and run that owns it.
func WithRun(ctx context.Context, job, runID string) context.Context {
	return context.WithValue(ctx, runKey{}, run{job: job, id: runID})
}

func RunFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	if r, ok := ctx.Value(runKey{}).(run); ok {
		return r.job, r.id
	}
	return "", ""
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

type resourceKey struct{}

type resource struct {
	kind string
	id   string
}

// WithResource records the entity an API request targets, such as
// ("invoice", "1790"). Kind is singular.
func WithResource(ctx context.Context, kind, id string) context.Context {
	if kind == "" {
		return ctx
	}
	return context.WithValue(ctx, resourceKey{}, resource{kind: kind, id: id})
}

func ResourceFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	if r, ok := ctx.Value(resourceKey{}).(resource); ok {
		return r.kind, r.id
	}
	return "", ""
}
