package ctxutil

import "context"

type traceDataKey struct{}

// TraceData carries the request correlation identifiers through the
// context so logs and events can be tied back to one inbound request.
type TraceData struct {
	TraceID   string
	RequestID string
}

func WithTraceData(ctx context.Context, data *TraceData) context.Context {
	return context.WithValue(Default(ctx), traceDataKey{}, data)
}

func TraceDataFrom(ctx context.Context) *TraceData {
	if ctx == nil {
		return nil
	}
	data, _ := ctx.Value(traceDataKey{}).(*TraceData)
	return data
}
