package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	streamIDKey  contextKey = "stream_id"
	subjectKey   contextKey = "subject"
)

// WithRequestID 设置 HTTP 请求 ID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID 获取 HTTP 请求 ID
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithStreamID 设置字节流 ID，控制器传给 Start/Pull 的 ctx 带有该值
func WithStreamID(ctx context.Context, streamID string) context.Context {
	return context.WithValue(ctx, streamIDKey, streamID)
}

// StreamID 获取字节流 ID
func StreamID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(streamIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithSubject 设置认证主体（JWT sub 或 API Key 标识）
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// Subject 获取认证主体
func Subject(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(subjectKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
