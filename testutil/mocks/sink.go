// =============================================================================
// 🚰 MockSink - 字节流写入端模拟实现
// =============================================================================
// 满足 stream.Sink 接口，记录写入内容与 Close/Abort 调用
//
// 使用方法:
//
//	sink := mocks.NewMockSink().WithWriteError(3, errors.New("disk full"))
//	err := s.PipeTo(ctx, sink, stream.PipeOptions{})
//	data := sink.Bytes()
// =============================================================================
package mocks

import (
	"bytes"
	"context"
	"sync"
)

// MockSink 是 stream.Sink 的模拟实现
type MockSink struct {
	mu sync.Mutex

	buf bytes.Buffer

	// 错误注入
	failAt   int
	writeErr error
	closeErr error

	// 调用记录
	writes  int
	closed  bool
	aborted error
	aborts  int
}

// =============================================================================
// 🔧 构造函数和 Builder 方法
// =============================================================================

// NewMockSink 创建新的 MockSink
func NewMockSink() *MockSink {
	return &MockSink{}
}

// WithWriteError 从第 n 次 Write（从 1 开始计数）起返回 err
func (s *MockSink) WithWriteError(n int, err error) *MockSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAt = n
	s.writeErr = err
	return s
}

// WithCloseError 设置 Close 返回的错误
func (s *MockSink) WithCloseError(err error) *MockSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeErr = err
	return s
}

// =============================================================================
// 🚰 Sink 接口实现
// =============================================================================

// Write 记录数据块；失败的写入不落盘
func (s *MockSink) Write(ctx context.Context, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.writeErr != nil && s.writes >= s.failAt {
		return s.writeErr
	}
	s.buf.Write(p)
	return nil
}

// Close 标记为已关闭
func (s *MockSink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.closeErr
}

// Abort 记录中止原因
func (s *MockSink) Abort(ctx context.Context, reason error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborts++
	s.aborted = reason
	return nil
}

// =============================================================================
// 🔍 查询方法
// =============================================================================

// Bytes 返回已写入数据的副本
func (s *MockSink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.buf.Bytes())
}

// String 以字符串形式返回已写入数据
func (s *MockSink) String() string {
	return string(s.Bytes())
}

// WriteCount 返回 Write 调用次数（包括失败的调用）
func (s *MockSink) WriteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Closed 返回是否调用过 Close
func (s *MockSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// AbortReason 返回最近一次 Abort 的原因，未中止时为 nil
func (s *MockSink) AbortReason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

// AbortCount 返回 Abort 调用次数
func (s *MockSink) AbortCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborts
}
