package stream

import "time"

// MetricsRecorder receives stream events. internal/metrics.Collector is the
// Prometheus implementation.
type MetricsRecorder interface {
	StreamOpened()
	StreamFinished(outcome string)
	BytesEnqueued(n int)
	BytesDelivered(mode string, n int)
	ReadCompleted(mode, outcome string)
	PullStarted()
	BYOBResponded(kind string, n int)
	PipeCompleted(bytes int64, d time.Duration, err error)
}

type nopMetrics struct{}

func (nopMetrics) StreamOpened() {}
func (nopMetrics) StreamFinished(string) {}
func (nopMetrics) BytesEnqueued(int) {}
func (nopMetrics) BytesDelivered(string, int) {}
func (nopMetrics) ReadCompleted(string, string) {}
func (nopMetrics) PullStarted() {}
func (nopMetrics) BYOBResponded(string, int) {}
func (nopMetrics) PipeCompleted(int64, time.Duration, error) {}
