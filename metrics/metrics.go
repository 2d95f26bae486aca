package metrics

import "time"

// Recorder receives market events: purchase outcomes per checkpoint,
// heartbeat results, and operation latencies.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
