package webhooks

import "sync/atomic"

// DeliveryStatus is the outcome of one delivery step.
type DeliveryStatus string

const (
	DeliverySuccess  DeliveryStatus = "success"
	DeliveryFailed   DeliveryStatus = "failed"
	DeliveryRetrying DeliveryStatus = "retry"
	DeliveryDropped  DeliveryStatus = "dropped"
)

// DeliveryStats counts delivery outcomes since the notifier started.
// Retried counts attempts that were followed by another attempt.
type DeliveryStats struct {
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Retried   int64 `json:"retried"`
	Dropped   int64 `json:"dropped"`
}

func (s *DeliveryStats) add(status DeliveryStatus) {
	switch status {
	case DeliverySuccess:
		atomic.AddInt64(&s.Delivered, 1)
	case DeliveryFailed:
		atomic.AddInt64(&s.Failed, 1)
	case DeliveryRetrying:
		atomic.AddInt64(&s.Retried, 1)
	case DeliveryDropped:
		atomic.AddInt64(&s.Dropped, 1)
	}
}

func (s *DeliveryStats) snapshot() DeliveryStats {
	return DeliveryStats{
		Delivered: atomic.LoadInt64(&s.Delivered),
		Failed:    atomic.LoadInt64(&s.Failed),
		Retried:   atomic.LoadInt64(&s.Retried),
		Dropped:   atomic.LoadInt64(&s.Dropped),
	}
}
