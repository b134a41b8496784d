package web

import (
	"sync/atomic"
)

// BackpressureController caps the number of requests in flight. Requests
// beyond the capacity are rejected at once instead of queueing.
type BackpressureController struct {
	capacity      int64
	currentLoad   atomic.Int64
	rejectedCount atomic.Int64
}

// NewBackpressureController creates a controller. A capacity <= 0 disables
// the limit.
func NewBackpressureController(capacity int) *BackpressureController {
	return &BackpressureController{capacity: int64(capacity)}
}

// TryAcquire takes a slot; false means the request should get a 503
func (bc *BackpressureController) TryAcquire() bool {
	if bc.capacity <= 0 {
		bc.currentLoad.Add(1)
		return true
	}
	for {
		current := bc.currentLoad.Load()
		if current >= bc.capacity {
			bc.rejectedCount.Add(1)
			return false
		}
		if bc.currentLoad.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

// Release frees a slot taken by TryAcquire
func (bc *BackpressureController) Release() {
	bc.currentLoad.Add(-1)
}

// GetMetrics returns current backpressure metrics
func (bc *BackpressureController) GetMetrics() BackpressureMetrics {
	current := bc.currentLoad.Load()
	m := BackpressureMetrics{
		Capacity:      bc.capacity,
		CurrentLoad:   current,
		RejectedCount: bc.rejectedCount.Load(),
	}
	if bc.capacity > 0 {
		m.Utilization = float64(current) / float64(bc.capacity) * 100
	}
	return m
}

// BackpressureMetrics provides backpressure statistics
type BackpressureMetrics struct {
	Capacity      int64   // Maximum requests in flight, 0 if unlimited
	CurrentLoad   int64   // Requests in flight
	RejectedCount int64   // Total rejected requests
	Utilization   float64 // Percentage of capacity in use
}
