package utils

import "telemetry-observer/src/models"

// -----------------------------------------------------------------------------
// PointBuffer is a fixed-size circular buffer of samples. True ring buffer -
// no resizing allowed.
// -----------------------------------------------------------------------------

type PointBuffer struct {
	data     []models.MDataPoint
	capacity int
	index    int // Next write position
	size     int // Current number of elements
}

// -----------------------------------------------------------------------------

// NewPointBuffer creates a new buffer with fixed capacity
func NewPointBuffer(capacity int) *PointBuffer {
	if capacity <= 0 {
		capacity = 1000 // Default reasonable size
	}

	return &PointBuffer{
		data:     make([]models.MDataPoint, capacity),
		capacity: capacity,
	}
}

// -----------------------------------------------------------------------------

// Append adds one sample, overwriting the oldest when full.
func (pb *PointBuffer) Append(point models.MDataPoint) {
	pb.data[pb.index] = point
	pb.index = (pb.index + 1) % pb.capacity

	// Size never exceeds capacity
	if pb.size < pb.capacity {
		pb.size++
	}
}

// -----------------------------------------------------------------------------

// Size returns the current number of elements.
func (pb *PointBuffer) Size() int {
	return pb.size
}

// -----------------------------------------------------------------------------

// Window returns all buffered samples with Ts >= minTs in chronological
// order, as a fresh slice.
func (pb *PointBuffer) Window(minTs int64) models.MDataSeries {
	if pb.size == 0 {
		return models.MDataSeries{}
	}

	result := make(models.MDataSeries, 0, pb.size)
	startIdx := (pb.index - pb.size + pb.capacity) % pb.capacity
	for i := 0; i < pb.size; i++ {
		p := pb.data[(startIdx+i)%pb.capacity]
		if p.Ts >= minTs {
			result = append(result, p)
		}
	}
	return result
}

// -----------------------------------------------------------------------------

// Latest returns the most recent sample, ok=false when empty.
func (pb *PointBuffer) Latest() (models.MDataPoint, bool) {
	if pb.size == 0 {
		return models.MDataPoint{}, false
	}
	idx := (pb.index - 1 + pb.capacity) % pb.capacity
	return pb.data[idx], true
}
