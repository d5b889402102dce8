package tick

import "fmt"

// DefaultChunkCapacity is the record count at which a chunk is considered full.
const DefaultChunkCapacity = 1000

// Chunk is a fixed-capacity, append-only batch of packed records for one
// instrument. The buffer is allocated once and reused across flushes via
// Reset; capacity is never reallocated.
//
// Chunk is not safe for concurrent use; the batch orchestrator serializes
// access per instrument.
type Chunk struct {
	buf      []byte
	capacity int
	count    int
}

// NewChunk allocates a chunk holding up to capacity records.
func NewChunk(capacity int) *Chunk {
	if capacity <= 0 {
		capacity = DefaultChunkCapacity
	}
	return &Chunk{
		buf:      make([]byte, capacity*RecordBytes),
		capacity: capacity,
	}
}

// Append encodes t into the next 16-byte slot. It returns false when the
// chunk is full or the tick cannot be encoded; a rejected append never
// writes partial bytes.
func (c *Chunk) Append(t Tick, instrumentID int32) bool {
	if c.count >= c.capacity {
		return false
	}
	msOfDay, err := t.MsOfDay()
	if err != nil {
		return false
	}
	putRecord(c.buf[c.count*RecordBytes:], instrumentID, msOfDay, int32(t.Close), int32(t.Volume))
	c.count++
	return true
}

// Compress returns the zstd-compressed form of exactly the used bytes
// (count * 16), never the unused tail of the buffer.
func (c *Chunk) Compress(level int) ([]byte, error) {
	if c.count == 0 {
		return nil, fmt.Errorf("compress empty chunk")
	}
	enc, err := encoderFor(level)
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(c.buf[:c.count*RecordBytes], nil), nil
}

// Reset clears the fill count so the underlying buffer can be reused.
func (c *Chunk) Reset() {
	c.count = 0
}

// IsFull reports whether the chunk has reached capacity.
func (c *Chunk) IsFull() bool {
	return c.count >= c.capacity
}

// IsEmpty reports whether no records have been appended since the last Reset.
func (c *Chunk) IsEmpty() bool {
	return c.count == 0
}

// Count returns the number of appended records.
func (c *Chunk) Count() int {
	return c.count
}

// RawBytes returns the number of used buffer bytes (count * 16).
func (c *Chunk) RawBytes() int {
	return c.count * RecordBytes
}

// CompressionRatio reports compressedSize as a percentage of the raw size.
func (c *Chunk) CompressionRatio(compressedSize int) float64 {
	if c.count == 0 {
		return 0
	}
	return float64(compressedSize) / float64(c.RawBytes()) * 100
}
