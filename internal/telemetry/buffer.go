package telemetry

import "sync"

// Buffer collects records from concurrent request handlers until the flusher
// drains them. It has a soft capacity (the flush threshold) and accepts up to
// twice that before evicting oldest records; in practice flushing keeps pace
// and eviction is only a safety valve against a stalled reporter.
type Buffer struct {
	mu      sync.Mutex
	records []Record
	softCap int
}

// NewBuffer creates a buffer with the given soft capacity.
func NewBuffer(size int) *Buffer {
	return &Buffer{
		records: make([]Record, 0, size),
		softCap: size,
	}
}

// Append adds a record to the buffer. When the hard allowance (2x soft
// capacity) is reached the oldest record is evicted first.
func (b *Buffer) Append(rec Record) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.records) >= 2*b.softCap {
		b.records = b.records[1:]
		MetricRecordsEvicted.Inc()
	}
	b.records = append(b.records, rec)
	MetricBufferedRecords.Set(float64(len(b.records)))
}

// Drain atomically removes and returns all buffered records. Appends racing
// with a drain land in exactly one batch; no record is returned twice.
func (b *Buffer) Drain() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	batch := b.records
	b.records = make([]Record, 0, b.softCap)
	MetricBufferedRecords.Set(0)
	return batch
}

// Len returns the current record count. Used for the flush threshold check
// and the health endpoint.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}
