package sampler

import (
	"bufio"
	"fmt"
	"io"
)

// DefaultBufferSize is the number of records held before an automatic flush.
const DefaultBufferSize = 100000

const sinkBufferBytes = 256 * 1024

// Buffer accumulates formatted records and writes them out in batches.
// It is not safe for concurrent use; Controller serializes access.
type Buffer struct {
	capacity int
	records  []string
	sink     *bufio.Writer
	flushes  uint64
}

// NewBuffer returns a Buffer that flushes to sink every capacity records.
func NewBuffer(capacity int, sink io.Writer) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("buffer capacity must be > 0")
	}
	if sink == nil {
		return nil, fmt.Errorf("buffer sink is required")
	}
	return &Buffer{
		capacity: capacity,
		records:  make([]string, 0, min(capacity, 4096)),
		sink:     bufio.NewWriterSize(sink, sinkBufferBytes),
	}, nil
}

// Append adds a record, flushing the whole buffer once it reaches capacity.
func (b *Buffer) Append(record string) error {
	b.records = append(b.records, record)
	if len(b.records) < b.capacity {
		return nil
	}
	if _, err := b.writeAll(); err != nil {
		return fmt.Errorf("flush buffer: %w", err)
	}
	b.flushes++
	return nil
}

// Drain writes any remaining records without counting a flush.
func (b *Buffer) Drain() (int, error) {
	n, err := b.writeAll()
	if err != nil {
		return n, fmt.Errorf("drain buffer: %w", err)
	}
	return n, nil
}

// WriteString writes text straight to the sink, after anything buffered.
func (b *Buffer) WriteString(text string) error {
	if _, err := b.sink.WriteString(text); err != nil {
		return err
	}
	return b.sink.Flush()
}

// Len returns the number of records waiting for a flush.
func (b *Buffer) Len() int { return len(b.records) }

// Capacity returns the flush threshold.
func (b *Buffer) Capacity() int { return b.capacity }

// Flushes returns the number of automatic flushes so far.
func (b *Buffer) Flushes() uint64 { return b.flushes }

// writeAll empties the buffer even when the sink fails.
func (b *Buffer) writeAll() (int, error) {
	n := len(b.records)
	defer func() {
		clear(b.records)
		b.records = b.records[:0]
	}()

	for _, record := range b.records {
		if _, err := b.sink.WriteString(record); err != nil {
			return n, err
		}
	}
	if err := b.sink.Flush(); err != nil {
		return n, err
	}
	return n, nil
}
