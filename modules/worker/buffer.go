package worker

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrFetchTimeout is returned when no record with the requested
	// correlation id arrives inside the caller's window.
	ErrFetchTimeout = errors.New("timed out waiting for correlated record")

	// ErrBufferClosed is returned to waiters when the consumer shuts down.
	ErrBufferClosed = errors.New("correlation buffer closed")
)

// ConsumedRecord is one record matched out of the correlation buffer.
type ConsumedRecord struct {
	Topic         string
	Partition     int32
	Offset        int64
	Key           string
	Payload       []byte
	Headers       map[string]string
	CorrelationID string
}

// correlationBuffer pairs consumed records with glue fetches by correlation
// id, in either arrival order: a record may land before anyone asks for it,
// or a fetch may be parked waiting for the record. Each record is claimed at
// most once. The unclaimed side is bounded; overflow evicts the oldest
// unclaimed record and counts it as unmatched.
type correlationBuffer struct {
	capacity int

	ops chan func()

	records map[string]*ConsumedRecord
	order   []string
	waiters map[string][]chan *ConsumedRecord

	unmatched int
	closed    bool
}

func newCorrelationBuffer(capacity int) *correlationBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	b := &correlationBuffer{
		capacity: capacity,
		ops:      make(chan func()),
		records:  map[string]*ConsumedRecord{},
		waiters:  map[string][]chan *ConsumedRecord{},
	}
	go b.loop()
	return b
}

func (b *correlationBuffer) loop() {
	for op := range b.ops {
		op()
	}
}

func (b *correlationBuffer) do(op func()) {
	done := make(chan struct{})
	b.ops <- func() {
		op()
		close(done)
	}
	<-done
}

func (b *correlationBuffer) add(rec *ConsumedRecord) {
	b.do(func() {
		if b.closed {
			return
		}
		if ws := b.waiters[rec.CorrelationID]; len(ws) > 0 {
			ws[0] <- rec
			if len(ws) == 1 {
				delete(b.waiters, rec.CorrelationID)
			} else {
				b.waiters[rec.CorrelationID] = ws[1:]
			}
			return
		}
		if _, dup := b.records[rec.CorrelationID]; dup {
			// first record wins; a second arrival for the same id can
			// never be claimed
			b.unmatched++
			return
		}
		if len(b.records) >= b.capacity {
			oldest := b.order[0]
			b.order = b.order[1:]
			delete(b.records, oldest)
			b.unmatched++
		}
		b.records[rec.CorrelationID] = rec
		b.order = append(b.order, rec.CorrelationID)
	})
}

func (b *correlationBuffer) fetch(ctx context.Context, correlationID string, timeout time.Duration) (*ConsumedRecord, error) {
	var (
		rec *ConsumedRecord
		ch  chan *ConsumedRecord
		err error
	)
	b.do(func() {
		if b.closed {
			err = ErrBufferClosed
			return
		}
		if r, ok := b.records[correlationID]; ok {
			delete(b.records, correlationID)
			b.dropFromOrder(correlationID)
			rec = r
			return
		}
		ch = make(chan *ConsumedRecord, 1)
		b.waiters[correlationID] = append(b.waiters[correlationID], ch)
	})
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return rec, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r, ok := <-ch:
		if !ok {
			return nil, ErrBufferClosed
		}
		return r, nil
	case <-timer.C:
		b.abandon(correlationID, ch)
		// a record may have raced the timeout
		select {
		case r, ok := <-ch:
			if ok && r != nil {
				return r, nil
			}
		default:
		}
		return nil, ErrFetchTimeout
	case <-ctx.Done():
		b.abandon(correlationID, ch)
		return nil, ctx.Err()
	}
}

func (b *correlationBuffer) abandon(correlationID string, ch chan *ConsumedRecord) {
	b.do(func() {
		ws := b.waiters[correlationID]
		for i, w := range ws {
			if w == ch {
				b.waiters[correlationID] = append(ws[:i:i], ws[i+1:]...)
				break
			}
		}
		if len(b.waiters[correlationID]) == 0 {
			delete(b.waiters, correlationID)
		}
	})
}

// unmatchedCount reports records that arrived and were never claimed, both
// evicted ones and those still parked at the time of the call.
func (b *correlationBuffer) unmatchedCount() int {
	var n int
	b.do(func() {
		n = b.unmatched + len(b.records)
	})
	return n
}

func (b *correlationBuffer) close() {
	b.do(func() {
		if b.closed {
			return
		}
		b.closed = true
		for _, ws := range b.waiters {
			for _, ch := range ws {
				close(ch)
			}
		}
		b.waiters = map[string][]chan *ConsumedRecord{}
	})
	close(b.ops)
}

func (b *correlationBuffer) dropFromOrder(correlationID string) {
	for i, id := range b.order {
		if id == correlationID {
			b.order = append(b.order[:i:i], b.order[i+1:]...)
			return
		}
	}
}
