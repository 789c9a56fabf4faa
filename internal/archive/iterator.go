package archive

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const iterateBatchSize = 256

// Iterator walks archive records in total order (capture time, then insertion
// sequence), optionally restricted to a topic subset. Records are fetched in
// keyset-paginated batches so no read transaction stays open across the
// pacing waits of a live playback.
type Iterator struct {
	ctx    context.Context
	st     *store
	topics []string

	afterTime int64
	afterSeq  int64

	batch []Record
	idx   int
	done  bool
	err   error
}

// Iterate returns an iterator over records at or after from, restricted to
// the named topics. An empty topic slice selects no records; a nil slice
// selects all topics. The sequence is bounded by archive contents observed
// while iterating; it does not follow a seek backwards.
func (a *Archive) Iterate(ctx context.Context, topics []string, from time.Time) *Iterator {
	return a.IterateAfter(ctx, topics, from, -1)
}

// IterateAfter returns an iterator over records strictly after the position
// (after, afterSeq) in total order. An afterSeq of -1 makes the time bound
// inclusive, which is what Iterate and seek repositioning rely on.
func (a *Archive) IterateAfter(ctx context.Context, topics []string, after time.Time, afterSeq int64) *Iterator {
	it := &Iterator{
		ctx:       ctx,
		topics:    topics,
		afterTime: after.UnixNano(),
		afterSeq:  afterSeq,
	}
	if a == nil || a.st == nil || a.closed.Load() {
		it.err = fmt.Errorf("archive is not open")
		it.done = true
		return it
	}
	it.st = a.st
	if topics != nil && len(topics) == 0 {
		it.done = true
	}
	return it
}

// Next advances to the next record. It returns false when the sequence is
// exhausted or a read fails; check Err afterwards.
func (it *Iterator) Next() bool {
	if it.err != nil || it.done {
		return false
	}
	it.idx++
	if it.idx < len(it.batch) {
		return true
	}
	if err := it.fetch(); err != nil {
		it.err = err
		it.done = true
		return false
	}
	if len(it.batch) == 0 {
		it.done = true
		return false
	}
	return true
}

// Record returns the current record. Valid only after Next reports true.
func (it *Iterator) Record() Record {
	if it.idx < 0 || it.idx >= len(it.batch) {
		return Record{}
	}
	return it.batch[it.idx]
}

// Err returns the first error encountered while iterating.
func (it *Iterator) Err() error {
	return it.err
}

// Close releases the iterator. It is safe to call more than once.
func (it *Iterator) Close() {
	it.done = true
	it.batch = nil
}

func (it *Iterator) fetch() error {
	if err := it.ctx.Err(); err != nil {
		return err
	}

	query := `
SELECT m.id, t.name, t.type, m.time_recv, m.message
FROM messages m JOIN topics t ON t.id = m.topic_id
WHERE (m.time_recv > ? OR (m.time_recv = ? AND m.id > ?))`
	args := []any{it.afterTime, it.afterTime, it.afterSeq}

	if it.topics != nil {
		placeholders := make([]string, len(it.topics))
		for i, name := range it.topics {
			placeholders[i] = "?"
			args = append(args, name)
		}
		query += " AND t.name IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY m.time_recv, m.id LIMIT ?"
	args = append(args, iterateBatchSize)

	rows, err := it.st.db.QueryContext(it.ctx, query, args...)
	if err != nil {
		return fmt.Errorf("read archive batch: %w", err)
	}
	defer rows.Close()

	it.batch = it.batch[:0]
	it.idx = 0
	for rows.Next() {
		var rec Record
		var captured int64
		if err := rows.Scan(&rec.Seq, &rec.Topic, &rec.Type, &captured, &rec.Payload); err != nil {
			return fmt.Errorf("scan archive record: %w", err)
		}
		rec.CaptureTime = time.Unix(0, captured)
		it.batch = append(it.batch, rec)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read archive records: %w", err)
	}

	if n := len(it.batch); n > 0 {
		last := it.batch[n-1]
		it.afterTime = last.CaptureTime.UnixNano()
		it.afterSeq = last.Seq
	}
	return nil
}
