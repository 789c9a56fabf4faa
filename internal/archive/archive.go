// Package archive implements the durable, time-ordered message archive.
//
// An archive stores captured pub/sub messages with their topic, payload type
// tag, raw payload, and capture timestamp. Records are totally ordered by
// capture time with ties broken by insertion sequence. Multiple handles opened
// with the same locator address the same underlying store within a process,
// so a live recorder and a player can share one archive.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// ErrSchemaMismatch indicates the backing database does not hold a compatible
// archive schema.
var ErrSchemaMismatch = errors.New("archive schema mismatch")

const schemaVersion = 1

// Record is one captured message. Immutable once written.
type Record struct {
	// Topic is the pub/sub topic the message arrived on.
	Topic string
	// Type is the payload type tag reported by the transport.
	Type string
	// Payload is the raw message payload.
	Payload []byte
	// CaptureTime is the timestamp assigned when the message was received.
	CaptureTime time.Time
	// Seq is the insertion sequence assigned on append. It breaks ordering
	// ties between records sharing a capture time.
	Seq int64
}

// Archive is one handle on a logical archive store. A handle may be used from
// multiple goroutines; Close is safe against concurrent appends.
type Archive struct {
	loc    Locator
	st     *store
	closed atomic.Bool
}

// Open opens the archive addressed by locator, creating it on first open.
func Open(locator string) (*Archive, error) {
	loc, err := ParseLocator(locator)
	if err != nil {
		return nil, err
	}
	st, err := openStore(loc)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", loc.Key(), err)
	}
	return &Archive{loc: loc, st: st}, nil
}

// Locator returns the locator this handle was opened with.
func (a *Archive) Locator() Locator {
	return a.loc
}

// Close releases this handle. The last close of an anonymous in-memory
// archive discards its contents.
func (a *Archive) Close() error {
	if a == nil || a.st == nil {
		return nil
	}
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	return a.st.release()
}

// Append writes one record. Concurrent appends serialize on a single writer
// critical section and are never reordered relative to call order. A zero
// capture time is stamped with the current time.
func (a *Archive) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a == nil || a.st == nil || a.closed.Load() {
		return fmt.Errorf("archive is not open")
	}
	if strings.TrimSpace(rec.Topic) == "" {
		return fmt.Errorf("record topic is required")
	}
	if rec.CaptureTime.IsZero() {
		rec.CaptureTime = time.Now()
	}

	a.st.writeMu.Lock()
	defer a.st.writeMu.Unlock()

	tx, err := a.st.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	topicID, err := topicID(tx, rec.Topic, rec.Type)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(
		"INSERT INTO messages (time_recv, topic_id, message) VALUES (?, ?, ?)",
		rec.CaptureTime.UnixNano(), topicID, rec.Payload,
	); err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

func topicID(tx *sql.Tx, name, typeTag string) (int64, error) {
	var id int64
	err := tx.QueryRow("SELECT id FROM topics WHERE name = ? AND type = ?", name, typeTag).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("look up topic: %w", err)
	}

	res, err := tx.Exec("INSERT INTO topics (name, type) VALUES (?, ?)", name, typeTag)
	if err != nil {
		return 0, fmt.Errorf("insert topic: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("topic id: %w", err)
	}
	return id, nil
}

// KnownTopics returns a sorted snapshot of distinct topic names seen so far.
func (a *Archive) KnownTopics(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a == nil || a.st == nil || a.closed.Load() {
		return nil, fmt.Errorf("archive is not open")
	}

	rows, err := a.st.db.QueryContext(ctx, "SELECT DISTINCT name FROM topics ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read topics: %w", err)
	}
	return names, nil
}

// TopicSummary aggregates per-topic message counts.
type TopicSummary struct {
	Name     string
	Type     string
	Messages int64
}

// Summary describes the contents of an archive.
type Summary struct {
	Topics   []TopicSummary
	Messages int64
	Start    time.Time
	End      time.Time
}

// Summarize reports topics, message counts, and the archive's time range.
func (a *Archive) Summarize(ctx context.Context) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	if a == nil || a.st == nil || a.closed.Load() {
		return Summary{}, fmt.Errorf("archive is not open")
	}

	rows, err := a.st.db.QueryContext(ctx, `
SELECT t.name, t.type, COUNT(m.id)
FROM topics t LEFT JOIN messages m ON m.topic_id = t.id
GROUP BY t.id
ORDER BY t.name, t.type`)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize topics: %w", err)
	}
	defer rows.Close()

	var summary Summary
	for rows.Next() {
		var ts TopicSummary
		if err := rows.Scan(&ts.Name, &ts.Type, &ts.Messages); err != nil {
			return Summary{}, fmt.Errorf("scan topic summary: %w", err)
		}
		summary.Topics = append(summary.Topics, ts)
		summary.Messages += ts.Messages
	}
	if err := rows.Err(); err != nil {
		return Summary{}, fmt.Errorf("read topic summaries: %w", err)
	}

	if summary.Messages > 0 {
		var start, end int64
		row := a.st.db.QueryRowContext(ctx, "SELECT MIN(time_recv), MAX(time_recv) FROM messages")
		if err := row.Scan(&start, &end); err != nil {
			return Summary{}, fmt.Errorf("read time range: %w", err)
		}
		summary.Start = time.Unix(0, start)
		summary.End = time.Unix(0, end)
	}
	return summary, nil
}
