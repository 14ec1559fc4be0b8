// Package durable implements an optional, disk-backed send-buffer backend
// for Socket (spec §4.1's "send buffer"). The spec's baseline send buffer
// is an in-memory FIFO that does not survive a process restart; this
// package recovers the teacher's internal/store idiom (a sqlite-backed
// offline queue, internal/store/queue.go) so an application that wants
// pushes to survive a crash/restart can opt in via
// phoenix.WithDurableBuffer, without changing the in-memory default.
package durable

import (
	"database/sql"
	"fmt"

	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"
)

// Entry is one buffered outbound frame.
type Entry struct {
	ID      int64
	Ref     string
	Topic   string
	Event   string
	Payload []byte // the already-encoded wire frame
}

// Buffer is a sqlite-backed FIFO of pending outbound frames.
type Buffer struct {
	db     *sql.DB
	logger func(string)
}

// Open opens (or creates) a durable buffer at path. logger may be nil.
func Open(path string, logger func(string)) (*Buffer, error) {
	if logger == nil {
		logger = func(string) {}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	b := &Buffer{db: db, logger: logger}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return b, nil
}

func (b *Buffer) migrate() error {
	_, err := b.db.Exec(`CREATE TABLE IF NOT EXISTS send_buffer (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ref TEXT NOT NULL DEFAULT '',
		topic TEXT NOT NULL,
		event TEXT NOT NULL,
		payload BLOB NOT NULL,
		checksum BLOB NOT NULL,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("migrate send_buffer: %w", err)
	}
	return nil
}

// Enqueue appends one frame to the buffer, stamping it with a blake3
// checksum so a truncated write can be detected (and skipped, rather than
// replayed corrupted) on the next Drain.
func (b *Buffer) Enqueue(ref, topic, event string, payload []byte) error {
	sum := blake3.Sum256(payload)
	_, err := b.db.Exec(
		"INSERT INTO send_buffer (ref, topic, event, payload, checksum) VALUES (?, ?, ?, ?, ?)",
		ref, topic, event, payload, sum[:],
	)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// Drain returns every buffered entry in FIFO order. Entries whose checksum
// no longer matches their payload are skipped and logged rather than
// returned, since replaying a corrupted frame verbatim would be worse than
// dropping it.
func (b *Buffer) Drain() ([]Entry, error) {
	rows, err := b.db.Query("SELECT id, ref, topic, event, payload, checksum FROM send_buffer ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("drain query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var checksum []byte
		if err := rows.Scan(&e.ID, &e.Ref, &e.Topic, &e.Event, &e.Payload, &checksum); err != nil {
			return nil, fmt.Errorf("drain scan: %w", err)
		}
		sum := blake3.Sum256(e.Payload)
		if !bytesEqual(sum[:], checksum) {
			b.logger(fmt.Sprintf("[durable] dropping corrupted entry id=%d topic=%s", e.ID, e.Topic))
			continue
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RemoveByRef deletes every buffered entry for the given ref, mirroring
// the Socket's requirement that stale buffered sends for a former
// join_ref be removable by ref (spec §4.1).
func (b *Buffer) RemoveByRef(ref string) error {
	_, err := b.db.Exec("DELETE FROM send_buffer WHERE ref = ?", ref)
	if err != nil {
		return fmt.Errorf("remove by ref %s: %w", ref, err)
	}
	return nil
}

// Clear removes every buffered entry, used after a successful flush.
func (b *Buffer) Clear() error {
	_, err := b.db.Exec("DELETE FROM send_buffer")
	if err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (b *Buffer) Close() error {
	return b.db.Close()
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
