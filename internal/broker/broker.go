// Package broker defines the set of primitives the atom runtime needs from
// the shared message broker, and the entry-id arithmetic every other package
// builds on. RedisBroker (redis.go) talks to a real Redis-compatible server;
// internal/brokertest provides an in-memory stand-in for tests.
//
// Nothing above this package knows that the broker is Redis. They depend
// only on the Broker interface below, which mirrors spec §6.1 one verb at a
// time.
package broker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EntryID is a broker-assigned stream entry id, always of the form
// "<milliseconds>-<sequence>". It is the wire format for stream ids,
// Command cmd_ids, and the element runtime's response_last_id cursor.
type EntryID string

// Zero is the smallest possible id, used as the "from the beginning" cursor.
const Zero EntryID = "0-0"

// Compare returns -1, 0, or 1 as a orders before, equal to, or after b,
// comparing lexicographically as (time, seq) per spec §4.6/§9.
func (a EntryID) Compare(b EntryID) int {
	at, aseq := a.parts()
	bt, bseq := b.parts()
	if at != bt {
		if at < bt {
			return -1
		}
		return 1
	}
	if aseq != bseq {
		if aseq < bseq {
			return -1
		}
		return 1
	}
	return 0
}

// After reports whether a is strictly newer than b.
func (a EntryID) After(b EntryID) bool { return a.Compare(b) > 0 }

func (a EntryID) parts() (ms, seq int64) {
	s := string(a)
	i := strings.IndexByte(s, '-')
	if i < 0 {
		v, _ := strconv.ParseInt(s, 10, 64)
		return v, 0
	}
	ms, _ = strconv.ParseInt(s[:i], 10, 64)
	seq, _ = strconv.ParseInt(s[i+1:], 10, 64)
	return ms, seq
}

// Entry is one broker stream record: its assigned id plus a flat field map.
// Field values are opaque bytes; decoding them is the envelope codec's job.
type Entry struct {
	ID     EntryID
	Fields map[string][]byte
}

// StreamRead is one stream's worth of entries returned by a (possibly
// multi-stream) blocking read.
type StreamRead struct {
	Stream  string
	Entries []Entry
}

// ScoredItem is one member of a sorted collection, paired with its score.
type ScoredItem struct {
	Member []byte
	Score  float64
}

// Broker is the exact set of primitives spec §6.1 requires of the shared
// message broker. Every method blocks only as long as its ctx allows, never
// past its deadline.
type Broker interface {
	// Streams

	// Append adds one entry of fields to stream, capping it at approximately
	// maxlen entries (0 means unbounded), returning the assigned id.
	Append(ctx context.Context, stream string, fields map[string][]byte, maxlen int64) (EntryID, error)

	// ReadBlock performs a multi-stream blocking tail read starting strictly
	// after each cursor in from. count<=0 means no count limit; block<0 means
	// return immediately if nothing is available, block==0 means block
	// forever, block>0 bounds the wait.
	ReadBlock(ctx context.Context, from map[string]EntryID, count int64, block time.Duration) ([]StreamRead, error)

	// RevRange returns up to n of the most recent entries on stream, newest
	// first.
	RevRange(ctx context.Context, stream string, n int64) ([]Entry, error)

	// Range returns entries on stream strictly after since, oldest first,
	// up to n entries (n<=0 means unbounded).
	Range(ctx context.Context, stream string, since EntryID, n int64) ([]Entry, error)

	// DeleteStream removes a stream entirely.
	DeleteStream(ctx context.Context, stream string) error

	// Key-value

	// SetNX sets key to value only if absent, with expiry ttl (0 = no
	// expiry). Returns false if the key already existed.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Unlink deletes keys, returning an error if any named key was absent.
	Unlink(ctx context.Context, keys ...string) error

	// PExpire sets key's expiry, returning ErrNotFound if key is absent.
	PExpire(ctx context.Context, key string, ttl time.Duration) error

	// Persist removes key's expiry, returning ErrNotFound if key is absent.
	Persist(ctx context.Context, key string) error

	// PTTL returns key's remaining TTL, -1 if it has none, or ErrNotFound.
	PTTL(ctx context.Context, key string) (time.Duration, error)

	// MGet performs a pipelined multi-get; keys absent in the broker are
	// simply missing from the returned map, so callers distinguish "absent"
	// from "present but empty" with the map's comma-ok form.
	MGet(ctx context.Context, keys ...string) (map[string][]byte, error)

	// Sorted collections

	// ZAdd adds member with score to the sorted collection at key, returning
	// its size after the insert.
	ZAdd(ctx context.Context, key string, member []byte, score float64) (int64, error)

	// ZPopMin/ZPopMax pop the lowest/highest scored member. If block, the
	// call waits up to timeout (0 = forever) for a member to appear.
	ZPopMin(ctx context.Context, key string, block bool, timeout time.Duration) (ScoredItem, bool, error)
	ZPopMax(ctx context.Context, key string, block bool, timeout time.Duration) (ScoredItem, bool, error)

	// ZPopMinN/ZPopMaxN pop up to n members atomically, never blocking.
	ZPopMinN(ctx context.Context, key string, n int64) ([]ScoredItem, error)
	ZPopMaxN(ctx context.Context, key string, n int64) ([]ScoredItem, error)

	// ZPeekMin/ZPeekMax return up to n members without removing them.
	ZPeekMin(ctx context.Context, key string, n int64) ([]ScoredItem, error)
	ZPeekMax(ctx context.Context, key string, n int64) ([]ScoredItem, error)

	// ZCard returns the size of the sorted collection at key.
	ZCard(ctx context.Context, key string) (int64, error)

	// DeleteKey deletes an arbitrary key (sorted collection, string, ...).
	DeleteKey(ctx context.Context, key string) error

	// Scripting

	// ScriptLoad loads a script's source and returns its SHA.
	ScriptLoad(ctx context.Context, source string) (string, error)

	// EvalSHA invokes a previously loaded script by SHA.
	EvalSHA(ctx context.Context, sha string, keys []string, args ...interface{}) (interface{}, error)

	// Time returns the broker's wall clock as (seconds, microseconds).
	Time(ctx context.Context) (int64, int64, error)

	// Close releases the broker connection.
	Close() error
}

// ErrNotFound is returned by key-value operations (PExpire, Persist, PTTL)
// when the named key does not exist.
var ErrNotFound = fmt.Errorf("broker: key not found")

// ErrKeyExists is returned by SetNX's callers when they need a typed error
// instead of the boolean "created" return (the reference store uses this).
var ErrKeyExists = fmt.Errorf("broker: key already exists")
