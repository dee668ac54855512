// Package brokertest provides an in-memory stand-in for internal/broker.Broker
// so package tests exercise real stream/KV/sorted-collection semantics without
// a live Redis server.
package brokertest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/fatash89/atom/internal/broker"
)

type ttlEntry struct {
	value   []byte
	expires time.Time
	hasTTL  bool
}

type zmember struct {
	member []byte
	score  float64
}

// Fake is a single-process, mutex-guarded Broker good enough to drive every
// invariant the element runtime, reference store, and queue layer depend on:
// monotonic stream ids, blocking multi-stream reads, TTL expiry, and
// score-ordered sorted collections.
type Fake struct {
	mu      sync.Mutex
	cond    *sync.Cond
	streams map[string][]broker.Entry
	kv      map[string]ttlEntry
	zsets   map[string][]zmember
	scripts map[string]string
	seq     int64
}

// New returns a ready-to-use Fake.
func New() *Fake {
	f := &Fake{
		streams: make(map[string][]broker.Entry),
		kv:      make(map[string]ttlEntry),
		zsets:   make(map[string][]zmember),
		scripts: make(map[string]string),
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

func (f *Fake) nextID() broker.EntryID {
	f.seq++
	return broker.EntryID(fmt.Sprintf("%d-%d", time.Now().UnixMilli(), f.seq))
}

func cloneFields(in map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(in))
	for k, v := range in {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

func (f *Fake) Append(ctx context.Context, stream string, fields map[string][]byte, maxlen int64) (broker.EntryID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID()
	entries := append(f.streams[stream], broker.Entry{ID: id, Fields: cloneFields(fields)})
	if maxlen > 0 && int64(len(entries)) > maxlen {
		entries = entries[int64(len(entries))-maxlen:]
	}
	f.streams[stream] = entries
	f.cond.Broadcast()
	return id, nil
}

func (f *Fake) entriesAfter(stream string, since broker.EntryID) []broker.Entry {
	var out []broker.Entry
	for _, e := range f.streams[stream] {
		if e.ID.After(since) {
			out = append(out, e)
		}
	}
	return out
}

func (f *Fake) ReadBlock(ctx context.Context, from map[string]broker.EntryID, count int64, block time.Duration) ([]broker.StreamRead, error) {
	deadline := time.Time{}
	if block > 0 {
		deadline = time.Now().Add(block)
	}

	for {
		f.mu.Lock()
		var out []broker.StreamRead
		for stream, since := range from {
			entries := f.entriesAfter(stream, since)
			if count > 0 && int64(len(entries)) > count {
				entries = entries[:count]
			}
			if len(entries) > 0 {
				out = append(out, broker.StreamRead{Stream: stream, Entries: entries})
			}
		}
		if len(out) > 0 || block < 0 {
			f.mu.Unlock()
			return out, nil
		}
		if block == 0 {
			f.waitLocked()
			f.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			continue
		}
		remaining := time.Until(deadline)
		f.mu.Unlock()
		if remaining <= 0 {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(minDuration(remaining, 5*time.Millisecond)):
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// waitLocked blocks on f.cond, reacquiring f.mu before returning (matching
// sync.Cond.Wait's contract); callers must hold f.mu on entry.
func (f *Fake) waitLocked() {
	f.cond.Wait()
}

func (f *Fake) RevRange(ctx context.Context, stream string, n int64) ([]broker.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := f.streams[stream]
	out := make([]broker.Entry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
		if n > 0 && int64(len(out)) >= n {
			break
		}
	}
	return out, nil
}

func (f *Fake) Range(ctx context.Context, stream string, since broker.EntryID, n int64) ([]broker.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := f.entriesAfter(stream, since)
	if n > 0 && int64(len(entries)) > n {
		entries = entries[:n]
	}
	return entries, nil
}

func (f *Fake) DeleteStream(ctx context.Context, stream string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.streams, stream)
	return nil
}

func (f *Fake) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.kv[key]; ok && !f.expiredLocked(key, e) {
		return false, nil
	}
	entry := ttlEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.hasTTL = true
		entry.expires = time.Now().Add(ttl)
	}
	f.kv[key] = entry
	return true, nil
}

func (f *Fake) expiredLocked(key string, e ttlEntry) bool {
	if !e.hasTTL {
		return false
	}
	if time.Now().After(e.expires) {
		delete(f.kv, key)
		return true
	}
	return false
}

func (f *Fake) Unlink(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		if _, ok := f.kv[k]; !ok {
			return broker.ErrNotFound
		}
	}
	for _, k := range keys {
		delete(f.kv, k)
	}
	return nil
}

func (f *Fake) PExpire(ctx context.Context, key string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.kv[key]
	if !ok || f.expiredLocked(key, e) {
		return broker.ErrNotFound
	}
	e.hasTTL = true
	e.expires = time.Now().Add(ttl)
	f.kv[key] = e
	return nil
}

func (f *Fake) Persist(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.kv[key]
	if !ok || f.expiredLocked(key, e) {
		return broker.ErrNotFound
	}
	e.hasTTL = false
	f.kv[key] = e
	return nil
}

func (f *Fake) PTTL(ctx context.Context, key string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.kv[key]
	if !ok || f.expiredLocked(key, e) {
		return 0, broker.ErrNotFound
	}
	if !e.hasTTL {
		return -1, nil
	}
	return time.Until(e.expires), nil
}

func (f *Fake) MGet(ctx context.Context, keys ...string) (map[string][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		e, ok := f.kv[k]
		if !ok || f.expiredLocked(k, e) {
			continue
		}
		out[k] = append([]byte(nil), e.value...)
	}
	return out, nil
}

func (f *Fake) ZAdd(ctx context.Context, key string, member []byte, score float64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zsets[key] = append(f.zsets[key], zmember{member: append([]byte(nil), member...), score: score})
	f.cond.Broadcast()
	return int64(len(f.zsets[key])), nil
}

func sortAsc(items []zmember) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].score < items[j].score })
}

func sortDesc(items []zmember) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].score > items[j].score })
}

func (f *Fake) popLocked(key string, asc bool, n int64) []broker.ScoredItem {
	items := f.zsets[key]
	if asc {
		sortAsc(items)
	} else {
		sortDesc(items)
	}
	if n <= 0 {
		n = 1
	}
	if int64(len(items)) < n {
		n = int64(len(items))
	}
	popped := items[:n]
	f.zsets[key] = items[n:]
	out := make([]broker.ScoredItem, 0, len(popped))
	for _, m := range popped {
		out = append(out, broker.ScoredItem{Member: m.member, Score: m.score})
	}
	return out
}

func (f *Fake) ZPopMin(ctx context.Context, key string, block bool, timeout time.Duration) (broker.ScoredItem, bool, error) {
	deadline := time.Time{}
	if block && timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		f.mu.Lock()
		if len(f.zsets[key]) > 0 {
			items := f.popLocked(key, true, 1)
			f.mu.Unlock()
			return items[0], true, nil
		}
		if !block {
			f.mu.Unlock()
			return broker.ScoredItem{}, false, nil
		}
		if timeout > 0 && !time.Now().Before(deadline) {
			f.mu.Unlock()
			return broker.ScoredItem{}, false, nil
		}
		if timeout > 0 {
			f.mu.Unlock()
			select {
			case <-ctx.Done():
				return broker.ScoredItem{}, false, ctx.Err()
			case <-time.After(minDuration(time.Until(deadline), 5*time.Millisecond)):
			}
			continue
		}
		f.waitLocked()
		f.mu.Unlock()
		select {
		case <-ctx.Done():
			return broker.ScoredItem{}, false, ctx.Err()
		default:
		}
	}
}

func (f *Fake) ZPopMax(ctx context.Context, key string, block bool, timeout time.Duration) (broker.ScoredItem, bool, error) {
	deadline := time.Time{}
	if block && timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		f.mu.Lock()
		if len(f.zsets[key]) > 0 {
			items := f.popLocked(key, false, 1)
			f.mu.Unlock()
			return items[0], true, nil
		}
		if !block {
			f.mu.Unlock()
			return broker.ScoredItem{}, false, nil
		}
		if timeout > 0 && !time.Now().Before(deadline) {
			f.mu.Unlock()
			return broker.ScoredItem{}, false, nil
		}
		if timeout > 0 {
			f.mu.Unlock()
			select {
			case <-ctx.Done():
				return broker.ScoredItem{}, false, ctx.Err()
			case <-time.After(minDuration(time.Until(deadline), 5*time.Millisecond)):
			}
			continue
		}
		f.waitLocked()
		f.mu.Unlock()
		select {
		case <-ctx.Done():
			return broker.ScoredItem{}, false, ctx.Err()
		default:
		}
	}
}

func (f *Fake) ZPopMinN(ctx context.Context, key string, n int64) ([]broker.ScoredItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.popLocked(key, true, n), nil
}

func (f *Fake) ZPopMaxN(ctx context.Context, key string, n int64) ([]broker.ScoredItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.popLocked(key, false, n), nil
}

func (f *Fake) peekLocked(key string, asc bool, n int64) []broker.ScoredItem {
	items := append([]zmember(nil), f.zsets[key]...)
	if asc {
		sortAsc(items)
	} else {
		sortDesc(items)
	}
	if n > 0 && int64(len(items)) > n {
		items = items[:n]
	}
	out := make([]broker.ScoredItem, 0, len(items))
	for _, m := range items {
		out = append(out, broker.ScoredItem{Member: m.member, Score: m.score})
	}
	return out
}

func (f *Fake) ZPeekMin(ctx context.Context, key string, n int64) ([]broker.ScoredItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peekLocked(key, true, n), nil
}

func (f *Fake) ZPeekMax(ctx context.Context, key string, n int64) ([]broker.ScoredItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peekLocked(key, false, n), nil
}

func (f *Fake) ZCard(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.zsets[key])), nil
}

func (f *Fake) DeleteKey(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.zsets, key)
	delete(f.kv, key)
	return nil
}

func (f *Fake) ScriptLoad(ctx context.Context, source string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sha := fmt.Sprintf("sha-%d", len(f.scripts)+1)
	f.scripts[sha] = source
	return sha, nil
}

// EvalSHA supports exactly the one script this module ships
// (scripts/stream_to_ref.lua): snapshot one entry of keys[0] (args[0] picks
// the entry id, "" means the most recent) into one key-value key per field,
// named args[1]+":"+field, honoring an optional TTL in args[2]
// (milliseconds). Returns the flat {field, key, field, key, ...} array the
// real script returns. Anything else is a test-authoring error, reported as
// such rather than silently no-opping.
func (f *Fake) EvalSHA(ctx context.Context, sha string, keys []string, args ...interface{}) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.scripts[sha]; !ok {
		return nil, fmt.Errorf("brokertest: unknown script sha %q", sha)
	}
	if len(keys) != 1 {
		return nil, fmt.Errorf("brokertest: stream_to_ref script expects 1 key, got %d", len(keys))
	}
	if len(args) != 3 {
		return nil, fmt.Errorf("brokertest: stream_to_ref script expects 3 args, got %d", len(args))
	}
	entryID, ok := asFakeString(args[0])
	if !ok {
		return nil, fmt.Errorf("brokertest: stream_to_ref arg[0] (entry id) must be a string")
	}
	base, ok := asFakeString(args[1])
	if !ok {
		return nil, fmt.Errorf("brokertest: stream_to_ref arg[1] (base key) must be a string")
	}
	ttlMs, _ := toInt64(args[2])

	entries := f.streams[keys[0]]
	var entry *broker.Entry
	if entryID == "" {
		if len(entries) > 0 {
			entry = &entries[len(entries)-1]
		}
	} else {
		for i := range entries {
			if string(entries[i].ID) == entryID {
				entry = &entries[i]
				break
			}
		}
	}
	if entry == nil {
		return []interface{}{}, nil
	}

	out := make([]interface{}, 0, len(entry.Fields)*2)
	for field, value := range entry.Fields {
		key := base + ":" + field
		e := ttlEntry{value: append([]byte(nil), value...)}
		if ttlMs > 0 {
			e.hasTTL = true
			e.expires = time.Now().Add(time.Duration(ttlMs) * time.Millisecond)
		}
		f.kv[key] = e
		out = append(out, field, key)
	}
	return out, nil
}

func asFakeString(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func toInt64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func (f *Fake) Time(ctx context.Context) (int64, int64, error) {
	now := time.Now()
	return now.Unix(), int64(now.Nanosecond() / 1000), nil
}

func (f *Fake) Close() error { return nil }

var _ broker.Broker = (*Fake)(nil)
