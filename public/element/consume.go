package element

import (
	"context"
	"fmt"
	"time"

	"github.com/fatash89/atom/internal/broker"
	"github.com/fatash89/atom/internal/envelope/codec"
)

// Entry is one decoded stream record, with its broker-assigned id exposed
// as a plain field the way spec §4.4 describes ("its id field set to the
// broker id").
type Entry struct {
	ID     string
	Fields map[string]interface{}
}

func decodeEntry(c codec.Codec, e broker.Entry, deserialize bool) (Entry, error) {
	fields := make(map[string]interface{}, len(e.Fields)+1)
	for k, v := range e.Fields {
		if !deserialize {
			fields[k] = v
			continue
		}
		val, err := codec.DecodeValue(c, v)
		if err != nil {
			return Entry{}, fmt.Errorf("element: decode field %q: %w", k, err)
		}
		fields[k] = val
	}
	fields["id"] = string(e.ID)
	return Entry{ID: string(e.ID), Fields: fields}, nil
}

// ReadN implements read_n: up to n most recent entries of stream owned by
// element, newest first. codecName selects the body codec used to decode
// fields when deserialize is set ("" selects the element's default).
func (e *Element) ReadN(ctx context.Context, owner, stream string, n int64, deserialize bool, codecName string) ([]Entry, error) {
	key := streamKey(owner, stream)
	c, err := e.resolveCodec(codecName)
	if err != nil {
		return nil, fmt.Errorf("element: read_n: %w", err)
	}
	raw, err := e.b.RevRange(ctx, key, n)
	if err != nil {
		return nil, fmt.Errorf("element: read_n %s: %w", key, err)
	}
	out := make([]Entry, 0, len(raw))
	for _, re := range raw {
		entry, err := decodeEntry(c, re, deserialize)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// resolveCursor turns read_since's lastID sentinel ("$" = only future
// entries, "0" = from the beginning) into a concrete broker.EntryID.
func (e *Element) resolveCursor(ctx context.Context, key, lastID string) (broker.EntryID, error) {
	switch lastID {
	case "$":
		latest, err := e.b.RevRange(ctx, key, 1)
		if err != nil {
			return "", fmt.Errorf("element: resolve $ cursor on %s: %w", key, err)
		}
		if len(latest) == 0 {
			return broker.Zero, nil
		}
		return latest[0].ID, nil
	case "0", "":
		return broker.Zero, nil
	default:
		return broker.EntryID(lastID), nil
	}
}

// ReadSince implements read_since: entries strictly after lastID, up to n
// (n<=0 means unbounded). blockMS is optional: nil picks the default
// implied by lastID ("$" blocks forever, anything else returns
// immediately); 0 blocks forever explicitly; >0 bounds the wait. codecName
// selects the body codec used to decode fields when deserialize is set
// ("" selects the element's default).
func (e *Element) ReadSince(ctx context.Context, owner, stream, lastID string, n int64, blockMS *int64, deserialize bool, codecName string) ([]Entry, error) {
	key := streamKey(owner, stream)
	c, err := e.resolveCodec(codecName)
	if err != nil {
		return nil, fmt.Errorf("element: read_since: %w", err)
	}
	cursor, err := e.resolveCursor(ctx, key, lastID)
	if err != nil {
		return nil, err
	}

	block := defaultBlockFor(lastID, blockMS)

	reads, err := e.b.ReadBlock(ctx, map[string]broker.EntryID{key: cursor}, n, block)
	if err != nil {
		return nil, fmt.Errorf("element: read_since %s: %w", key, err)
	}
	if len(reads) == 0 {
		return nil, nil
	}

	out := make([]Entry, 0, len(reads[0].Entries))
	for _, re := range reads[0].Entries {
		entry, err := decodeEntry(c, re, deserialize)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func defaultBlockFor(lastID string, blockMS *int64) time.Duration {
	if blockMS != nil {
		if *blockMS == 0 {
			return 0
		}
		return time.Duration(*blockMS) * time.Millisecond
	}
	if lastID == "$" {
		return 0 // forever
	}
	return -1 // immediate
}

// StreamHandler is one (element, stream) pair and its ReadLoop callback.
// Codec selects the body codec used to decode this stream's entries (""
// selects the element's default), so a single ReadLoop can multiplex
// streams written with different codecs.
type StreamHandler struct {
	Element string
	Stream  string
	Codec   string
	Fn      func(Entry)
}

// ReadLoop implements read_loop: a multiplexed tail of several streams.
// Each cursor starts at the broker's current tip (only entries published
// after the loop starts are delivered). nLoops nil means no iteration
// limit; otherwise the loop performs at most that many blocking reads. The
// loop also returns when ctx is canceled or when a read comes back empty
// (the block expired).
// Handlers run synchronously, in broker order within each stream, with no
// ordering guarantee across streams beyond the broker's own multiplexing.
func (e *Element) ReadLoop(ctx context.Context, handlers []StreamHandler, nLoops *int, blockMS int64, deserialize bool) error {
	keys := make(map[string]StreamHandler, len(handlers))
	codecs := make(map[string]codec.Codec, len(handlers))
	cursors := make(map[string]broker.EntryID, len(handlers))

	for _, h := range handlers {
		key := streamKey(h.Element, h.Stream)
		keys[key] = h
		c, err := e.resolveCodec(h.Codec)
		if err != nil {
			return fmt.Errorf("element: read_loop: %w", err)
		}
		codecs[key] = c
		cursor, err := e.resolveCursor(ctx, key, "$")
		if err != nil {
			return err
		}
		cursors[key] = cursor
	}

	block := time.Duration(blockMS) * time.Millisecond
	if blockMS == 0 {
		block = 0
	}

	iterations := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if nLoops != nil && iterations >= *nLoops {
			return nil
		}
		iterations++

		reads, err := e.b.ReadBlock(ctx, cursors, 0, block)
		if err != nil {
			return fmt.Errorf("element: read_loop: %w", err)
		}
		if len(reads) == 0 {
			return nil
		}

		for _, r := range reads {
			h, ok := keys[r.Stream]
			if !ok {
				continue
			}
			for _, re := range r.Entries {
				entry, err := decodeEntry(codecs[r.Stream], re, deserialize)
				if err != nil {
					e.logf("read_loop: %v", err)
					continue
				}
				h.Fn(entry)
				cursors[r.Stream] = re.ID
			}
		}
	}
}
