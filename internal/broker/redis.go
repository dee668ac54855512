package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPoolSize is the default size of the pipelined transaction handle
// pool (spec §6.3).
const DefaultPoolSize = 20

// RedisBroker implements Broker over a real Redis (or Redis-protocol
// compatible) server via github.com/redis/go-redis/v9. Every multi-step
// operation (the ones spec §5 calls out as needing a pipelined transaction
// handle) acquires a token from txPool first, bounding how many such
// operations run concurrently against the connection.
type RedisBroker struct {
	client redis.UniversalClient
	txPool *Pool[struct{}]
}

// Option configures a RedisBroker at construction time.
type Option func(*redisOptions)

type redisOptions struct {
	poolSize int
}

// WithPoolSize overrides the default pipelined-handle pool size.
func WithPoolSize(n int) Option {
	return func(o *redisOptions) { o.poolSize = n }
}

// NewRedisBroker connects to addr and returns a ready-to-use Broker.
// Connectivity failures here are fatal for the caller (spec §7,
// "Broker connectivity failures at construction time are fatal for the
// element").
func NewRedisBroker(ctx context.Context, addr string, opts ...Option) (*RedisBroker, error) {
	o := redisOptions{poolSize: DefaultPoolSize}
	for _, opt := range opts {
		opt(&o)
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("broker: connect to %s: %w", addr, err)
	}

	pool, err := NewPool(o.poolSize, func() (struct{}, error) { return struct{}{}, nil })
	if err != nil {
		client.Close()
		return nil, err
	}

	return &RedisBroker{client: client, txPool: pool}, nil
}

func entryFromXMessage(m redis.XMessage) Entry {
	fields := make(map[string][]byte, len(m.Values))
	for k, v := range m.Values {
		switch val := v.(type) {
		case string:
			fields[k] = []byte(val)
		case []byte:
			fields[k] = val
		default:
			fields[k] = []byte(fmt.Sprintf("%v", val))
		}
	}
	return Entry{ID: EntryID(m.ID), Fields: fields}
}

func fieldsToValues(fields map[string][]byte) map[string]interface{} {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	return values
}

func (b *RedisBroker) Append(ctx context.Context, stream string, fields map[string][]byte, maxlen int64) (EntryID, error) {
	args := &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: fieldsToValues(fields),
	}
	if maxlen > 0 {
		args.MaxLen = maxlen
		args.Approx = true
	}
	id, err := b.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("broker: append to %s: %w", stream, err)
	}
	return EntryID(id), nil
}

func (b *RedisBroker) ReadBlock(ctx context.Context, from map[string]EntryID, count int64, block time.Duration) ([]StreamRead, error) {
	streams := make([]string, 0, len(from)*2)
	for name := range from {
		streams = append(streams, name)
	}
	for _, name := range streams {
		streams = append(streams, string(from[name]))
	}

	args := &redis.XReadArgs{Streams: streams, Block: block}
	if count > 0 {
		args.Count = count
	}

	res, err := b.client.XRead(ctx, args).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("broker: read block: %w", err)
	}

	out := make([]StreamRead, 0, len(res))
	for _, s := range res {
		entries := make([]Entry, 0, len(s.Messages))
		for _, m := range s.Messages {
			entries = append(entries, entryFromXMessage(m))
		}
		out = append(out, StreamRead{Stream: s.Stream, Entries: entries})
	}
	return out, nil
}

func (b *RedisBroker) RevRange(ctx context.Context, stream string, n int64) ([]Entry, error) {
	msgs, err := b.client.XRevRangeN(ctx, stream, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("broker: revrange %s: %w", stream, err)
	}
	out := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, entryFromXMessage(m))
	}
	return out, nil
}

func (b *RedisBroker) Range(ctx context.Context, stream string, since EntryID, n int64) ([]Entry, error) {
	start := "(" + string(since)
	if since == "" || since == Zero {
		start = "-"
	}
	var msgs []redis.XMessage
	var err error
	if n > 0 {
		msgs, err = b.client.XRangeN(ctx, stream, start, "+", n).Result()
	} else {
		msgs, err = b.client.XRange(ctx, stream, start, "+").Result()
	}
	if err != nil {
		return nil, fmt.Errorf("broker: range %s: %w", stream, err)
	}
	out := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, entryFromXMessage(m))
	}
	return out, nil
}

func (b *RedisBroker) DeleteStream(ctx context.Context, stream string) error {
	return b.client.Del(ctx, stream).Err()
}

func (b *RedisBroker) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := b.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("broker: setnx %s: %w", key, err)
	}
	return ok, nil
}

func (b *RedisBroker) Unlink(ctx context.Context, keys ...string) error {
	var outerErr error
	err := b.txPool.With(ctx, func(struct{}) error {
		existed, err := b.client.Exists(ctx, keys...).Result()
		if err != nil {
			return fmt.Errorf("broker: exists check: %w", err)
		}
		if existed != int64(len(keys)) {
			outerErr = ErrNotFound
		}
		return b.client.Unlink(ctx, keys...).Err()
	})
	if err != nil {
		return fmt.Errorf("broker: unlink: %w", err)
	}
	return outerErr
}

func (b *RedisBroker) PExpire(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := b.client.PExpire(ctx, key, ttl).Result()
	if err != nil {
		return fmt.Errorf("broker: pexpire %s: %w", key, err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (b *RedisBroker) Persist(ctx context.Context, key string) error {
	ok, err := b.client.Persist(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("broker: persist %s: %w", key, err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (b *RedisBroker) PTTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := b.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("broker: pttl %s: %w", key, err)
	}
	// go-redis reports PTTL's -2 (no key) and -1 (no expiry) replies as raw
	// Durations, not scaled to milliseconds.
	if d == -2 {
		return 0, ErrNotFound
	}
	if d == -1 {
		return -1, nil
	}
	return d, nil
}

func (b *RedisBroker) MGet(ctx context.Context, keys ...string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	err := b.txPool.With(ctx, func(struct{}) error {
		vals, err := b.client.MGet(ctx, keys...).Result()
		if err != nil {
			return err
		}
		for i, v := range vals {
			if v == nil {
				continue
			}
			if s, ok := v.(string); ok {
				out[keys[i]] = []byte(s)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("broker: mget: %w", err)
	}
	return out, nil
}

func (b *RedisBroker) ZAdd(ctx context.Context, key string, member []byte, score float64) (int64, error) {
	var size int64
	err := b.txPool.With(ctx, func(struct{}) error {
		if err := b.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
			return err
		}
		n, err := b.client.ZCard(ctx, key).Result()
		size = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("broker: zadd %s: %w", key, err)
	}
	return size, nil
}

func scoredFromZ(z redis.Z) ScoredItem {
	member, _ := z.Member.(string)
	return ScoredItem{Member: []byte(member), Score: z.Score}
}

func (b *RedisBroker) ZPopMin(ctx context.Context, key string, block bool, timeout time.Duration) (ScoredItem, bool, error) {
	if !block {
		zs, err := b.client.ZPopMin(ctx, key, 1).Result()
		if err != nil {
			return ScoredItem{}, false, fmt.Errorf("broker: zpopmin %s: %w", key, err)
		}
		if len(zs) == 0 {
			return ScoredItem{}, false, nil
		}
		return scoredFromZ(zs[0]), true, nil
	}
	res, err := b.client.BZPopMin(ctx, timeout, key).Result()
	if err == redis.Nil {
		return ScoredItem{}, false, nil
	}
	if err != nil {
		return ScoredItem{}, false, fmt.Errorf("broker: bzpopmin %s: %w", key, err)
	}
	return scoredFromZ(res.Z), true, nil
}

func (b *RedisBroker) ZPopMax(ctx context.Context, key string, block bool, timeout time.Duration) (ScoredItem, bool, error) {
	if !block {
		zs, err := b.client.ZPopMax(ctx, key, 1).Result()
		if err != nil {
			return ScoredItem{}, false, fmt.Errorf("broker: zpopmax %s: %w", key, err)
		}
		if len(zs) == 0 {
			return ScoredItem{}, false, nil
		}
		return scoredFromZ(zs[0]), true, nil
	}
	res, err := b.client.BZPopMax(ctx, timeout, key).Result()
	if err == redis.Nil {
		return ScoredItem{}, false, nil
	}
	if err != nil {
		return ScoredItem{}, false, fmt.Errorf("broker: bzpopmax %s: %w", key, err)
	}
	return scoredFromZ(res.Z), true, nil
}

func (b *RedisBroker) ZPopMinN(ctx context.Context, key string, n int64) ([]ScoredItem, error) {
	zs, err := b.client.ZPopMin(ctx, key, n).Result()
	if err != nil {
		return nil, fmt.Errorf("broker: zpopminn %s: %w", key, err)
	}
	out := make([]ScoredItem, 0, len(zs))
	for _, z := range zs {
		out = append(out, scoredFromZ(z))
	}
	return out, nil
}

func (b *RedisBroker) ZPopMaxN(ctx context.Context, key string, n int64) ([]ScoredItem, error) {
	zs, err := b.client.ZPopMax(ctx, key, n).Result()
	if err != nil {
		return nil, fmt.Errorf("broker: zpopmaxn %s: %w", key, err)
	}
	out := make([]ScoredItem, 0, len(zs))
	for _, z := range zs {
		out = append(out, scoredFromZ(z))
	}
	return out, nil
}

func (b *RedisBroker) ZPeekMin(ctx context.Context, key string, n int64) ([]ScoredItem, error) {
	zs, err := b.client.ZRangeWithScores(ctx, key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("broker: zpeekmin %s: %w", key, err)
	}
	out := make([]ScoredItem, 0, len(zs))
	for _, z := range zs {
		out = append(out, scoredFromZ(z))
	}
	return out, nil
}

func (b *RedisBroker) ZPeekMax(ctx context.Context, key string, n int64) ([]ScoredItem, error) {
	zs, err := b.client.ZRevRangeWithScores(ctx, key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("broker: zpeekmax %s: %w", key, err)
	}
	out := make([]ScoredItem, 0, len(zs))
	for _, z := range zs {
		out = append(out, scoredFromZ(z))
	}
	return out, nil
}

func (b *RedisBroker) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := b.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("broker: zcard %s: %w", key, err)
	}
	return n, nil
}

func (b *RedisBroker) DeleteKey(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

func (b *RedisBroker) ScriptLoad(ctx context.Context, source string) (string, error) {
	sha, err := b.client.ScriptLoad(ctx, source).Result()
	if err != nil {
		return "", fmt.Errorf("broker: script load: %w", err)
	}
	return sha, nil
}

func (b *RedisBroker) EvalSHA(ctx context.Context, sha string, keys []string, args ...interface{}) (interface{}, error) {
	res, err := b.client.EvalSha(ctx, sha, keys, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("broker: evalsha: %w", err)
	}
	return res, nil
}

func (b *RedisBroker) Time(ctx context.Context) (int64, int64, error) {
	t, err := b.client.Time(ctx).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("broker: time: %w", err)
	}
	return t.Unix(), int64(t.Nanosecond() / 1000), nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}

var _ Broker = (*RedisBroker)(nil)
