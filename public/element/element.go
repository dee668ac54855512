// Package element implements the peer-to-peer runtime participant spec §3
// calls an Element: a named, long-lived process that publishes to streams
// it owns, consumes streams owned by others, and exchanges commands with
// other elements through the broker's command/response inboxes.
//
// This mirrors the shape of the teacher's BaseAgent (identity, config,
// logging, lifecycle) generalized away from that package's TCP
// support-service and VFS concerns, which have no analog here: an Element
// talks to nothing but the broker.
package element

import (
	"context"
	"fmt"
	"sync"

	"github.com/fatash89/atom/internal/broker"
	"github.com/fatash89/atom/internal/config"
	"github.com/fatash89/atom/internal/envelope/codec"
	"github.com/fatash89/atom/internal/logging"
)

// Language is the runtime tag this module's `version` handler reports.
const Language = "go"

// ModuleVersion is the major.minor version every element reports from its
// built-in `version` command.
const ModuleVersion = 1.0

// Element is one named participant in the broker-mediated runtime.
type Element struct {
	Name string
	Host string

	b     broker.Broker
	codec codec.Codec
	cfg   config.Config
	log   *logging.Logger
	pool  *broker.Pool[struct{}]

	ownedMu      sync.Mutex
	ownedStreams map[string]struct{}

	handlersMu sync.RWMutex
	handlers   map[string]*registeredHandler

	commandLastID broker.EntryID

	responseMu     sync.Mutex
	responseLastID broker.EntryID

	ctx    context.Context
	cancel context.CancelFunc
}

// registeredHandler pairs a handler with the dispatch metadata spec §4.5
// requires: whether to deserialize incoming data, this command's own
// response timeout (falling back to the element default when zero), and
// the body codec used to decode its incoming Command and encode its
// Response (selected per Handle call, defaulting to the element default).
type registeredHandler struct {
	name              string
	fn                HandlerFunc
	deserialize       bool
	responseTimeoutMS int64
	codec             codec.Codec
}

// reservedCommands are always present and only individually replaceable
// the ways spec §4.7 allows (healthcheck via HealthcheckSet).
var reservedCommands = map[string]struct{}{
	"version":       {},
	"command_list":  {},
	"healthcheck":   {},
}

// New constructs an Element named name, announces its presence on its
// command and response inboxes, and registers the three reserved
// commands. The returned Element is ready to Publish, Send, and Serve.
func New(ctx context.Context, name, host string, b broker.Broker, cfg config.Config, log *logging.Logger) (*Element, error) {
	if name == "" {
		return nil, fmt.Errorf("element: name must not be empty")
	}
	pool, err := broker.NewPool(cfg.PoolSize, func() (struct{}, error) { return struct{}{}, nil })
	if err != nil {
		return nil, fmt.Errorf("element: %w", err)
	}

	elemCtx, cancel := context.WithCancel(ctx)
	e := &Element{
		Name:         name,
		Host:         host,
		b:            b,
		codec:        codec.Default(),
		cfg:          cfg,
		log:          log,
		pool:         pool,
		ownedStreams: make(map[string]struct{}),
		handlers:     make(map[string]*registeredHandler),
		ctx:          elemCtx,
		cancel:       cancel,
	}

	presence := map[string][]byte{
		"element": []byte(name),
		"host":    []byte(host),
		"event":   []byte("online"),
	}
	cmdID, err := b.Append(elemCtx, commandKey(name), presence, cfg.StreamMaxLen)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("element: announce on %s: %w", commandKey(name), err)
	}
	e.commandLastID = cmdID

	respID, err := b.Append(elemCtx, responseKey(name), presence, cfg.StreamMaxLen)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("element: announce on %s: %w", responseKey(name), err)
	}
	e.responseLastID = respID

	e.registerReservedHandlers()
	return e, nil
}

// Close deletes this element's command and response inboxes and every
// stream it published to, per spec §3's
// Element lifecycle ("destroyed by deleting those streams and all owned
// stream:<name>:*").
func (e *Element) Close() error {
	e.cancel()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(e.b.DeleteStream(context.Background(), commandKey(e.Name)))
	record(e.b.DeleteStream(context.Background(), responseKey(e.Name)))

	e.ownedMu.Lock()
	streams := make([]string, 0, len(e.ownedStreams))
	for s := range e.ownedStreams {
		streams = append(streams, s)
	}
	e.ownedMu.Unlock()

	for _, s := range streams {
		record(e.b.DeleteStream(context.Background(), streamKey(e.Name, s)))
	}
	return firstErr
}

func commandKey(element string) string  { return "command:" + element }
func responseKey(element string) string { return "response:" + element }
func streamKey(element, stream string) string {
	return fmt.Sprintf("stream:%s:%s", element, stream)
}

func (e *Element) logf(format string, args ...interface{}) {
	if e.log != nil {
		e.log.Debug(format, args...)
	}
}

// resolveCodec looks up the body codec named name, falling back to the
// element's default (msgpack) when name is "". Every public operation that
// touches the wire (Publish, ReadN/ReadSince/ReadLoop, Handle, Send) takes a
// codec name through this, so columnar/identity are reachable per call
// rather than fixed at element construction (spec §4.1).
func (e *Element) resolveCodec(name string) (codec.Codec, error) {
	if name == "" {
		return e.codec, nil
	}
	return codec.Resolve(name)
}
