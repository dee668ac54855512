package element

import (
	"context"
	"fmt"

	"github.com/fatash89/atom/internal/broker"
	"github.com/fatash89/atom/internal/envelope/codec"
	"github.com/fatash89/atom/internal/errcode"
)

// Result is a handler's outcome: ErrCode 0 means success. A non-zero
// ErrCode is a handler-defined code in the handler's own small space; the
// dispatch loop offsets it into the wire's user range (spec §7) before
// sending the Response.
type Result struct {
	Data    map[string]interface{}
	ErrCode int
	ErrStr  string
}

// HandlerFunc handles one decoded Command. kwargs holds every field on the
// Command entry other than the reserved ones; reserved commands are
// invoked with both arguments nil.
type HandlerFunc func(data map[string]interface{}, kwargs map[string]interface{}) (*Result, error)

// Handle registers a command handler. codecName selects the body codec
// used to decode this command's incoming data/kwargs and encode its
// Response ("" selects the element's default, msgpack). Registering a
// reserved name (version, command_list, healthcheck) fails; use
// HealthcheckSet to replace the healthcheck handler specifically.
func (e *Element) Handle(name string, fn HandlerFunc, deserialize bool, responseTimeoutMS int64, codecName string) error {
	if _, reserved := reservedCommands[name]; reserved {
		return fmt.Errorf("element: %q is a reserved command name, use HealthcheckSet for healthcheck", name)
	}
	c, err := e.resolveCodec(codecName)
	if err != nil {
		return fmt.Errorf("element: handle %q: %w", name, err)
	}
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.handlers[name] = &registeredHandler{name: name, fn: fn, deserialize: deserialize, responseTimeoutMS: responseTimeoutMS, codec: c}
	return nil
}

// HealthcheckSet replaces the healthcheck handler (spec §4.7); the default
// installed at New always returns success.
func (e *Element) HealthcheckSet(fn HandlerFunc, deserialize bool, responseTimeoutMS int64, codecName string) error {
	c, err := e.resolveCodec(codecName)
	if err != nil {
		return fmt.Errorf("element: healthcheck_set: %w", err)
	}
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.handlers["healthcheck"] = &registeredHandler{name: "healthcheck", fn: fn, deserialize: deserialize, responseTimeoutMS: responseTimeoutMS, codec: c}
	return nil
}

func (e *Element) registerReservedHandlers() {
	e.handlers["version"] = &registeredHandler{
		name:  "version",
		codec: e.codec,
		fn: func(map[string]interface{}, map[string]interface{}) (*Result, error) {
			return &Result{Data: map[string]interface{}{
				"language": Language,
				"version":  ModuleVersion,
			}}, nil
		},
	}
	e.handlers["command_list"] = &registeredHandler{
		name:  "command_list",
		codec: e.codec,
		fn: func(map[string]interface{}, map[string]interface{}) (*Result, error) {
			e.handlersMu.RLock()
			names := make([]interface{}, 0, len(e.handlers))
			for name := range e.handlers {
				if _, reserved := reservedCommands[name]; reserved {
					continue
				}
				names = append(names, name)
			}
			e.handlersMu.RUnlock()
			return &Result{Data: map[string]interface{}{"commands": names}}, nil
		},
	}
	e.handlers["healthcheck"] = &registeredHandler{
		name:  "healthcheck",
		codec: e.codec,
		fn: func(map[string]interface{}, map[string]interface{}) (*Result, error) {
			return &Result{Data: map[string]interface{}{"ok": true}}, nil
		},
	}
}

// Serve runs the dispatch loop (spec §4.5) until ctx is canceled or the
// element's own Close runs: it blocks on command:<self> from
// commandLastID, acknowledges every Command before running its handler,
// and writes exactly one Response per Command.
func (e *Element) Serve(ctx context.Context) error {
	key := commandKey(e.Name)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.ctx.Done():
			return nil
		default:
		}

		reads, err := e.b.ReadBlock(ctx, map[string]broker.EntryID{key: e.commandLastID}, 0, e.cfg.BrokerMaxBlock)
		if err != nil {
			return fmt.Errorf("element: dispatch loop read: %w", err)
		}
		if len(reads) == 0 {
			continue
		}

		for _, re := range reads[0].Entries {
			e.commandLastID = re.ID
			e.dispatch(ctx, re)
		}
	}
}

func (e *Element) dispatch(ctx context.Context, re broker.Entry) {
	caller, hasCaller := re.Fields["element"]
	cmdBytes, hasCmd := re.Fields["cmd"]
	if !hasCaller || !hasCmd {
		e.logf("dispatch: skipping malformed command entry %s", re.ID)
		return
	}
	cmd := string(cmdBytes)
	cmdID := string(re.ID)
	callerName := string(caller)

	handler, found := e.lookupHandler(cmd)
	timeoutMS := e.cfg.ResponseTimeoutMS
	if found && handler.responseTimeoutMS > 0 {
		timeoutMS = handler.responseTimeoutMS
	}

	ackFields := map[string][]byte{
		"element": []byte(e.Name),
		"cmd_id":  []byte(cmdID),
		"timeout": []byte(fmt.Sprintf("%d", timeoutMS)),
	}
	if _, err := e.b.Append(ctx, responseKey(callerName), ackFields, e.cfg.StreamMaxLen); err != nil {
		e.logf("dispatch: ack to %s failed: %v", callerName, err)
	}

	if !found {
		e.sendResponse(ctx, callerName, cmdID, cmd, nil, errcode.CommandUnsupported, fmt.Sprintf("unknown command %q", cmd), e.codec)
		return
	}

	data, kwargs, err := e.decodeCommand(re, handler)
	if err != nil {
		e.sendResponse(ctx, callerName, cmdID, cmd, nil, errcode.CommandInvalidData, err.Error(), handler.codec)
		return
	}
	if _, reserved := reservedCommands[cmd]; reserved {
		data, kwargs = nil, nil
	}

	result, err := handler.fn(data, kwargs)
	if err != nil {
		e.sendResponse(ctx, callerName, cmdID, cmd, nil, errcode.CallbackFailed, err.Error(), handler.codec)
		return
	}
	if result == nil {
		e.sendResponse(ctx, callerName, cmdID, cmd, nil, errcode.CallbackFailed, "handler returned no result", handler.codec)
		return
	}

	wireCode := errcode.NoError
	if result.ErrCode != 0 {
		wireCode = errcode.UserCode(result.ErrCode)
	}
	e.sendResponse(ctx, callerName, cmdID, cmd, result.Data, wireCode, result.ErrStr, handler.codec)
}

func (e *Element) lookupHandler(cmd string) (*registeredHandler, bool) {
	e.handlersMu.RLock()
	defer e.handlersMu.RUnlock()
	h, ok := e.handlers[cmd]
	return h, ok
}

func (e *Element) decodeCommand(re broker.Entry, h *registeredHandler) (data, kwargs map[string]interface{}, err error) {
	kwargs = make(map[string]interface{})
	for k, v := range re.Fields {
		switch k {
		case "element", "cmd", "cmd_id", "timeout":
			continue
		case "data":
			if h.deserialize {
				m, derr := h.codec.Unmarshal(v)
				if derr != nil {
					return nil, nil, fmt.Errorf("decode data: %w", derr)
				}
				data = m
			} else {
				data = map[string]interface{}{"raw": v}
			}
		default:
			if h.deserialize {
				val, derr := codec.DecodeValue(h.codec, v)
				if derr != nil {
					return nil, nil, fmt.Errorf("decode kwarg %q: %w", k, derr)
				}
				kwargs[k] = val
			} else {
				kwargs[k] = v
			}
		}
	}
	return data, kwargs, nil
}

func (e *Element) sendResponse(ctx context.Context, callee, cmdID, cmd string, data map[string]interface{}, errCode errcode.Code, errStr string, c codec.Codec) {
	fields := map[string][]byte{
		"element":  []byte(e.Name),
		"cmd_id":   []byte(cmdID),
		"cmd":      []byte(cmd),
		"err_code": []byte(fmt.Sprintf("%d", errCode)),
		"err_str":  []byte(errStr),
	}
	if data != nil {
		buf, err := c.Marshal(data)
		if err != nil {
			e.logf("sendResponse: marshal data: %v", err)
		} else {
			fields["data"] = buf
		}
	}
	if _, err := e.b.Append(ctx, responseKey(callee), fields, e.cfg.StreamMaxLen); err != nil {
		e.logf("sendResponse: append to %s failed: %v", callee, err)
	}
}
