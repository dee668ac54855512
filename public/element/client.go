package element

import (
	"context"
	"fmt"
	"time"

	"github.com/fatash89/atom/internal/broker"
	"github.com/fatash89/atom/internal/envelope/codec"
	"github.com/fatash89/atom/internal/errcode"
)

// Response is what command_send returns to its caller: the decoded
// Response envelope plus any extra non-reserved keys the callee attached,
// propagated verbatim as Raw ("raw data" per spec §4.6).
type Response struct {
	CmdID   string
	ErrCode errcode.Code
	ErrStr  string
	Data    map[string]interface{}
	Raw     map[string]interface{}
}

// advanceResponseLastID updates the element's shared response_last_id
// cursor only if id is strictly newer, under a single short exclusive
// lock (spec §4.6/§5's single-writer, advance-only-if-newer rule).
func (e *Element) advanceResponseLastID(id broker.EntryID) {
	e.responseMu.Lock()
	defer e.responseMu.Unlock()
	if id.After(e.responseLastID) {
		e.responseLastID = id
	}
}

func (e *Element) snapshotResponseLastID() broker.EntryID {
	e.responseMu.Lock()
	defer e.responseMu.Unlock()
	return e.responseLastID
}

// Send implements command_send (spec §4.6): it appends a Command to
// command:<callee>, waits for an Acknowledgement on response:<self>
// within ackTimeoutMS, then waits for the matching Response within the
// timeout the Acknowledgement itself carried. codecName selects the body
// codec used to encode the outgoing data/kwargs and decode the Response
// ("" selects the element's default, msgpack); caller and callee must
// agree on it out of band, the same way they must agree on a command name.
func (e *Element) Send(ctx context.Context, callee, cmd string, data map[string]interface{}, serialize, deserialize bool, ackTimeoutMS int64, extraKwargs map[string]interface{}, codecName string) (*Response, error) {
	if ackTimeoutMS <= 0 {
		ackTimeoutMS = e.cfg.AckTimeoutMS
	}

	c, err := e.resolveCodec(codecName)
	if err != nil {
		return nil, fmt.Errorf("element: command_send: %w", err)
	}

	localLastID := e.snapshotResponseLastID()

	fields := map[string][]byte{
		"element": []byte(e.Name),
		"cmd":     []byte(cmd),
	}
	if data != nil {
		var buf []byte
		if serialize {
			var err error
			buf, err = c.Marshal(data)
			if err != nil {
				return nil, fmt.Errorf("element: encode command data: %w", err)
			}
		} else {
			raw, ok := data["_raw"].([]byte)
			if !ok {
				return nil, fmt.Errorf(`element: serialize=false requires data["_raw"] to be []byte`)
			}
			buf = raw
		}
		fields["data"] = buf
	}
	for k, v := range extraKwargs {
		if serialize {
			b, err := codec.EncodeValue(c, v)
			if err != nil {
				return nil, fmt.Errorf("element: encode kwarg %q: %w", k, err)
			}
			fields[k] = b
			continue
		}
		b, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("element: kwarg %q must be []byte when serialize=false", k)
		}
		fields[k] = b
	}

	cmdID, err := e.b.Append(ctx, commandKey(callee), fields, e.cfg.StreamMaxLen)
	if err != nil {
		return nil, errcode.Broker(fmt.Errorf("element: send command: %w", err))
	}

	ackEntry, ok, err := e.awaitOn(ctx, &localLastID, time.Duration(ackTimeoutMS)*time.Millisecond, func(f map[string][]byte) bool {
		return string(f["element"]) == callee && string(f["cmd_id"]) == string(cmdID) && f["err_code"] == nil
	})
	if err != nil {
		return nil, errcode.Broker(err)
	}
	if !ok {
		return nil, errcode.New(errcode.CommandNoAck, fmt.Sprintf("no ack from %q for cmd %q", callee, cmd))
	}

	responseTimeoutMS := e.cfg.ResponseTimeoutMS
	if raw, ok := ackEntry.Fields["timeout"]; ok {
		fmt.Sscanf(string(raw), "%d", &responseTimeoutMS)
	}

	respEntry, ok, err := e.awaitOn(ctx, &localLastID, time.Duration(responseTimeoutMS)*time.Millisecond, func(f map[string][]byte) bool {
		return string(f["element"]) == callee && string(f["cmd_id"]) == string(cmdID) && f["err_code"] != nil
	})
	if err != nil {
		return nil, errcode.Broker(err)
	}
	if !ok {
		return nil, errcode.New(errcode.CommandNoResponse, fmt.Sprintf("no response from %q for cmd %q", callee, cmd))
	}

	return e.decodeResponse(respEntry, deserialize, c)
}

// awaitOn reads response:<self> starting just after *cursor, advancing both
// *cursor and the element's shared response_last_id on every entry seen
// (matching or not), until match returns true or deadline elapses.
func (e *Element) awaitOn(ctx context.Context, cursor *broker.EntryID, deadline time.Duration, match func(map[string][]byte) bool) (broker.Entry, bool, error) {
	key := responseKey(e.Name)
	remaining := deadline
	giveUp := time.Now().Add(deadline)

	for {
		reads, err := e.b.ReadBlock(ctx, map[string]broker.EntryID{key: *cursor}, 0, remaining)
		if err != nil {
			return broker.Entry{}, false, err
		}
		if len(reads) == 0 {
			return broker.Entry{}, false, nil
		}
		for _, re := range reads[0].Entries {
			*cursor = re.ID
			e.advanceResponseLastID(re.ID)
			if match(re.Fields) {
				return re, true, nil
			}
		}
		remaining = time.Until(giveUp)
		if remaining <= 0 {
			return broker.Entry{}, false, nil
		}
	}
}

func (e *Element) decodeResponse(re broker.Entry, deserialize bool, c codec.Codec) (*Response, error) {
	resp := &Response{
		CmdID: string(re.Fields["cmd_id"]),
		Raw:   make(map[string]interface{}),
	}
	var code int
	fmt.Sscanf(string(re.Fields["err_code"]), "%d", &code)
	resp.ErrCode = errcode.Code(code)
	resp.ErrStr = string(re.Fields["err_str"])

	if buf, ok := re.Fields["data"]; ok && deserialize {
		data, err := c.Unmarshal(buf)
		if err != nil {
			e.logf("decodeResponse: codec failure, returning raw bytes: %v", err)
			resp.Data = map[string]interface{}{"raw": buf}
		} else {
			resp.Data = data
		}
	} else if buf, ok := re.Fields["data"]; ok {
		resp.Data = map[string]interface{}{"raw": buf}
	}

	for k, v := range re.Fields {
		switch k {
		case "element", "cmd_id", "cmd", "err_code", "err_str", "data", "timeout":
			continue
		default:
			resp.Raw[k] = v
		}
	}
	return resp, nil
}
