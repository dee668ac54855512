package element

import (
	"context"
	"time"
)

// GetElementVersion wraps a `version` call to name (spec §4.7), returning
// the peer's reported major.minor version. A cross-language peer may encode
// its version as a msgpack integer rather than a float, so both numeric
// kinds are accepted.
func (e *Element) GetElementVersion(ctx context.Context, name string) (float64, error) {
	resp, err := e.Send(ctx, name, "version", nil, true, true, 0, nil, "")
	if err != nil {
		return 0, err
	}
	switch v := resp.Data["version"].(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	default:
		return 0, nil
	}
}

// WaitForElementsHealthy busy-loops spec §4.7's health barrier: for each
// name, it first probes `version` against minVersion; a peer below the
// gate (or unreachable) counts as unhealthy only when strict is set.
// Elements that pass the gate are then sent `healthcheck`. Any failure
// sleeps retry before restarting from the top of the list.
func (e *Element) WaitForElementsHealthy(ctx context.Context, names []string, retry time.Duration, minVersion float64, strict bool) error {
	for {
		allHealthy := true
		for _, name := range names {
			if !e.probeHealthy(ctx, name, minVersion, strict) {
				allHealthy = false
				break
			}
		}
		if allHealthy {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry):
		}
	}
}

func (e *Element) probeHealthy(ctx context.Context, name string, minVersion float64, strict bool) bool {
	version, err := e.GetElementVersion(ctx, name)
	if err != nil {
		return !strict
	}
	if version < minVersion {
		return !strict
	}

	resp, err := e.Send(ctx, name, "healthcheck", nil, true, true, 0, nil, "")
	if err != nil {
		return false
	}
	return resp.ErrCode == 0
}
