package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCommandRejectsReservedKwarg(t *testing.T) {
	_, err := NewCommand("caller", "do_thing", "1-0", map[string]interface{}{"cmd_id": "x"}, 1000)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "cmd_id", verr.Field)
}

func TestNewCommandRequiresFields(t *testing.T) {
	_, err := NewCommand("", "do_thing", "1-0", nil, 0)
	require.Error(t, err)
}

func TestNewCommandValid(t *testing.T) {
	cmd, err := NewCommand("caller", "do_thing", "1-0", map[string]interface{}{"n": 3}, 1000)
	require.NoError(t, err)
	assert.Equal(t, "do_thing", cmd.Cmd)
}

func TestSeverityString(t *testing.T) {
	assert.Equal(t, "emerg", Emergency.String())
	assert.Equal(t, "debug", Debug.String())
	assert.Equal(t, "unknown", Severity(99).String())
}
