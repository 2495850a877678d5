package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandWire(t *testing.T) {
	tests := []struct {
		cmd  Command
		wire string
	}{
		{List(), "device_list\r\n"},
		{ConnectDevice("9ff167"), "device_connect 9ff167\r\n"},
		{Subscribe("acc"), "device_subscribe acc ON\r\n"},
		{Pause(), "pause ON\r\n"},
		{Resume(), "pause OFF\r\n"},
		{Disconnect(), "device_disconnect\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.cmd.String(), func(t *testing.T) {
			assert.Equal(t, tt.wire, tt.cmd.Wire())
		})
	}
}

func TestCommandAck(t *testing.T) {
	ack, ok := ConnectDevice("9ff167").Ack()
	assert.True(t, ok)
	assert.Equal(t, "R device_connect OK\n", ack)

	ack, ok = Subscribe("BVP").Ack()
	assert.True(t, ok)
	assert.Equal(t, "R device_subscribe BVP OK\n", ack)

	ack, ok = Pause().Ack()
	assert.True(t, ok)
	assert.Equal(t, "R pause ON\n", ack)

	for _, cmd := range []Command{List(), Resume(), Disconnect()} {
		_, ok := cmd.Ack()
		assert.False(t, ok, "%s should not have an exact ack", cmd)
	}
}

func TestCommandDeterministic(t *testing.T) {
	a, b := Subscribe("gsr"), Subscribe("gsr")
	assert.Equal(t, a.Wire(), b.Wire())
	ackA, _ := a.Ack()
	ackB, _ := b.Ack()
	assert.Equal(t, ackA, ackB)
	assert.Equal(t, "device_subscribe", a.Name())
	assert.Equal(t, "device_subscribe gsr", a.String())
}

func TestResumeReplyIsAdvisory(t *testing.T) {
	reply, ok := Resume().Reply()
	assert.True(t, ok)
	assert.Equal(t, "R pause OFF\n", reply)

	_, ok = Pause().Reply()
	assert.False(t, ok)
}
