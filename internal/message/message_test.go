package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termhive/termhive/internal/target"
)

func TestRoundTrip_AllVariants(t *testing.T) {
	msgs := []Message{
		&TerminalCommand{
			Envelope:   NewEnvelope("alice"),
			Target:     target.Target{AgentName: "builder"},
			Command:    "make test",
			PressEnter: true,
		},
		&TerminalReadRequest{Envelope: NewEnvelope("alice"), Target: target.Target{PaneID: "p1"}, MaxLines: 50},
		&ControlCharacter{Envelope: NewEnvelope("alice"), Target: target.Target{PaneID: "p1"}, Letter: "C"},
		&SpecialKey{Envelope: NewEnvelope("alice"), Target: target.Target{PaneName: "build"}, Key: "enter"},
		&SessionStatusRequest{Envelope: NewEnvelope("bob"), Target: target.Target{TeamName: "frontend"}},
		&SessionStatusResponse{Envelope: NewEnvelope("core"), PaneID: "p1", IsProcessing: true, LockedBy: "alice", Tags: []string{"build"}},
		&SessionListRequest{Envelope: NewEnvelope("bob")},
		&SessionListResponse{Envelope: NewEnvelope("core"), PaneIDs: []string{"p1", "p2"}},
		&FocusSession{Envelope: NewEnvelope("carol"), Target: target.Target{PaneID: "p2"}},
		&BroadcastNotification{Envelope: NewEnvelope("core"), Topic: "deploys", Payload: map[string]any{"env": "staging"}},
		&WaitForAgent{Envelope: NewEnvelope("alice"), AgentName: "builder", WaitUpToSeconds: 30, ReturnOutput: true, SummaryOnTimeout: true},
		&WaitForAgentResult{Envelope: NewEnvelope("core"), Agent: "builder", Completed: true, Status: "idle", ElapsedSeconds: 1.5},
		&TerminalOutput{Envelope: NewEnvelope("core"), PaneID: "p1", Content: "$ make test\nok"},
		&Ack{Envelope: NewEnvelope("core"), Success: true},
		&ErrorMessage{Envelope: NewEnvelope("core"), Code: "HANDLER_ERROR", ErrorText: "boom", Recoverable: true},
	}

	for _, m := range msgs {
		t.Run(m.Type(), func(t *testing.T) {
			m.Env().Priority = PriorityHigh
			m.Env().CorrelationID = "corr-1"
			m.Env().Metadata = map[string]any{"k": "v"}

			wire, err := Marshal(m)
			require.NoError(t, err)

			// Discriminator present on the wire.
			var head map[string]any
			require.NoError(t, json.Unmarshal(wire, &head))
			assert.Equal(t, m.Type(), head["_type"])

			decoded, err := Unmarshal(wire)
			require.NoError(t, err)
			assert.Equal(t, m.Type(), decoded.Type())

			// Every envelope field survives the round trip.
			assert.Equal(t, m.Env().MessageID, decoded.Env().MessageID)
			assert.Equal(t, m.Env().Sender, decoded.Env().Sender)
			assert.Equal(t, m.Env().Priority, decoded.Env().Priority)
			assert.Equal(t, m.Env().CorrelationID, decoded.Env().CorrelationID)
			assert.True(t, m.Env().Timestamp.Equal(decoded.Env().Timestamp))

			// Variant fields survive too: re-marshal must be identical.
			wire2, err := Marshal(decoded)
			require.NoError(t, err)
			assert.JSONEq(t, string(wire), string(wire2))
		})
	}
}

func TestUnmarshal_RejectsUnknownAndMissingType(t *testing.T) {
	_, err := Unmarshal([]byte(`{"_type":"Bogus","message_id":"x"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown message type")

	_, err = Unmarshal([]byte(`{"message_id":"x"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discriminator")

	_, err = Unmarshal([]byte(`not json`))
	require.Error(t, err)
}

func TestContentHash_IgnoresIDAndTimestamp(t *testing.T) {
	a := &TerminalCommand{Envelope: NewEnvelope("alice"), Command: "ls", PressEnter: true}
	b := &TerminalCommand{Envelope: NewEnvelope("alice"), Command: "ls", PressEnter: true}

	ha, err := ContentHash(a)
	require.NoError(t, err)
	hb, err := ContentHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb, "hash must ignore message_id and timestamp")
	assert.Len(t, ha, 64)

	c := &TerminalCommand{Envelope: NewEnvelope("alice"), Command: "ls -la", PressEnter: true}
	hc, err := ContentHash(c)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)

	// Sender is part of the content.
	d := &TerminalCommand{Envelope: NewEnvelope("bob"), Command: "ls", PressEnter: true}
	hd, err := ContentHash(d)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hd)
}

func TestHashText(t *testing.T) {
	h := HashText("deploy to staging")
	assert.Len(t, h, 64)
	assert.Equal(t, h, HashText("deploy to staging"))
	assert.NotEqual(t, h, HashText("deploy to prod"))
}

func TestNewEnvelope(t *testing.T) {
	e := NewEnvelope("alice")
	assert.NotEmpty(t, e.MessageID)
	assert.Equal(t, "alice", e.Sender)
	assert.Equal(t, PriorityNormal, e.Priority)
	assert.False(t, e.Timestamp.IsZero())

	e2 := NewEnvelope("alice")
	assert.NotEqual(t, e.MessageID, e2.MessageID)
}
