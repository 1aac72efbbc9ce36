package message

import (
	"encoding/json"
	"fmt"
)

// typeTag is the wire discriminator key.
const typeTag = "_type"

// factories maps type tags to constructors for decoding.
var factories = map[string]func() Message{
	TypeTerminalCommand:       func() Message { return &TerminalCommand{} },
	TypeTerminalReadRequest:   func() Message { return &TerminalReadRequest{} },
	TypeControlCharacter:      func() Message { return &ControlCharacter{} },
	TypeSpecialKey:            func() Message { return &SpecialKey{} },
	TypeSessionStatusRequest:  func() Message { return &SessionStatusRequest{} },
	TypeSessionStatusResponse: func() Message { return &SessionStatusResponse{} },
	TypeSessionListRequest:    func() Message { return &SessionListRequest{} },
	TypeSessionListResponse:   func() Message { return &SessionListResponse{} },
	TypeFocusSession:          func() Message { return &FocusSession{} },
	TypeBroadcastNotification: func() Message { return &BroadcastNotification{} },
	TypeWaitForAgent:          func() Message { return &WaitForAgent{} },
	TypeWaitForAgentResult:    func() Message { return &WaitForAgentResult{} },
	TypeTerminalOutput:        func() Message { return &TerminalOutput{} },
	TypeAck:                   func() Message { return &Ack{} },
	TypeError:                 func() Message { return &ErrorMessage{} },
}

// Marshal encodes a message as JSON with the "_type" discriminator.
func Marshal(m Message) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", m.Type(), err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("reshape %s: %w", m.Type(), err)
	}
	tag, err := json.Marshal(m.Type())
	if err != nil {
		return nil, err
	}
	fields[typeTag] = tag

	return json.Marshal(fields)
}

// Unmarshal decodes a message from its JSON wire form. Unknown or
// missing "_type" discriminators are rejected.
func Unmarshal(data []byte) (Message, error) {
	var head struct {
		Type string `json:"_type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode message head: %w", err)
	}
	if head.Type == "" {
		return nil, fmt.Errorf("message is missing the %q discriminator", typeTag)
	}

	factory, ok := factories[head.Type]
	if !ok {
		return nil, fmt.Errorf("unknown message type %q", head.Type)
	}

	m := factory()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", head.Type, err)
	}
	return m, nil
}
