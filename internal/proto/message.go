package proto

import "encoding/json"

// Inbound is the envelope for messages a bot sends to the gateway.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	ProtocolVersion = 1

	InboundTypeHello        = "hello"
	InboundTypeChat         = "chat"
	InboundTypeControl      = "control"
	InboundTypeLook         = "look"
	InboundTypeActivateItem = "activate_item"
	InboundTypeQuit         = "quit"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventSpawn  = "spawn"
	EventChat   = "chat"
	EventTime   = "time"
	EventKicked = "kicked"
	EventEnd    = "end"
	EventError  = "error"
)

// HelloData introduces the bot. Token is an HS256 JWT when the gateway has a secret.
type HelloData struct {
	User     string `json:"user"`
	Auth     string `json:"auth,omitempty"`
	Token    string `json:"token,omitempty"`
	Protocol int    `json:"protocol,omitempty"`
}

// ChatData is a chat line or slash command.
type ChatData struct {
	Text string `json:"text"`
}

// ControlData presses or releases a movement control.
type ControlData struct {
	Action string `json:"action"`
	State  bool   `json:"state"`
}

// LookData turns the head, in radians.
type LookData struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
}

// Outbound is the envelope for messages the gateway sends to the bot.
type Outbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// EventSpawnData is sent once the player has entered the world.
type EventSpawnData struct {
	User string `json:"user"`
}

// EventChatData is one chat line as rendered by the server.
type EventChatData struct {
	Text string `json:"text"`
}

// EventTimeData is a world clock update; Age counts ticks since the player joined.
type EventTimeData struct {
	Age int64 `json:"age"`
}

// EventReasonData carries why the session was kicked or ended.
type EventReasonData struct {
	Reason string `json:"reason"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// NewInbound builds an inbound envelope. A nil data omits the payload.
func NewInbound(typ string, data any) (Inbound, error) {
	in := Inbound{Type: typ}
	if data == nil {
		return in, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Inbound{}, err
	}
	in.Data = raw
	return in, nil
}

// NewEvent builds an outbound event envelope.
func NewEvent(event string, data any) (Outbound, error) {
	out := Outbound{Type: OutboundTypeEvent, Event: event}
	if data == nil {
		return out, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Outbound{}, err
	}
	out.Data = raw
	return out, nil
}

// NewError builds an outbound error envelope.
func NewError(code, msg string) Outbound {
	return Outbound{Type: OutboundTypeError, Error: &Error{Code: code, Msg: msg}}
}
