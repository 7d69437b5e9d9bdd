// Package ws serves chat subscriptions over a websocket using the
// graphql-transport-ws message flow: connection_init, connection_ack,
// subscribe, next, error, complete, ping and pong.
package ws

import "encoding/json"

const Subprotocol = "graphql-transport-ws"

const (
	MsgConnectionInit = "connection_init"
	MsgConnectionAck  = "connection_ack"
	MsgSubscribe      = "subscribe"
	MsgNext           = "next"
	MsgError          = "error"
	MsgComplete       = "complete"
	MsgPing           = "ping"
	MsgPong           = "pong"
)

// Close codes sent to the client.
const (
	CloseBadRequest       = 4400
	CloseUnauthorized     = 4401
	CloseInitTimeout      = 4408
	CloseDuplicateID      = 4409
	CloseTooManyInitCalls = 4429
)

type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type InitPayload struct {
	Authorization string `json:"authorization"`
}

type SubscribePayload struct {
	Event     string             `json:"event"`
	Variables SubscribeVariables `json:"variables"`
}

type SubscribeVariables struct {
	ChatID string `json:"chatId"`
}

type ErrorItem struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func encode(msg Message) []byte {
	data, _ := json.Marshal(msg)
	return data
}

func nextMessage(id, event string, data any) ([]byte, error) {
	payload, err := json.Marshal(map[string]any{
		"data": map[string]any{event: data},
	})
	if err != nil {
		return nil, err
	}
	return encode(Message{ID: id, Type: MsgNext, Payload: payload}), nil
}

func errorMessage(id string, items ...ErrorItem) []byte {
	payload, _ := json.Marshal(items)
	return encode(Message{ID: id, Type: MsgError, Payload: payload})
}
