package websocket

import (
	"encoding/json"
	"time"

	"notes-sync-indexer/internal/domain"
)

type MessageType string

const (
	TypeSessionState         MessageType = MessageType(domain.EventSessionState)
	TypeSecondFactorRequired MessageType = MessageType(domain.EventSecondFactorRequired)
	TypeSyncStarted          MessageType = MessageType(domain.EventSyncStarted)
	TypeNoteIndexed          MessageType = MessageType(domain.EventNoteIndexed)
	TypeNoteFailed           MessageType = MessageType(domain.EventNoteFailed)
	TypeSyncCompleted        MessageType = MessageType(domain.EventSyncCompleted)
	TypePing                 MessageType = "ping"
	TypePong                 MessageType = "pong"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	msg := &Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Payload = data
	}
	return msg, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}
