package graph

import (
	"encoding/json"
	"fmt"
)

// Message is the envelope carried on every channel.
//
// A message is a read request (Get set), a write request (Put set), or a
// reply. A reply with no Put means "not found" or "nothing changed".
type Message struct {
	ID  string   `json:"#"`
	Get *GetSpec `json:"get,omitempty"`
	Put Data     `json:"put,omitempty"`
}

// GetSpec names the soul a read request wants.
type GetSpec struct {
	Soul string `json:"#"`
}

// NewReply builds a reply correlated to id. A nil or empty put yields the
// "not found" form.
func NewReply(id string, put Data) Message {
	if put.Empty() {
		return Message{ID: id}
	}
	return Message{ID: id, Put: put}
}

// DecodeMessage parses a JSON message.
func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return msg, nil
}

// Encode returns the JSON form of the message.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Request is a parsed inbound request: either a GetRequest or a PutRequest.
type Request interface {
	RequestID() string
	isRequest() // Sealed
}

// GetRequest asks for one node.
type GetRequest struct {
	ID   string
	Soul string
}

func (GetRequest) isRequest() {}

// RequestID returns the correlation id.
func (r GetRequest) RequestID() string { return r.ID }

// PutRequest proposes a graph write.
// Graph holds only souls with a non-nil node and may be empty.
type PutRequest struct {
	ID    string
	Graph Data
}

func (PutRequest) isRequest() {}

// RequestID returns the correlation id.
func (r PutRequest) RequestID() string { return r.ID }

// ParseRequest classifies a message.
// Returns ErrMalformed when the message has no id, both or neither of
// get/put, or a get without a soul.
func ParseRequest(msg Message) (Request, error) {
	if msg.ID == "" {
		return nil, fmt.Errorf("%w: missing message id", ErrMalformed)
	}

	switch {
	case msg.Get != nil && msg.Put != nil:
		return nil, fmt.Errorf("%w: message %s has both get and put", ErrMalformed, msg.ID)
	case msg.Get != nil:
		if msg.Get.Soul == "" {
			return nil, fmt.Errorf("%w: message %s get has no soul", ErrMalformed, msg.ID)
		}
		return GetRequest{ID: msg.ID, Soul: msg.Get.Soul}, nil
	case msg.Put != nil:
		return PutRequest{ID: msg.ID, Graph: msg.Put.Filter()}, nil
	default:
		return nil, fmt.Errorf("%w: message %s has neither get nor put", ErrMalformed, msg.ID)
	}
}
