package types

import "encoding/json"

// Message is an ACL-style message exchanged between agents over the broker.
// Sender and Content are always set; the remaining fields follow the FIPA
// ACL parameter set and are optional.
type Message struct {
	Performative   string `json:"performative,omitempty"`
	Sender         string `json:"sender"`
	Receiver       string `json:"receiver,omitempty"`
	Content        any    `json:"content"`
	Language       string `json:"language,omitempty"`
	Encoding       string `json:"encoding,omitempty"`
	Ontology       string `json:"ontology,omitempty"`
	Protocol       string `json:"protocol,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	ReplyTo        string `json:"reply_to,omitempty"`
	ReplyWith      string `json:"reply_with,omitempty"`
	InReplyTo      string `json:"in_reply_to,omitempty"`
	ReplyBy        string `json:"reply_by,omitempty"`
}

// NewMessage creates a message with the given sender and content.
func NewMessage(sender string, content any) *Message {
	return &Message{Sender: sender, Content: content}
}

// MarshalJSON-friendly round trip helper used by persistent stores.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage decodes a message previously produced by Encode.
func DecodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// OutputItem is a single (key, value) output written by a node. A node's
// recorded output is either one OutputItem or an aggregate bundle whose
// Key is AggregatedOutputsKey and whose Value is []OutputItem.
type OutputItem struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// AggregatedOutputsKey marks an OutputItem that bundles several parent
// outputs. Consumers unpack the bundle so each contributing value is
// visible individually.
const AggregatedOutputsKey = "aggregated_parent_outputs"
