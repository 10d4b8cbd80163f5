package streaming

import (
	"encoding/json"
	"errors"
	"fmt"
)

type MessageType string

const (
	MessageTypePaymentTransfer MessageType = "payment_transfer"
	MessageTypeAssetTransfer   MessageType = "asset_transfer"
	MessageTypeBlock           MessageType = "block"
)

// Message is the wire format of the transfer stream. One topic carries the
// messages of one chain in chain order; each block tick precedes the
// transfers of its block.
type Message struct {
	Type           MessageType `json:"type"`
	ChainID        uint64      `json:"chain_id"`
	TraceID        string      `json:"trace_id,omitempty"`
	BlockNumber    uint64      `json:"block_number"`
	BlockTimestamp uint64      `json:"block_timestamp,omitempty"`
	TxHash         string      `json:"tx_hash,omitempty"`
	TxTo           string      `json:"tx_to,omitempty"`
	TxValue        string      `json:"tx_value,omitempty"`
	LogIndex       uint64      `json:"log_index,omitempty"`
	Contract       string      `json:"contract,omitempty"`
	From           string      `json:"from,omitempty"`
	To             string      `json:"to,omitempty"`
	Amount         string      `json:"amount,omitempty"`
	AssetID        string      `json:"asset_id,omitempty"`
}

var ErrInvalidMessage = errors.New("invalid message")

func Encode(msg Message) ([]byte, error) {
	if msg.Type == "" {
		return nil, errors.New("message type is required")
	}
	if msg.ChainID == 0 {
		return nil, errors.New("chain_id is required")
	}
	return json.Marshal(msg)
}

func Decode(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (m Message) Validate() error {
	if m.Type == "" {
		return fmt.Errorf("%w: message type is missing", ErrInvalidMessage)
	}
	if m.ChainID == 0 {
		return fmt.Errorf("%w: chain_id is missing", ErrInvalidMessage)
	}
	switch m.Type {
	case MessageTypeBlock:
		return nil
	case MessageTypePaymentTransfer:
		if m.Amount == "" {
			return fmt.Errorf("%w: amount is missing", ErrInvalidMessage)
		}
	case MessageTypeAssetTransfer:
		if m.AssetID == "" {
			return fmt.Errorf("%w: asset_id is missing", ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: unknown message type %q", ErrInvalidMessage, m.Type)
	}
	if m.TxHash == "" {
		return fmt.Errorf("%w: tx_hash is missing", ErrInvalidMessage)
	}
	if m.Contract == "" || m.From == "" || m.To == "" {
		return fmt.Errorf("%w: transfer addresses are missing", ErrInvalidMessage)
	}
	return nil
}

// Position returns the ordering key used to detect replayed messages.
func (m Message) Position() (blockNumber, position uint64) {
	if m.Type == MessageTypeBlock {
		return m.BlockNumber, 0
	}
	return m.BlockNumber, m.LogIndex + 1
}
