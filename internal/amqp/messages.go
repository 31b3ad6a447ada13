package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// Actions carried by TransactionChangedMessage.
const (
	ActionCreate = "CREATE"
	ActionUpdate = "UPDATE"
)

// TransactionChangedMessage announces a write on the ledger. For updates the
// snapshot holds the row as it was before the change; consumers load the
// current row from the database when they need it.
type TransactionChangedMessage struct {
	TransactionID string          `json:"transaction_id"`
	CompanyID     string          `json:"company_id"`
	UserID        string          `json:"user_id"`
	Action        string          `json:"action"`
	Snapshot      json.RawMessage `json:"snapshot,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

func NewTransactionChangedMessage(transactionID, companyID, userID, action string, snapshot []byte) *TransactionChangedMessage {
	return &TransactionChangedMessage{
		TransactionID: transactionID,
		CompanyID:     companyID,
		UserID:        userID,
		Action:        action,
		Snapshot:      snapshot,
		Timestamp:     time.Now(),
	}
}

// Validate rejects messages no handler can act on.
func (m *TransactionChangedMessage) Validate() error {
	if m.TransactionID == "" {
		return errors.New("missing transaction_id")
	}
	switch m.Action {
	case ActionCreate:
	case ActionUpdate:
		if len(m.Snapshot) == 0 {
			return errors.New("update message without snapshot")
		}
	default:
		return errors.New("unknown action " + m.Action)
	}
	return nil
}

func (m *TransactionChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func TransactionChangedMessageFromJSON(data []byte) (*TransactionChangedMessage, error) {
	var msg TransactionChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
