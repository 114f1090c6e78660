package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SettlementRepairMessage asks the worker to finish one pending settlement.
// It carries only the outbox id; the worker reads the row (and the sealed
// credentials) from the database.
type SettlementRepairMessage struct {
	MessageID    string    `json:"message_id"`
	SettlementID string    `json:"settlement_id"`
	DebtID       int64     `json:"debt_id"`
	Timestamp    time.Time `json:"timestamp"`
}

func NewSettlementRepairMessage(settlementID string, debtID int64) *SettlementRepairMessage {
	return &SettlementRepairMessage{
		MessageID:    uuid.NewString(),
		SettlementID: settlementID,
		DebtID:       debtID,
		Timestamp:    time.Now(),
	}
}

func (m *SettlementRepairMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func SettlementRepairMessageFromJSON(data []byte) (*SettlementRepairMessage, error) {
	var msg SettlementRepairMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.SettlementID == "" {
		return nil, fmt.Errorf("settlement_id is required")
	}
	return &msg, nil
}
