package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Location is a WGS84 coordinate pair attached to a transaction.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Transaction represents a financial transaction to be scored.
// This is the event received from the payments service; it is never
// mutated after ingestion.
type Transaction struct {
	ID               string    `json:"transaction_id"`
	UserID           string    `json:"user_id"`
	Amount           float64   `json:"amount"`
	Currency         string    `json:"currency"`
	MerchantCategory string    `json:"merchant_category"`
	Timestamp        time.Time `json:"timestamp"`
	Location         Location  `json:"location"`
}

// TransactionCreatedEvent is the Kafka event received from the
// transaction service.
type TransactionCreatedEvent struct {
	EventID     uuid.UUID    `json:"event_id"`
	EventType   string       `json:"event_type"`
	Timestamp   time.Time    `json:"timestamp"`
	Transaction *Transaction `json:"payload"`
}

// Validate checks the structural integrity of a transaction. A failure
// here marks the message as corrupt; it is dead-lettered, never retried.
func (t *Transaction) Validate() error {
	switch {
	case t.ID == "":
		return errors.New("missing transaction id")
	case t.UserID == "":
		return errors.New("missing user id")
	case t.Amount <= 0:
		return errors.New("amount must be positive")
	case t.Timestamp.IsZero():
		return errors.New("missing timestamp")
	}
	return nil
}

// HourOfDay returns the transaction hour in UTC.
func (t *Transaction) HourOfDay() int {
	return t.Timestamp.UTC().Hour()
}

// DayOfWeek returns the transaction weekday in UTC (Sunday = 0).
func (t *Transaction) DayOfWeek() int {
	return int(t.Timestamp.UTC().Weekday())
}
