package measurement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nerrad567/vendorsync/internal/trigger"
)

// ActionChangeRecord marks a ChangeEvent on the bus.
const ActionChangeRecord = "change_record"

// ChangeEvent announces that a parameter took a new value.
// Previous is nil for the first value ever recorded.
type ChangeEvent struct {
	ID              string           `json:"id"`
	Action          string           `json:"action"`
	DeviceParameter int64            `json:"device_parameter"`
	Type            string           `json:"type"`
	Previous        *decimal.Decimal `json:"previous"`
	Current         decimal.Decimal  `json:"current"`
	Trigger         trigger.Source   `json:"trigger"`
	Site            string           `json:"site"`
	Time            time.Time        `json:"time"`
}

// Publisher delivers change events to the event bus.
type Publisher interface {
	PublishChange(ctx context.Context, ev ChangeEvent) error
}
