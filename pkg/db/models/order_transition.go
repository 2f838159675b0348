package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/NorikGo/tailormp-sub002/pkg/enums"
)

// OrderTransition is an append-only audit row for every accepted status change.
type OrderTransition struct {
	ID             uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID               `gorm:"column:order_id;type:uuid;not null;index"`
	FromStatus     *enums.OrderStatus      `gorm:"column:from_status"`
	ToStatus       enums.OrderStatus       `gorm:"column:to_status;not null"`
	Trigger        enums.TransitionTrigger `gorm:"column:trigger_source;not null"`
	ActorID        *uuid.UUID              `gorm:"column:actor_id;type:uuid"`
	GatewayEventID *string                 `gorm:"column:gateway_event_id"`
	Reason         *string                 `gorm:"column:reason"`
	CreatedAt      time.Time               `gorm:"column:created_at"`
}

func (OrderTransition) TableName() string { return "order_transitions" }
