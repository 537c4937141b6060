package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/UDDITwork/ZAMMER-sub011/pkg/enums"
)

// Audience identifies one channel an event is delivered to. Admin events are
// role-wide; every other role is scoped to a single identity.
type Audience struct {
	Role enums.ActorRole `json:"role"`
	ID   string          `json:"id,omitempty"`
}

// Key returns the channel key for the audience.
func (a Audience) Key() string {
	if a.Role == enums.ActorRoleAdmin || a.ID == "" {
		return a.Role.String()
	}
	return fmt.Sprintf("%s:%s", a.Role, a.ID)
}

// ForBuyer scopes an audience to one buyer.
func ForBuyer(id uuid.UUID) Audience {
	return Audience{Role: enums.ActorRoleBuyer, ID: id.String()}
}

// ForSeller scopes an audience to one seller store.
func ForSeller(id uuid.UUID) Audience {
	return Audience{Role: enums.ActorRoleSeller, ID: id.String()}
}

// ForAgent scopes an audience to one delivery agent.
func ForAgent(id uuid.UUID) Audience {
	return Audience{Role: enums.ActorRoleAgent, ID: id.String()}
}

// ForAdmins addresses the shared admin channel.
func ForAdmins() Audience {
	return Audience{Role: enums.ActorRoleAdmin}
}

// Event is a real-time notification about an order transition. Delivery is
// best effort: events are never persisted and a slow subscriber loses them.
type Event struct {
	Topic       enums.EventTopic `json:"topic"`
	OrderID     uuid.UUID        `json:"order_id"`
	OrderNumber string           `json:"order_number,omitempty"`
	Data        map[string]any   `json:"data,omitempty"`
	Audience    []Audience       `json:"audience"`
	Origin      string           `json:"origin,omitempty"`
	OccurredAt  time.Time        `json:"occurred_at"`
}
