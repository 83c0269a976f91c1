package tenants

import "github.com/platinummonkey/tenancy/pkg/statemachine"

// Event is an operation that moves a tenant between statuses
type Event string

const (
	EventApprove  Event = "approve"
	EventSuspend  Event = "suspend"
	EventActivate Event = "activate"
	EventToggle   Event = "toggle"
	EventCancel   Event = "cancel"
)

type rule = statemachine.Rule[Status, Event]

// Transitions is the tenant lifecycle. Approving an already active tenant is
// a no-op; nothing leaves CANCELLED.
var Transitions = statemachine.New[Status, Event]("tenant",
	rule{From: StatusPending, Event: EventApprove, To: StatusActive},
	rule{From: StatusActive, Event: EventApprove, To: StatusActive},

	rule{From: StatusActive, Event: EventSuspend, To: StatusSuspended},
	rule{From: StatusSuspended, Event: EventActivate, To: StatusActive},

	rule{From: StatusActive, Event: EventToggle, To: StatusSuspended},
	rule{From: StatusSuspended, Event: EventToggle, To: StatusActive},

	rule{From: StatusPending, Event: EventCancel, To: StatusCancelled},
	rule{From: StatusActive, Event: EventCancel, To: StatusCancelled},
	rule{From: StatusSuspended, Event: EventCancel, To: StatusCancelled},
)
