package billing

import "github.com/platinummonkey/tenancy/pkg/statemachine"

// SubscriptionEvent moves a subscription between statuses
type SubscriptionEvent string

const (
	EventActivate SubscriptionEvent = "activate"
	EventRenew    SubscriptionEvent = "renew"
	EventLapse    SubscriptionEvent = "lapse"
	EventCancel   SubscriptionEvent = "cancel"
	EventExpire   SubscriptionEvent = "expire"
	// EventReactivate revives a cancelled or expired subscription. Only an
	// approved payment raises it.
	EventReactivate SubscriptionEvent = "reactivate"
)

type subscriptionRule = statemachine.Rule[SubscriptionStatus, SubscriptionEvent]

// SubscriptionTransitions is the subscription lifecycle. CANCELLED and
// EXPIRED leave only through a payment approval.
var SubscriptionTransitions = statemachine.New[SubscriptionStatus, SubscriptionEvent]("subscription",
	subscriptionRule{From: SubscriptionTrial, Event: EventActivate, To: SubscriptionActive},
	subscriptionRule{From: SubscriptionPastDue, Event: EventActivate, To: SubscriptionActive},
	subscriptionRule{From: SubscriptionActive, Event: EventActivate, To: SubscriptionActive},

	subscriptionRule{From: SubscriptionTrial, Event: EventRenew, To: SubscriptionActive},
	subscriptionRule{From: SubscriptionActive, Event: EventRenew, To: SubscriptionActive},
	subscriptionRule{From: SubscriptionPastDue, Event: EventRenew, To: SubscriptionActive},

	subscriptionRule{From: SubscriptionActive, Event: EventLapse, To: SubscriptionPastDue},

	subscriptionRule{From: SubscriptionTrial, Event: EventCancel, To: SubscriptionCancelled},
	subscriptionRule{From: SubscriptionActive, Event: EventCancel, To: SubscriptionCancelled},
	subscriptionRule{From: SubscriptionPastDue, Event: EventCancel, To: SubscriptionCancelled},

	subscriptionRule{From: SubscriptionTrial, Event: EventExpire, To: SubscriptionExpired},
	subscriptionRule{From: SubscriptionActive, Event: EventExpire, To: SubscriptionExpired},
	subscriptionRule{From: SubscriptionPastDue, Event: EventExpire, To: SubscriptionExpired},

	subscriptionRule{From: SubscriptionCancelled, Event: EventReactivate, To: SubscriptionActive},
	subscriptionRule{From: SubscriptionExpired, Event: EventReactivate, To: SubscriptionActive},
)

// PaymentEvent moves a payment between processing statuses
type PaymentEvent string

const (
	EventProcess  PaymentEvent = "process"
	EventComplete PaymentEvent = "complete"
	EventFail     PaymentEvent = "fail"
	EventRefund   PaymentEvent = "refund"
)

type paymentRule = statemachine.Rule[PaymentStatus, PaymentEvent]

// PaymentTransitions is the processing axis of a payment
var PaymentTransitions = statemachine.New[PaymentStatus, PaymentEvent]("payment",
	paymentRule{From: PaymentPending, Event: EventProcess, To: PaymentProcessing},
	paymentRule{From: PaymentPending, Event: EventComplete, To: PaymentCompleted},
	paymentRule{From: PaymentPending, Event: EventFail, To: PaymentFailed},
	paymentRule{From: PaymentProcessing, Event: EventComplete, To: PaymentCompleted},
	paymentRule{From: PaymentProcessing, Event: EventFail, To: PaymentFailed},
	paymentRule{From: PaymentCompleted, Event: EventRefund, To: PaymentRefunded},
)

// VerificationEvent is a review decision
type VerificationEvent string

const (
	EventApprove VerificationEvent = "approve"
	EventReject  VerificationEvent = "reject"
)

type verificationRule = statemachine.Rule[VerificationStatus, VerificationEvent]

// VerificationTransitions is the manual review axis of a payment
var VerificationTransitions = statemachine.New[VerificationStatus, VerificationEvent]("payment verification",
	verificationRule{From: VerificationPending, Event: EventApprove, To: VerificationApproved},
	verificationRule{From: VerificationPending, Event: EventReject, To: VerificationRejected},
)

// InvoiceEvent moves an invoice between statuses
type InvoiceEvent string

const (
	EventSend        InvoiceEvent = "send"
	EventPay         InvoiceEvent = "pay"
	EventVoid        InvoiceEvent = "cancel"
	EventMarkOverdue InvoiceEvent = "overdue"
)

type invoiceRule = statemachine.Rule[InvoiceStatus, InvoiceEvent]

// InvoiceTransitions is the invoice lifecycle
var InvoiceTransitions = statemachine.New[InvoiceStatus, InvoiceEvent]("invoice",
	invoiceRule{From: InvoiceDraft, Event: EventSend, To: InvoiceSent},

	invoiceRule{From: InvoiceSent, Event: EventPay, To: InvoicePaid},
	invoiceRule{From: InvoiceOverdue, Event: EventPay, To: InvoicePaid},

	invoiceRule{From: InvoiceDraft, Event: EventVoid, To: InvoiceCancelled},
	invoiceRule{From: InvoiceSent, Event: EventVoid, To: InvoiceCancelled},
	invoiceRule{From: InvoiceOverdue, Event: EventVoid, To: InvoiceCancelled},

	invoiceRule{From: InvoiceSent, Event: EventMarkOverdue, To: InvoiceOverdue},
)
