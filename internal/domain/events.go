package domain

// Event types written to the license outbox.
const (
	EventOrderCreated          = "license.order.created"
	EventOrderEnrolled         = "license.order.enrolled"
	EventOrderRebound          = "license.order.rebound"
	EventSubscriptionExtended  = "license.subscription.extended"
	EventEmailDeliveryRequired = "notification.email.requested"
)

// EmailRequest is the payload of EventEmailDeliveryRequired.
type EmailRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// RedactedEmailPayload replaces an email request's payload once the row is
// delivered or dead-lettered, so no verification code stays in the outbox.
const RedactedEmailPayload = `{"redacted":true}`
