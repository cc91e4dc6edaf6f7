package alerts

import "time"

// Task type constants
const (
	TaskWelcomeEmail        = "email:welcome"
	TaskBookingPlaced       = "email:booking_placed"
	TaskDepositSecured      = "email:deposit_secured"
	TaskWorkSubmitted       = "email:work_submitted"
	TaskOrderCancelled      = "email:order_cancelled"
	TaskOrderCompleted      = "email:order_completed"
	TaskAutoCaptureFailed   = "email:auto_capture_failed"
	TaskSubscriptionRenewed = "email:subscription_renewed"
	TaskAdminAlert          = "email:admin_alert"
)

// Common envelope for email-like notifications
type EmailEnvelope struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Welcome email payload
type WelcomeEmailPayload struct {
	UserID   string        `json:"user_id"`
	Name     string        `json:"name"`
	Email    string        `json:"email"`
	Envelope EmailEnvelope `json:"envelope"`
	SentAt   time.Time     `json:"sent_at"`
}

// Booking placed payload (sent to provider when a hold is authorized)
type BookingPlacedPayload struct {
	OrderID    string        `json:"order_id"`
	OrderNo    string        `json:"order_no"`
	PayerID    string        `json:"payer_id"`
	ProviderID string        `json:"provider_id"`
	Amount     string        `json:"amount"`
	Envelope   EmailEnvelope `json:"envelope"`
	SentAt     time.Time     `json:"sent_at"`
}

// Deposit secured payload (sent to provider once the deposit is captured)
type DepositSecuredPayload struct {
	OrderID  string        `json:"order_id"`
	OrderNo  string        `json:"order_no"`
	Amount   string        `json:"amount"`
	Envelope EmailEnvelope `json:"envelope"`
	SentAt   time.Time     `json:"sent_at"`
}

// Work submitted payload (carries the completion code to the payer)
type WorkSubmittedPayload struct {
	OrderID  string        `json:"order_id"`
	OrderNo  string        `json:"order_no"`
	PayerID  string        `json:"payer_id"`
	Code     string        `json:"code"`
	Envelope EmailEnvelope `json:"envelope"`
	SentAt   time.Time     `json:"sent_at"`
}

// Order cancelled payload (sent to the counterparty)
type OrderCancelledPayload struct {
	OrderID  string        `json:"order_id"`
	OrderNo  string        `json:"order_no"`
	Reason   string        `json:"reason"`
	Envelope EmailEnvelope `json:"envelope"`
	SentAt   time.Time     `json:"sent_at"`
}

// Order completed payload (sent to provider when the lifecycle closes)
type OrderCompletedPayload struct {
	OrderID  string        `json:"order_id"`
	OrderNo  string        `json:"order_no"`
	Rating   int           `json:"rating"`
	Envelope EmailEnvelope `json:"envelope"`
	SentAt   time.Time     `json:"sent_at"`
}

// Auto capture failed payload (operator attention required)
type AutoCaptureFailedPayload struct {
	OrderID  string        `json:"order_id"`
	OrderNo  string        `json:"order_no"`
	Detail   string        `json:"detail"`
	Envelope EmailEnvelope `json:"envelope"`
	SentAt   time.Time     `json:"sent_at"`
}

// Subscription renewed payload
type SubscriptionRenewedPayload struct {
	SubscriptionID string        `json:"subscription_id"`
	UserID         string        `json:"user_id"`
	Method         string        `json:"method"` // wallet|card
	Amount         string        `json:"amount"`
	Envelope       EmailEnvelope `json:"envelope"`
	SentAt         time.Time     `json:"sent_at"`
}

// Admin alert payload
type AdminAlertPayload struct {
	Severity string        `json:"severity"` // info|warning|critical
	Message  string        `json:"message"`
	Envelope EmailEnvelope `json:"envelope"`
	SentAt   time.Time     `json:"sent_at"`
}
