package alerts

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"
)

// ensureClient returns a usable client instance
func ensureClient() *asynq.Client {
	if client == nil {
		Init()
	}
	return client
}

func adminAddr() string {
	if a := os.Getenv("ADMIN_ALERT_EMAIL"); a != "" {
		return a
	}
	return "ops@fongbee.local"
}

// EnqueueWelcomeEmail schedules a welcome email to the user
func EnqueueWelcomeEmail(userID, email, name string) error {
	env := EmailEnvelope{
		To:      email,
		Subject: fmt.Sprintf("Welcome to Fongbee, %s!", name),
		Body:    fmt.Sprintf("Hi %s, thanks for joining Fongbee. Browse services and book with a refundable deposit.", name),
	}
	payload := WelcomeEmailPayload{UserID: userID, Name: name, Email: email, Envelope: env, SentAt: time.Now()}
	b, _ := json.Marshal(payload)
	_, err := ensureClient().Enqueue(asynq.NewTask(TaskWelcomeEmail, b), asynq.Queue("emails"))
	return err
}

// EnqueueBookingPlaced notifies the provider that a deposit hold was authorized
func EnqueueBookingPlaced(orderID, orderNo, payerID, providerID, providerEmail, amount string) error {
	env := EmailEnvelope{
		To:      providerEmail,
		Subject: "New booking " + orderNo,
		Body:    fmt.Sprintf("A customer booked your service. Order %s holds a %s deposit. The customer may cancel free of charge within the regret period.", orderNo, amount),
	}
	payload := BookingPlacedPayload{OrderID: orderID, OrderNo: orderNo, PayerID: payerID, ProviderID: providerID, Amount: amount, Envelope: env, SentAt: time.Now()}
	b, _ := json.Marshal(payload)
	_, err := ensureClient().Enqueue(asynq.NewTask(TaskBookingPlaced, b), asynq.Queue("emails"))
	return err
}

// EnqueueDepositSecured notifies the provider that the deposit was captured
func EnqueueDepositSecured(orderID, orderNo, providerEmail, amount string) error {
	env := EmailEnvelope{
		To:      providerEmail,
		Subject: "Deposit secured for order " + orderNo,
		Body:    fmt.Sprintf("The %s deposit for order %s is now held in escrow. You can start the work.", amount, orderNo),
	}
	payload := DepositSecuredPayload{OrderID: orderID, OrderNo: orderNo, Amount: amount, Envelope: env, SentAt: time.Now()}
	b, _ := json.Marshal(payload)
	_, err := ensureClient().Enqueue(asynq.NewTask(TaskDepositSecured, b), asynq.Queue("emails"))
	return err
}

// EnqueueWorkSubmitted delivers the completion code to the payer
func EnqueueWorkSubmitted(orderID, orderNo, payerID, payerEmail, code string) error {
	env := EmailEnvelope{
		To:      payerEmail,
		Subject: "Confirm completion of order " + orderNo,
		Body:    fmt.Sprintf("Your provider marked order %s as finished. Share code %s with them once you are satisfied with the work.", orderNo, code),
	}
	payload := WorkSubmittedPayload{OrderID: orderID, OrderNo: orderNo, PayerID: payerID, Code: code, Envelope: env, SentAt: time.Now()}
	b, _ := json.Marshal(payload)
	_, err := ensureClient().Enqueue(asynq.NewTask(TaskWorkSubmitted, b), asynq.Queue("emails"))
	return err
}

// EnqueueOrderCancelled notifies the counterparty about a cancellation
func EnqueueOrderCancelled(orderID, orderNo, email, reason string) error {
	env := EmailEnvelope{
		To:      email,
		Subject: "Order " + orderNo + " cancelled",
		Body:    fmt.Sprintf("Order %s was cancelled. Reason: %s", orderNo, reason),
	}
	payload := OrderCancelledPayload{OrderID: orderID, OrderNo: orderNo, Reason: reason, Envelope: env, SentAt: time.Now()}
	b, _ := json.Marshal(payload)
	_, err := ensureClient().Enqueue(asynq.NewTask(TaskOrderCancelled, b), asynq.Queue("emails"))
	return err
}

// EnqueueOrderCompleted notifies the provider that the order closed with a rating
func EnqueueOrderCompleted(orderID, orderNo, providerEmail string, rating int) error {
	env := EmailEnvelope{
		To:      providerEmail,
		Subject: "Order " + orderNo + " completed",
		Body:    fmt.Sprintf("Order %s is complete. The customer rated the job %d/5.", orderNo, rating),
	}
	payload := OrderCompletedPayload{OrderID: orderID, OrderNo: orderNo, Rating: rating, Envelope: env, SentAt: time.Now()}
	b, _ := json.Marshal(payload)
	_, err := ensureClient().Enqueue(asynq.NewTask(TaskOrderCompleted, b), asynq.Queue("emails"))
	return err
}

// EnqueueAutoCaptureFailed raises an operator alert for a failed sweep capture
func EnqueueAutoCaptureFailed(orderID, orderNo, detail string) error {
	env := EmailEnvelope{
		To:      adminAddr(),
		Subject: "Auto-capture failed for order " + orderNo,
		Body:    fmt.Sprintf("Order %s could not be captured automatically: %s. The order was left for the next sweep.", orderNo, detail),
	}
	payload := AutoCaptureFailedPayload{OrderID: orderID, OrderNo: orderNo, Detail: detail, Envelope: env, SentAt: time.Now()}
	b, _ := json.Marshal(payload)
	_, err := ensureClient().Enqueue(asynq.NewTask(TaskAutoCaptureFailed, b), asynq.Queue("alerts"))
	return err
}

// EnqueueSubscriptionRenewed confirms a renewal charge to the subscriber
func EnqueueSubscriptionRenewed(subscriptionID, userID, email, method, amount string) error {
	env := EmailEnvelope{
		To:      email,
		Subject: "Your Fongbee subscription renewed",
		Body:    fmt.Sprintf("We charged %s via %s for your subscription renewal.", amount, method),
	}
	payload := SubscriptionRenewedPayload{SubscriptionID: subscriptionID, UserID: userID, Method: method, Amount: amount, Envelope: env, SentAt: time.Now()}
	b, _ := json.Marshal(payload)
	_, err := ensureClient().Enqueue(asynq.NewTask(TaskSubscriptionRenewed, b), asynq.Queue("emails"))
	return err
}

// EnqueueAdminAlert sends an operational alert to the admin address
func EnqueueAdminAlert(severity, message string) error {
	env := EmailEnvelope{To: adminAddr(), Subject: "Fongbee alert", Body: message}
	payload := AdminAlertPayload{Severity: severity, Message: message, Envelope: env, SentAt: time.Now()}
	b, _ := json.Marshal(payload)
	_, err := ensureClient().Enqueue(asynq.NewTask(TaskAdminAlert, b), asynq.Queue("alerts"))
	return err
}
