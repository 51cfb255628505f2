// Package events holds the queue names, event types and JSON payloads shared
// by the services. Field names follow the PascalCase wire format.
package events

import "github.com/google/uuid"

const (
	UserCreatedQueue         = "user_created_queue"
	NotificationCreatedQueue = "notification_created_queue"
	OrderCreatedQueue        = "order_created_queue"
	PaymentProcessedQueue    = "payment_processed_queue"
	NotificationSentQueue    = "notification_sent_queue"
)

const (
	UserCreatedType      = "UserCreated"
	OrderCreatedType     = "OrderCreated"
	PaymentProcessedType = "PaymentProcessed"
	NotificationSentType = "NotificationSent"
)

// Routes maps each event type to the queues it is published to.
var Routes = map[string][]string{
	UserCreatedType:      {UserCreatedQueue, NotificationCreatedQueue},
	OrderCreatedType:     {OrderCreatedQueue},
	PaymentProcessedType: {PaymentProcessedQueue},
	NotificationSentType: {NotificationSentQueue},
}

// Queues lists every queue in routing order.
func Queues() []string {
	return []string{
		UserCreatedQueue,
		NotificationCreatedQueue,
		OrderCreatedQueue,
		PaymentProcessedQueue,
		NotificationSentQueue,
	}
}

type UserCreated struct {
	Id    uuid.UUID `json:"Id"`
	Name  string    `json:"Name"`
	Email string    `json:"Email"`
}

type OrderCreated struct {
	Id          uuid.UUID `json:"Id"`
	UserId      uuid.UUID `json:"UserId"`
	Product     string    `json:"Product"`
	Quantity    int       `json:"Quantity"`
	TotalAmount float64   `json:"TotalAmount"`
}

type PaymentProcessed struct {
	Id      uuid.UUID `json:"Id"`
	OrderId uuid.UUID `json:"OrderId"`
	Amount  float64   `json:"Amount"`
}

type NotificationSent struct {
	Id      uuid.UUID `json:"Id"`
	UserId  uuid.UUID `json:"UserId"`
	Message string    `json:"Message"`
}
