package store

// WebhookDelivery is one queued outbound notification (dispatch lifecycle
// events such as orders.assigned or tour.saved).
type WebhookDelivery struct {
    ID             string
    TenantID       string
    SubscriptionID string
    EventType      string
    URL            string
    Secret         string
    Payload        []byte
    Status         string
    Attempts       int
}
