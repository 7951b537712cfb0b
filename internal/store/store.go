package store

import (
    "context"
    "errors"
    "time"

    "fooddispatch/internal/model"
)

// Store is the persistence interface used by the API server and dispatcher.
type Store interface {
    // Orders
    CreateOrders(ctx context.Context, tenantID string, orders []model.OrderIn) (created int, err error)
    ListOrders(ctx context.Context, tenantID, restaurantID string, status model.OrderStatus) ([]model.Order, error)
    GetOrder(ctx context.Context, tenantID, orderID string) (model.Order, error)
    UpdateOrderStatus(ctx context.Context, tenantID, orderID string, status model.OrderStatus) (model.Order, error)

    // Assignment. AssignDriver is a single order-to-driver commit;
    // ApplyAssignments commits a whole optimization result atomically;
    // SaveTour overwrites a driver's delivery_sequence values wholesale.
    AssignDriver(ctx context.Context, tenantID, orderID, driverID, estimatedDeliveryTime string) (model.Order, error)
    ApplyAssignments(ctx context.Context, tenantID, restaurantID string, assignments []model.Assignment) (ordersAssigned int, err error)
    SaveTour(ctx context.Context, tenantID, driverID string, orderIDs []string) error
    ListDriverTour(ctx context.Context, tenantID, driverID string) ([]model.Order, error)

    // Drivers
    UpsertDrivers(ctx context.Context, tenantID string, drivers []model.DriverIn) (int, error)
    ListDrivers(ctx context.Context, tenantID string) ([]model.Driver, error)
    GetDriver(ctx context.Context, tenantID, driverID string) (model.Driver, error)
    UpdateDriverStatus(ctx context.Context, tenantID, driverID string, status model.DriverStatus) (model.Driver, error)
    UpdateDriverLocation(ctx context.Context, tenantID, driverID string, loc model.GeoPoint) error

    // Subscriptions
    CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
    GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error)
    ListSubscriptions(ctx context.Context, tenantID string) ([]model.Subscription, error)
    DeleteSubscription(ctx context.Context, tenantID, id string) error

    // Webhook deliveries
    EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
    FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
    MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
    FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
}

var ErrNotFound = errors.New("not found")

// ErrConflict marks an assignment or resequence that contradicts current
// order state (already owned, wrong status, foreign tour member).
var ErrConflict = errors.New("conflict")
