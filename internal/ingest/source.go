// Package ingest pulls orders from external order platforms into the store.
package ingest

import (
    "context"
    "strings"

    "fooddispatch/internal/model"
)

// Source is the minimal interface an order platform integration implements.
type Source interface {
    Name() string
    FetchOrders(ctx context.Context, since string, cursor string) (Batch, error)
    Ack(ctx context.Context, ids []string) error
}

type Batch struct {
    Orders []model.OrderIn
    Cursor string
}

// MapStatus normalizes a platform status spelling onto the internal order
// lifecycle. Unknown codes land as pending so the order still enters the
// assignable pool.
func MapStatus(code string) model.OrderStatus {
    switch strings.ToLower(strings.TrimSpace(code)) {
    case "new", "created", "accepted":
        return model.OrderPending
    case "confirmed":
        return model.OrderConfirmed
    case "preparing", "in_kitchen":
        return model.OrderPreparing
    case "ready", "ready_for_pickup":
        return model.OrderReady
    case "open":
        return model.OrderOpen
    case "in_progress":
        return model.OrderInProgress
    case "out_for_delivery", "dispatched":
        return model.OrderOutForDelivery
    case "picked_up":
        return model.OrderPickedUp
    case "delivered", "completed":
        return model.OrderDelivered
    case "cancelled", "canceled", "rejected":
        return model.OrderCancelled
    }
    return model.OrderPending
}
