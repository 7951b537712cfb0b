// Package pool computes the assignable order set and eligible driver set from
// raw fetched snapshots. Filtering is pure: a failed fetch must be surfaced by
// the caller, never passed in as an empty slice pretending to be "no results".
package pool

import "fooddispatch/internal/model"

// AssignableOrders returns orders that may receive a driver: an assignable
// status and no driver set. An order with a non-nil driver_id never passes,
// regardless of status.
func AssignableOrders(orders []model.Order) []model.Order {
    out := make([]model.Order, 0, len(orders))
    for _, o := range orders {
        if o.DriverID != nil {
            continue
        }
        if o.Status.Assignable() {
            out = append(out, o)
        }
    }
    return out
}

// EligibleSingle returns drivers eligible for a single manual assignment:
// strictly available. Busy drivers are already working, offline and
// pending_activation drivers are unreachable.
func EligibleSingle(drivers []model.Driver) []model.Driver {
    out := make([]model.Driver, 0, len(drivers))
    for _, d := range drivers {
        if d.Status == model.DriverAvailable {
            out = append(out, d)
        }
    }
    return out
}

// EligibleBatch returns drivers eligible for multi-driver optimization:
// available or busy. A busy driver may take additional stops appended to an
// existing tour.
func EligibleBatch(drivers []model.Driver) []model.Driver {
    out := make([]model.Driver, 0, len(drivers))
    for _, d := range drivers {
        if d.Status == model.DriverAvailable || d.Status == model.DriverBusy {
            out = append(out, d)
        }
    }
    return out
}

// ActiveTour returns the orders forming one driver's active tour, sorted by
// delivery_sequence (unsequenced orders follow, in input order). This is the
// membership set the manual sequencer must stay a permutation of.
func ActiveTour(orders []model.Order, driverID string) []model.Order {
    seq := make([]model.Order, 0, len(orders))
    tail := make([]model.Order, 0)
    for _, o := range orders {
        if o.DriverID == nil || *o.DriverID != driverID {
            continue
        }
        if !o.Status.ActiveTour() {
            continue
        }
        if o.DeliverySequence == nil {
            tail = append(tail, o)
            continue
        }
        seq = append(seq, o)
    }
    // insertion sort keeps this dependency-free; tours are small
    for i := 1; i < len(seq); i++ {
        for j := i; j > 0 && *seq[j].DeliverySequence < *seq[j-1].DeliverySequence; j-- {
            seq[j], seq[j-1] = seq[j-1], seq[j]
        }
    }
    return append(seq, tail...)
}

// OrderCounts summarizes one restaurant's order list for the pool view.
type OrderCounts struct {
    Total      int `json:"total"`
    Assignable int `json:"assignable"`
    Assigned   int `json:"assigned"`
}

// CountOrders tallies the listing the dispatch board shows next to the pool.
func CountOrders(orders []model.Order) OrderCounts {
    c := OrderCounts{Total: len(orders)}
    for _, o := range orders {
        if o.DriverID != nil {
            c.Assigned++
            continue
        }
        if o.Status.Assignable() {
            c.Assignable++
        }
    }
    return c
}

// Stats aggregates the read-only driver counters for the stats endpoint.
func Stats(drivers []model.Driver) model.DriverStats {
    st := model.DriverStats{Total: len(drivers)}
    for _, d := range drivers {
        switch d.Status {
        case model.DriverAvailable:
            st.Available++
        case model.DriverBusy:
            st.Busy++
        case model.DriverOffline:
            st.Offline++
        case model.DriverOnBreak:
            st.OnBreak++
        case model.DriverPendingActivation:
            st.PendingActivation++
        }
        st.TotalDeliveries += d.TotalDeliveries
        st.TotalEarnings += d.TotalEarnings
    }
    return st
}
