package pool

import (
    "testing"

    "fooddispatch/internal/model"
)

func strp(s string) *string { return &s }
func intp(i int) *int       { return &i }

func TestAssignableOrders(t *testing.T) {
    orders := []model.Order{
        {ID: "o1", Status: model.OrderPending},
        {ID: "o2", Status: model.OrderReady},
        {ID: "o3", Status: model.OrderOpen},
        {ID: "o4", Status: model.OrderInProgress},
        {ID: "o5", Status: model.OrderDelivered},
        {ID: "o6", Status: model.OrderCancelled},
        {ID: "o7", Status: model.OrderConfirmed},
        {ID: "o8", Status: model.OrderReady, DriverID: strp("d1")}, // has driver, excluded
    }
    got := AssignableOrders(orders)
    want := map[string]bool{"o1": true, "o2": true, "o3": true, "o4": true}
    if len(got) != len(want) { t.Fatalf("got %d assignable, want %d", len(got), len(want)) }
    for _, o := range got {
        if !want[o.ID] { t.Fatalf("unexpected assignable order %s", o.ID) }
    }
}

func TestAssignableNeverIncludesOwnedOrders(t *testing.T) {
    // any status with driver_id set stays out of the pool
    for _, st := range []model.OrderStatus{
        model.OrderPending, model.OrderReady, model.OrderOpen, model.OrderInProgress,
    } {
        got := AssignableOrders([]model.Order{{ID: "x", Status: st, DriverID: strp("d9")}})
        if len(got) != 0 {
            t.Fatalf("status %s with driver set was included", st)
        }
    }
}

func TestEligibleDrivers(t *testing.T) {
    drivers := []model.Driver{
        {ID: "d1", Status: model.DriverAvailable},
        {ID: "d2", Status: model.DriverBusy},
        {ID: "d3", Status: model.DriverOffline},
        {ID: "d4", Status: model.DriverOnBreak},
        {ID: "d5", Status: model.DriverPendingActivation},
    }
    single := EligibleSingle(drivers)
    if len(single) != 1 || single[0].ID != "d1" {
        t.Fatalf("single eligibility: got %+v, want only d1", single)
    }
    batch := EligibleBatch(drivers)
    if len(batch) != 2 || batch[0].ID != "d1" || batch[1].ID != "d2" {
        t.Fatalf("batch eligibility: got %+v, want d1,d2", batch)
    }
}

func TestActiveTourSortsBySequence(t *testing.T) {
    orders := []model.Order{
        {ID: "b", DriverID: strp("d1"), Status: model.OrderReady, DeliverySequence: intp(2)},
        {ID: "a", DriverID: strp("d1"), Status: model.OrderPickedUp, DeliverySequence: intp(1)},
        {ID: "c", DriverID: strp("d1"), Status: model.OrderPreparing}, // unsequenced, trails
        {ID: "z", DriverID: strp("d1"), Status: model.OrderDelivered}, // not active
        {ID: "y", DriverID: strp("d2"), Status: model.OrderReady, DeliverySequence: intp(1)},
        {ID: "x", Status: model.OrderReady},
    }
    got := ActiveTour(orders, "d1")
    ids := make([]string, len(got))
    for i, o := range got { ids[i] = o.ID }
    want := []string{"a", "b", "c"}
    if len(ids) != len(want) { t.Fatalf("tour = %v, want %v", ids, want) }
    for i := range want {
        if ids[i] != want[i] { t.Fatalf("tour = %v, want %v", ids, want) }
    }
}

func TestCountOrders(t *testing.T) {
    c := CountOrders([]model.Order{
        {ID: "o1", Status: model.OrderPending},
        {ID: "o2", Status: model.OrderReady, DriverID: strp("d1")},
        {ID: "o3", Status: model.OrderDelivered},
        {ID: "o4", Status: model.OrderCancelled, DriverID: strp("d1")},
    })
    if c.Total != 4 || c.Assignable != 1 || c.Assigned != 2 {
        t.Fatalf("bad counts: %+v", c)
    }
}

func TestStats(t *testing.T) {
    st := Stats([]model.Driver{
        {Status: model.DriverAvailable, TotalDeliveries: 10, TotalEarnings: 120.5},
        {Status: model.DriverBusy, TotalDeliveries: 3, TotalEarnings: 40},
        {Status: model.DriverOffline},
    })
    if st.Total != 3 || st.Available != 1 || st.Busy != 1 || st.Offline != 1 {
        t.Fatalf("bad counters: %+v", st)
    }
    if st.TotalDeliveries != 13 || st.TotalEarnings != 160.5 {
        t.Fatalf("bad aggregates: %+v", st)
    }
}
