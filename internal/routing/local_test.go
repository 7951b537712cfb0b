package routing

import (
    "context"
    "reflect"
    "testing"

    "fooddispatch/internal/model"
)

func gp(lat, lng float64) *model.GeoPoint { return &model.GeoPoint{Latitude: lat, Longitude: lng} }

func testJobs() []Job {
    return []Job{
        {OrderID: "o1", Address: "Main St 1", Location: gp(52.5200, 13.4050)},
        {OrderID: "o2", Address: "Main St 2", Location: gp(52.5210, 13.4060)},
        {OrderID: "o3", Address: "Main St 3", Location: gp(52.5300, 13.4200)},
    }
}

func TestSingleDriverGetsAllOrders(t *testing.T) {
    e := NewLocalEngine()
    drivers := []model.Driver{{ID: "d1", Status: model.DriverAvailable, CurrentLocation: gp(52.52, 13.40)}}
    res, err := e.OptimizeMultiDriver(context.Background(), "r1", drivers, testJobs())
    if err != nil { t.Fatalf("optimize: %v", err) }
    if len(res.Assignments) != 1 { t.Fatalf("assignments = %d, want 1", len(res.Assignments)) }
    if res.OrdersAssigned != 3 { t.Fatalf("orders_assigned = %d, want 3", res.OrdersAssigned) }
    if len(res.Assignments[0].Route.OrderIDsInSequence) != 3 {
        t.Fatalf("route has %d stops, want 3", len(res.Assignments[0].Route.OrderIDsInSequence))
    }
    if res.DriversUsed != 1 || res.OrdersTotal != 3 || res.GeocodingIssues != 0 {
        t.Fatalf("bad counters: %+v", res)
    }
    if err := ValidateResult(res, testJobs()); err != nil { t.Fatalf("partition: %v", err) }
}

func TestGeocodingFailureGoesToUnassigned(t *testing.T) {
    e := NewLocalEngine()
    jobs := append(testJobs(), Job{OrderID: "o4", Address: "Nowhere 9"}) // no location
    drivers := []model.Driver{
        {ID: "d1", CurrentLocation: gp(52.52, 13.40)},
        {ID: "d2", CurrentLocation: gp(52.53, 13.42)},
    }
    res, err := e.OptimizeMultiDriver(context.Background(), "r1", drivers, jobs)
    if err != nil { t.Fatalf("optimize: %v", err) }
    if res.GeocodingIssues != 1 { t.Fatalf("geocoding_issues = %d, want 1", res.GeocodingIssues) }
    if res.OrdersGeocoded != 3 { t.Fatalf("orders_geocoded = %d, want 3", res.OrdersGeocoded) }
    if res.OrdersAssigned != 3 { t.Fatalf("orders_assigned = %d, want 3", res.OrdersAssigned) }
    found := false
    for _, id := range res.UnassignedJobs {
        if id == "o4" { found = true }
    }
    if !found { t.Fatalf("o4 missing from unassigned_jobs: %v", res.UnassignedJobs) }
    if err := ValidateResult(res, jobs); err != nil { t.Fatalf("partition: %v", err) }
}

func TestMultiDriverPartitionProperty(t *testing.T) {
    e := NewLocalEngine()
    jobs := []Job{
        {OrderID: "a", Address: "A", Location: gp(52.50, 13.40)},
        {OrderID: "b", Address: "B", Location: gp(52.51, 13.41)},
        {OrderID: "c", Address: "C", Location: gp(52.60, 13.50)},
        {OrderID: "d", Address: "D", Location: gp(52.61, 13.51)},
        {OrderID: "e", Address: "E", Location: gp(52.62, 13.52)},
    }
    drivers := []model.Driver{
        {ID: "d1", CurrentLocation: gp(52.50, 13.40)},
        {ID: "d2", CurrentLocation: gp(52.60, 13.50)},
    }
    res, err := e.OptimizeMultiDriver(context.Background(), "r1", drivers, jobs)
    if err != nil { t.Fatalf("optimize: %v", err) }
    if err := ValidateResult(res, jobs); err != nil { t.Fatalf("partition: %v", err) }
    if res.OrdersAssigned+len(res.UnassignedJobs) != res.OrdersTotal {
        t.Fatalf("assigned %d + unassigned %d != total %d", res.OrdersAssigned, len(res.UnassignedJobs), res.OrdersTotal)
    }
}

func TestOptimizeTourDeterministic(t *testing.T) {
    e := NewLocalEngine()
    driver := model.Driver{ID: "d1", CurrentLocation: gp(52.52, 13.40)}
    jobs := testJobs()
    first, err := e.OptimizeTour(context.Background(), driver, jobs)
    if err != nil { t.Fatalf("optimize tour: %v", err) }
    for i := 0; i < 5; i++ {
        again, err := e.OptimizeTour(context.Background(), driver, jobs)
        if err != nil { t.Fatalf("optimize tour: %v", err) }
        if !reflect.DeepEqual(first.OrderIDsInSequence, again.OrderIDsInSequence) {
            t.Fatalf("run %d differs: %v vs %v", i, first.OrderIDsInSequence, again.OrderIDsInSequence)
        }
    }
}

func TestOptimizeTourKeepsUngeocodedStops(t *testing.T) {
    e := NewLocalEngine()
    driver := model.Driver{ID: "d1", CurrentLocation: gp(52.52, 13.40)}
    jobs := append(testJobs(), Job{OrderID: "o9", Address: "Unknown 1"})
    route, err := e.OptimizeTour(context.Background(), driver, jobs)
    if err != nil { t.Fatalf("optimize tour: %v", err) }
    if len(route.OrderIDsInSequence) != 4 {
        t.Fatalf("tour has %d stops, want 4", len(route.OrderIDsInSequence))
    }
    if route.OrderIDsInSequence[3] != "o9" {
        t.Fatalf("ungeocoded stop should trail, got %v", route.OrderIDsInSequence)
    }
}

func TestValidateResultRejectsDuplicates(t *testing.T) {
    jobs := testJobs()
    res := model.OptimizationResult{
        Assignments: []model.Assignment{
            {DriverID: "d1", Route: model.Route{OrderIDsInSequence: []string{"o1", "o2"}}},
            {DriverID: "d2", Route: model.Route{OrderIDsInSequence: []string{"o2"}}},
        },
    }
    if err := ValidateResult(res, jobs); err == nil {
        t.Fatal("duplicate order across routes must be rejected")
    }
    res = model.OptimizationResult{
        Assignments:    []model.Assignment{{DriverID: "d1", Route: model.Route{OrderIDsInSequence: []string{"o1"}}}},
        UnassignedJobs: []string{"o1"},
    }
    if err := ValidateResult(res, jobs); err == nil {
        t.Fatal("order both routed and unassigned must be rejected")
    }
    res = model.OptimizationResult{
        Assignments: []model.Assignment{{DriverID: "d1", Route: model.Route{OrderIDsInSequence: []string{"other"}}}},
    }
    if err := ValidateResult(res, jobs); err == nil {
        t.Fatal("order outside the input pool must be rejected")
    }
}
