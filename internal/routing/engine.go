// Package routing defines the route-engine contract the dispatcher drives and
// its two implementations: a remote HTTP collaborator and a built-in
// heuristic fallback.
package routing

import (
    "context"
    "fmt"

    "fooddispatch/internal/model"
)

// Job is one delivery stop candidate. Location is nil when geocoding failed;
// such jobs are reported in unassigned_jobs and counted in geocoding_issues,
// never silently dropped.
type Job struct {
    OrderID  string          `json:"order_id"`
    Address  string          `json:"address"`
    Location *model.GeoPoint `json:"location"`
}

// Engine computes delivery sequences. Results are advisory: nothing is
// persisted until the dispatcher applies them. OptimizeTour must be
// deterministic for unchanged inputs.
type Engine interface {
    OptimizeMultiDriver(ctx context.Context, restaurantID string, drivers []model.Driver, jobs []Job) (model.OptimizationResult, error)
    OptimizeTour(ctx context.Context, driver model.Driver, jobs []Job) (model.Route, error)
}

// ValidateResult enforces the partition property on an optimization result
// before it is surfaced: no order id may appear twice across assignment
// routes and unassigned_jobs, and every id must come from the input job set.
// Remote results are re-validated here; a malformed result is rejected rather
// than shown to the dispatcher.
func ValidateResult(res model.OptimizationResult, jobs []Job) error {
    input := make(map[string]bool, len(jobs))
    for _, j := range jobs {
        input[j.OrderID] = true
    }
    seen := map[string]bool{}
    for _, a := range res.Assignments {
        for _, id := range a.Route.OrderIDsInSequence {
            if !input[id] {
                return fmt.Errorf("assignment for driver %s references order %s outside the input pool", a.DriverID, id)
            }
            if seen[id] {
                return fmt.Errorf("order %s appears in more than one route", id)
            }
            seen[id] = true
        }
    }
    for _, id := range res.UnassignedJobs {
        if !input[id] {
            return fmt.Errorf("unassigned job %s is outside the input pool", id)
        }
        if seen[id] {
            return fmt.Errorf("order %s is both routed and unassigned", id)
        }
        seen[id] = true
    }
    return nil
}
