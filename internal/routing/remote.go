package routing

import (
    "bytes"
    "context"
    "encoding/json"
    "net/http"
    "strings"
    "time"

    "fooddispatch/internal/model"
)

// RemoteEngine drives an external optimization service over HTTP. The
// collaborator receives the full job set (with whatever coordinates geocoding
// produced) and returns an OptimizationResult; the caller re-validates the
// partition property before trusting it.
type RemoteEngine struct {
    BaseURL string
    HTTP    *http.Client
}

func NewRemoteEngine(baseURL string) *RemoteEngine {
    return &RemoteEngine{
        BaseURL: strings.TrimRight(baseURL, "/"),
        HTTP:    &http.Client{Timeout: 30 * time.Second},
    }
}

type multiDriverCall struct {
    RestaurantID string         `json:"restaurant_id"`
    Drivers      []model.Driver `json:"drivers"`
    Jobs         []Job          `json:"jobs"`
}

type tourCall struct {
    Driver model.Driver `json:"driver"`
    Jobs   []Job        `json:"jobs"`
}

func (e *RemoteEngine) OptimizeMultiDriver(ctx context.Context, restaurantID string, drivers []model.Driver, jobs []Job) (model.OptimizationResult, error) {
    var res model.OptimizationResult
    err := e.post(ctx, "/optimize-multi-driver", multiDriverCall{RestaurantID: restaurantID, Drivers: drivers, Jobs: jobs}, &res)
    if err != nil {
        return model.OptimizationResult{}, err
    }
    if res.UnassignedJobs == nil { res.UnassignedJobs = []string{} }
    if res.Assignments == nil { res.Assignments = []model.Assignment{} }
    return res, nil
}

func (e *RemoteEngine) OptimizeTour(ctx context.Context, driver model.Driver, jobs []Job) (model.Route, error) {
    var out struct {
        Route model.Route `json:"route"`
    }
    if err := e.post(ctx, "/optimize-tour", tourCall{Driver: driver, Jobs: jobs}, &out); err != nil {
        return model.Route{}, err
    }
    if out.Route.OrderIDsInSequence == nil { out.Route.OrderIDsInSequence = []string{} }
    return out.Route, nil
}

func (e *RemoteEngine) post(ctx context.Context, path string, body, out any) error {
    b, err := json.Marshal(body)
    if err != nil {
        return err
    }
    req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+path, bytes.NewReader(b))
    if err != nil {
        return err
    }
    req.Header.Set("Content-Type", "application/json")
    resp, err := e.HTTP.Do(req)
    if err != nil {
        return unreachable(err)
    }
    defer func() { _ = resp.Body.Close() }()
    if resp.StatusCode < 200 || resp.StatusCode >= 300 {
        return classifyResponse(resp)
    }
    return json.NewDecoder(resp.Body).Decode(out)
}
