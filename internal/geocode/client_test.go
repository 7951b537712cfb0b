package geocode

import (
    "context"
    "errors"
    "net/http"
    "net/http/httptest"
    "sync/atomic"
    "testing"
    "time"
)

func TestLookupCachesResults(t *testing.T) {
    var hits int32
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        atomic.AddInt32(&hits, 1)
        if got := r.URL.Query().Get("q"); got != "Main St 1, Berlin" {
            t.Fatalf("q = %q", got)
        }
        _, _ = w.Write([]byte(`{"latitude":52.52,"longitude":13.405}`))
    }))
    defer srv.Close()
    c := New(srv.URL)
    c.limiter.SetLimit(1000)

    for i := 0; i < 3; i++ {
        p, err := c.Lookup(context.Background(), "Main St 1, Berlin")
        if err != nil { t.Fatalf("lookup: %v", err) }
        if p.Latitude != 52.52 || p.Longitude != 13.405 { t.Fatalf("bad point: %+v", p) }
    }
    if n := atomic.LoadInt32(&hits); n != 1 {
        t.Fatalf("collaborator hit %d times, want 1 (cache miss only)", n)
    }

    c.Invalidate("main st 1,  berlin") // normalization makes this the same key
    if _, err := c.Lookup(context.Background(), "Main St 1, Berlin"); err != nil {
        t.Fatalf("lookup after invalidate: %v", err)
    }
    if n := atomic.LoadInt32(&hits); n != 2 {
        t.Fatalf("collaborator hit %d times after invalidate, want 2", n)
    }
}

func TestLookupExpiry(t *testing.T) {
    var hits int32
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        atomic.AddInt32(&hits, 1)
        _, _ = w.Write([]byte(`{"latitude":1,"longitude":2}`))
    }))
    defer srv.Close()
    c := New(srv.URL)
    c.limiter.SetLimit(1000)
    c.TTL = time.Millisecond
    if _, err := c.Lookup(context.Background(), "x"); err != nil { t.Fatal(err) }
    time.Sleep(5 * time.Millisecond)
    if _, err := c.Lookup(context.Background(), "x"); err != nil { t.Fatal(err) }
    if n := atomic.LoadInt32(&hits); n != 2 {
        t.Fatalf("expired entry not refreshed, hits = %d", n)
    }
}

func TestLookupNotFound(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(404)
    }))
    defer srv.Close()
    c := New(srv.URL)
    c.limiter.SetLimit(1000)
    _, err := c.Lookup(context.Background(), "nowhere")
    if !errors.Is(err, ErrNotFound) {
        t.Fatalf("want ErrNotFound, got %v", err)
    }
}

func TestDisabledClient(t *testing.T) {
    c := New("")
    _, err := c.Lookup(context.Background(), "anywhere")
    if !errors.Is(err, ErrDisabled) {
        t.Fatalf("want ErrDisabled, got %v", err)
    }
}
