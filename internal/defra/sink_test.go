package defra

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// newSinkServer returns a server that answers every mutation with a create
// response and counts requests.
func newSinkServer(t *testing.T) (*httptest.Server, *int, *sync.Mutex) {
	t.Helper()
	var mu sync.Mutex
	count := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": {"create_CostRecord": [{"_docID": "bae-cost"}]}}`))
	}))
	return server, &count, &mu
}

func TestSink_SendSync(t *testing.T) {
	server, _, _ := newSinkServer(t)
	defer server.Close()

	sink := NewSink(SinkConfig{
		Client:        NewClient(server.URL),
		FlushInterval: 10 * time.Millisecond,
	})
	sink.Start(context.Background())
	defer sink.Stop()

	result, err := sink.SendSync(context.Background(), WriteOp{
		Collection: "CostRecord",
		Document:   map[string]any{"kind": "chapter"},
		Op:         OpCreate,
	})
	if err != nil {
		t.Fatalf("SendSync() error = %v", err)
	}
	if result.DocID != "bae-cost" {
		t.Errorf("SendSync() docID = %q, want bae-cost", result.DocID)
	}
}

func TestSink_Send_FlushOnStop(t *testing.T) {
	server, count, mu := newSinkServer(t)
	defer server.Close()

	sink := NewSink(SinkConfig{
		Client:        NewClient(server.URL),
		BatchSize:     100,
		FlushInterval: time.Hour, // only Stop should flush
	})
	sink.Start(context.Background())

	for i := 0; i < 5; i++ {
		sink.Send(WriteOp{
			Collection: "CostRecord",
			Document:   map[string]any{"kind": "chapter"},
			Op:         OpCreate,
		})
	}

	sink.Stop()

	mu.Lock()
	got := *count
	mu.Unlock()
	if got != 5 {
		t.Errorf("writes after Stop() = %d, want 5", got)
	}
}

func TestSink_FlushOnBatchSize(t *testing.T) {
	server, count, mu := newSinkServer(t)
	defer server.Close()

	sink := NewSink(SinkConfig{
		Client:        NewClient(server.URL),
		BatchSize:     2,
		FlushInterval: time.Hour,
	})
	sink.Start(context.Background())
	defer sink.Stop()

	sink.Send(WriteOp{Collection: "CostRecord", Document: map[string]any{"a": 1}, Op: OpCreate})
	sink.Send(WriteOp{Collection: "CostRecord", Document: map[string]any{"a": 2}, Op: OpCreate})

	// Batch flush happens on the batcher goroutine; give it a moment.
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		got := *count
		mu.Unlock()
		if got >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("batch never flushed, writes = %d", got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSink_SendAfterStop_Drops(t *testing.T) {
	server, _, _ := newSinkServer(t)
	defer server.Close()

	sink := NewSink(SinkConfig{Client: NewClient(server.URL)})
	sink.Start(context.Background())
	sink.Stop()

	// Must not panic.
	sink.Send(WriteOp{Collection: "CostRecord", Document: map[string]any{"a": 1}, Op: OpCreate})
}

func TestSink_StopIdempotent(t *testing.T) {
	server, _, _ := newSinkServer(t)
	defer server.Close()

	sink := NewSink(SinkConfig{Client: NewClient(server.URL)})
	sink.Start(context.Background())
	sink.Stop()
	sink.Stop()
}
