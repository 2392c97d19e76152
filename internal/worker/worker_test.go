package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/fiscal/internal/bus"
	"github.com/opensource-finance/fiscal/internal/domain"
)

type fakeClassifier struct {
	mu    sync.Mutex
	calls []domain.ClassificationRequested
	fail  map[string]bool
	done  chan string
}

func newFakeClassifier() *fakeClassifier {
	return &fakeClassifier{fail: map[string]bool{}, done: make(chan string, 10)}
}

func (f *fakeClassifier) Classify(ctx context.Context, tenantID, txID string) (*domain.Evaluation, error) {
	f.mu.Lock()
	f.calls = append(f.calls, domain.ClassificationRequested{TenantID: tenantID, TxID: txID})
	fail := f.fail[txID]
	f.mu.Unlock()

	defer func() { f.done <- txID }()
	if fail {
		return nil, errors.New("boom")
	}
	return &domain.Evaluation{ID: "eval-" + txID, TenantID: tenantID, TxID: txID}, nil
}

func waitFor(t *testing.T, ch <-chan string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("timeout after %d/%d classifications", i, n)
		}
	}
}

func enqueue(t *testing.T, b domain.EventBus, req domain.ClassificationRequested) {
	t.Helper()
	if err := bus.PublishJSON(context.Background(), b, domain.QueueTenant, domain.TopicTransactionIngested, req); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, newFakeClassifier())

		if err := w.Start(Config{WorkerCount: 2}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}
		if stats.Topics[0] != domain.TopicTransactionIngested {
			t.Errorf("expected topic %s, got %s", domain.TopicTransactionIngested, stats.Topics[0])
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if w.GetStats().SubscriptionCount != 0 {
			t.Error("expected 0 subscriptions after stop")
		}
	})

	t.Run("ClassifiesQueuedTransactions", func(t *testing.T) {
		classifier := newFakeClassifier()
		w := NewWorker(eventBus, classifier)
		if err := w.Start(Config{WorkerCount: 2}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		enqueue(t, eventBus, domain.ClassificationRequested{TxID: "tx-a", TenantID: "tenant-a"})
		enqueue(t, eventBus, domain.ClassificationRequested{TxID: "tx-b", TenantID: "tenant-b"})
		waitFor(t, classifier.done, 2)

		classifier.mu.Lock()
		defer classifier.mu.Unlock()
		seen := map[string]string{}
		for _, c := range classifier.calls {
			seen[c.TxID] = c.TenantID
		}
		if seen["tx-a"] != "tenant-a" || seen["tx-b"] != "tenant-b" {
			t.Errorf("expected each request classified under its own tenant, got %v", seen)
		}
	})

	t.Run("CountsFailures", func(t *testing.T) {
		classifier := newFakeClassifier()
		classifier.fail["tx-bad"] = true

		w := NewWorker(eventBus, classifier)
		if err := w.Start(Config{WorkerCount: 1}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		enqueue(t, eventBus, domain.ClassificationRequested{TxID: "tx-bad", TenantID: "tenant-a"})
		enqueue(t, eventBus, domain.ClassificationRequested{TxID: "tx-good", TenantID: "tenant-a"})
		waitFor(t, classifier.done, 2)
		w.Stop()

		stats := w.GetStats()
		if stats.Processed != 1 || stats.Failed != 1 {
			t.Errorf("expected 1 processed and 1 failed, got %+v", stats)
		}
	})
}

func TestHandleMessageRejectsBadPayload(t *testing.T) {
	w := NewWorker(bus.NewChannelBus(1), newFakeClassifier())
	w.sem = make(chan struct{}, 1)

	err := w.handleMessage(context.Background(), &domain.Message{ID: "m1", Payload: []byte("not json")})
	if err == nil {
		t.Error("expected error for malformed payload")
	}

	payload, _ := json.Marshal(domain.ClassificationRequested{TxID: "tx-1"})
	err = w.handleMessage(context.Background(), &domain.Message{ID: "m2", Payload: payload})
	if err == nil {
		t.Error("expected error for request without tenant")
	}

	if w.GetStats().Failed != 2 {
		t.Errorf("expected 2 failures, got %d", w.GetStats().Failed)
	}
}
