package webhooks

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pynthchain/core/events"
	"pynthchain/crypto"
	nativecommon "pynthchain/native/common"
)

type capture struct {
	mu        sync.Mutex
	bodies    [][]byte
	signature string
	event     string
}

func (c *capture) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	_ = r.Body.Close()
	c.mu.Lock()
	c.bodies = append(c.bodies, body)
	c.signature = r.Header.Get(signatureHeader)
	c.event = r.Header.Get(eventHeader)
	c.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func TestDispatcherForwardsSubscribedEvents(t *testing.T) {
	rec := &capture{}
	server := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer server.Close()
	secret := []byte("secret")
	dispatcher, err := NewDispatcher(server.URL, secret)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()

	account := crypto.BytesToAddress([]byte{0x01})
	dispatcher.Emit(events.PynthsIssued{Account: account, Amount: nativecommon.Units(1)})
	dispatcher.Emit(events.AccountFlagged{Account: account, Deadline: time.Unix(1_700_000_000, 0)})

	waitFor(func() bool { return rec.count() >= 1 }, time.Second)
	time.Sleep(50 * time.Millisecond)
	if got := rec.count(); got != 1 {
		t.Fatalf("expected only the subscribed event, got %d deliveries", got)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.event != events.TypeAccountFlagged {
		t.Fatalf("unexpected event header %q", rec.event)
	}
	if rec.signature != Sign(secret, rec.bodies[0]) {
		t.Fatalf("signature mismatch")
	}
	var payload Payload
	if err := json.Unmarshal(rec.bodies[0], &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Attributes["account"] != account.String() || payload.DeliveryID == "" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestDispatcherRetries(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithRetryPolicy(5, time.Millisecond*10, time.Millisecond*20))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	if err := dispatcher.Enqueue(Payload{Type: events.TypeFeePeriodClosed}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(func() bool { return atomic.LoadInt32(&attempts) >= 3 }, time.Second)
	if atomic.LoadInt32(&attempts) < 3 {
		t.Fatalf("expected retries, got %d", attempts)
	}
}

func TestNewDispatcherValidates(t *testing.T) {
	if _, err := NewDispatcher(" ", []byte("s")); err == nil {
		t.Fatalf("expected endpoint error")
	}
	if _, err := NewDispatcher("http://localhost", nil); err == nil {
		t.Fatalf("expected secret error")
	}
}

func waitFor(cond func() bool, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond * 10)
	}
}
