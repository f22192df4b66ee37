package mqttpub

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/configentry"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/entities"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/hub"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/ojapi"
)

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu           sync.Mutex
	messages     []message
	failTopic    string
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	if topic == c.failTopic {
		return &fakeToken{err: errors.New("broker said no")}
	}
	c.messages = append(c.messages, message{topic, qos, retained, payload.([]byte)})
	return &fakeToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

type fakeSource struct {
	listener     hub.StateListener
	unsubscribed bool
}

func (s *fakeSource) Subscribe(fn hub.StateListener) func() {
	s.listener = fn
	return func() { s.unsubscribed = true }
}

func states() []entities.State {
	return []entities.State{
		{UniqueID: "S1", Platform: entities.PlatformClimate, Name: "Kitchen", Available: true, State: "auto"},
		{UniqueID: "S1_temperature_room", Platform: entities.PlatformSensor, Name: "Kitchen Temperature Room", Available: true, State: 21.2},
	}
}

func TestStateTopic(t *testing.T) {
	tests := []struct {
		prefix, want string
	}{
		{"", "ojmicroline/S1/state"},
		{"home/heating", "home/heating/S1/state"},
		{"home/heating/", "home/heating/S1/state"},
	}

	for _, tt := range tests {
		if got := New(&fakeClient{}, tt.prefix).StateTopic("S1"); got != tt.want {
			t.Errorf("prefix %q: got %s, want %s", tt.prefix, got, tt.want)
		}
	}
}

func TestPublishStates(t *testing.T) {
	client := &fakeClient{}
	p := New(client, "oj")

	if err := p.PublishStates(states()); err != nil {
		t.Fatal(err)
	}

	if len(client.messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(client.messages))
	}

	msg := client.messages[1]
	if msg.topic != "oj/S1_temperature_room/state" || !msg.retained || msg.qos != qos {
		t.Errorf("unexpected message %+v", msg)
	}

	var st entities.State
	if err := json.Unmarshal(msg.payload, &st); err != nil {
		t.Fatal(err)
	}
	if st.UniqueID != "S1_temperature_room" || st.State != 21.2 {
		t.Errorf("payload decoded to %+v", st)
	}
}

func TestPublishStatesContinuesAfterFailure(t *testing.T) {
	client := &fakeClient{failTopic: "oj/S1/state"}
	p := New(client, "oj")

	err := p.PublishStates(states())
	if err == nil {
		t.Fatal("expected an error")
	}
	if len(client.messages) != 1 || client.messages[0].topic != "oj/S1_temperature_room/state" {
		t.Errorf("remaining states not published: %+v", client.messages)
	}
}

func TestStartStop(t *testing.T) {
	client := &fakeClient{}
	src := &fakeSource{}
	p := New(client, "")

	p.Start(src)
	if src.listener == nil {
		t.Fatal("publisher did not subscribe")
	}

	src.listener("entry-1", states())

	// Stop flushes the queue before disconnecting
	p.Stop()
	if len(client.messages) != 2 {
		t.Errorf("expected 2 messages, got %d", len(client.messages))
	}
	if !src.unsubscribed || !client.disconnected {
		t.Errorf("unsubscribed=%v disconnected=%v", src.unsubscribed, client.disconnected)
	}
}

// stalledToken completes only once the gate is closed
type stalledToken struct {
	gate chan struct{}
}

func (t *stalledToken) Wait() bool {
	<-t.gate
	return true
}

func (t *stalledToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.gate:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *stalledToken) Error() error          { return nil }
func (t *stalledToken) Done() <-chan struct{} { return t.gate }

type stalledClient struct {
	gate         chan struct{}
	publishes    int32
	disconnected int32
}

func newStalledClient() *stalledClient {
	return &stalledClient{gate: make(chan struct{})}
}

func (c *stalledClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	atomic.AddInt32(&c.publishes, 1)
	return &stalledToken{gate: c.gate}
}

func (c *stalledClient) Disconnect(uint) {
	atomic.StoreInt32(&c.disconnected, 1)
}

func TestStalledBrokerDoesNotBlockSource(t *testing.T) {
	client := newStalledClient()
	src := &fakeSource{}
	p := New(client, "oj")
	p.Start(src)

	start := time.Now()
	for i := 0; i < 100; i++ {
		src.listener("entry-1", states())
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("listener blocked for %s", elapsed)
	}

	close(client.gate)
	p.Stop()

	n := atomic.LoadInt32(&client.publishes)
	if n == 0 {
		t.Error("nothing published once the broker recovered")
	}
	// One batch in flight plus a full queue; the rest were dropped
	if limit := int32(2 * (queueSize + 1)); n > limit {
		t.Errorf("published %d states, expected at most %d", n, limit)
	}
	if atomic.LoadInt32(&client.disconnected) != 1 {
		t.Error("client not disconnected")
	}
}

func TestStalledBrokerDoesNotBlockHub(t *testing.T) {
	user := "user-" + uuid.New().String()
	e := configentry.Entry{
		ID:      uuid.New().String(),
		Version: configentry.CurrentVersion,
		Title:   "wg4 " + user,
		Data: configentry.Data{
			Model:    ojapi.ModelWG4,
			Username: user,
			Password: "secret",
		},
	}

	h := hub.New(configentry.NewMemoryStore(e), hub.NewSettings().
		WithUpdateInterval(time.Hour).
		WithRefreshDelay(0).
		WithSetupRetryInterval(0))
	defer h.Close(context.Background())

	client := newStalledClient()
	p := New(client, "oj")
	p.Start(h)

	ctx := context.Background()
	start := time.Now()
	if err := h.SetupEntry(ctx, e.ID); err != nil {
		t.Fatalf("SetupEntry: %v", err)
	}
	if err := h.ReloadEntry(ctx, e.ID); err != nil {
		t.Fatalf("ReloadEntry: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= publishTimeout {
		t.Fatalf("hub waited on the broker for %s", elapsed)
	}

	close(client.gate)
	p.Stop()

	if atomic.LoadInt32(&client.publishes) == 0 {
		t.Error("hub states never reached the publisher")
	}
}
