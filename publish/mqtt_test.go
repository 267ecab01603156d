package publish

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// fakeToken completes after delay.
type fakeToken struct {
	done chan struct{}
	err  error
}

func newFakeToken(delay time.Duration, err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	time.AfterFunc(delay, func() { close(t.done) })
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

// fakeClient overrides Publish and Disconnect; any other call panics.
type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	ackDelay     time.Duration
	ackErr       error
	published    []string
	disconnected bool
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	c.published = append(c.published, string(payload.([]byte)))
	c.mu.Unlock()
	return newFakeToken(c.ackDelay, c.ackErr)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func newTestPublisher(client *fakeClient, timeout time.Duration) *MQTTPublisher {
	return &MQTTPublisher{client: client, config: MQTTConfig{QoS: 1, Timeout: timeout}, logger: discardLogger()}
}

func TestPublishWaitsForAckAfterCancel(t *testing.T) {
	t.Parallel()

	client := &fakeClient{ackDelay: 200 * time.Millisecond}
	publisher := newTestPublisher(client, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	if err := publisher.Publish(ctx, "t", []byte("hello")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Fatalf("publish returned after %v, before the broker acknowledged", elapsed)
	}
	if ctx.Err() == nil {
		t.Fatalf("expected context to be cancelled during the publish")
	}
}

func TestPublishTimeout(t *testing.T) {
	t.Parallel()

	client := &fakeClient{ackDelay: time.Hour}
	publisher := newTestPublisher(client, 50*time.Millisecond)

	err := publisher.Publish(context.Background(), "t", []byte("hello"))
	if !errors.Is(err, ErrPublish) {
		t.Fatalf("expected ErrPublish, got %v", err)
	}
}

func TestPublishBrokerError(t *testing.T) {
	t.Parallel()

	client := &fakeClient{ackErr: errors.New("not authorized")}
	publisher := newTestPublisher(client, time.Second)

	err := publisher.Publish(context.Background(), "t", []byte("hello"))
	if !errors.Is(err, ErrPublish) {
		t.Fatalf("expected ErrPublish, got %v", err)
	}
	publisher.Close()
	if !client.disconnected {
		t.Fatalf("expected Close to disconnect")
	}
}

func TestWaitHonoursContextForConnect(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := wait(ctx, newFakeToken(time.Hour, nil), time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
