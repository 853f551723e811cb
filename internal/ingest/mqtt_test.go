// v0
// internal/ingest/mqtt_test.go
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type fakeToken struct{ err error }

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t fakeToken) Error() error { return t.err }

type fakeClient struct {
	mqtt.Client
	connectErr   error
	subscribeErr error
	handler      mqtt.MessageHandler
	topic        string
	connected    bool
	disconnects  int
	onDisconnect func()
}

func (c *fakeClient) Connect() mqtt.Token {
	c.connected = c.connectErr == nil
	return fakeToken{err: c.connectErr}
}

func (c *fakeClient) Subscribe(topic string, _ byte, h mqtt.MessageHandler) mqtt.Token {
	c.topic = topic
	c.handler = h
	return fakeToken{err: c.subscribeErr}
}

func (c *fakeClient) IsConnected() bool { return c.connected }

func (c *fakeClient) Disconnect(uint) {
	if c.onDisconnect != nil {
		c.onDisconnect()
	}
	c.connected = false
	c.disconnects++
}

func TestMessageHandlerWritesLines(t *testing.T) {
	var buf bytes.Buffer
	h := messageHandler(&buf, quietLogger())

	h(nil, fakeMessage{topic: "t", payload: []byte("  {\"light\":1}  \r\n")})
	h(nil, fakeMessage{topic: "t", payload: []byte("   ")})
	h(nil, fakeMessage{topic: "t", payload: []byte(`{"light":2}`)})

	want := "{\"light\":1}\n{\"light\":2}\n"
	if buf.String() != want {
		t.Fatalf("expected %q, got %q", want, buf.String())
	}
}

func newTestMQTTSource(client *fakeClient) (*MQTTSource, **mqtt.ClientOptions) {
	var captured *mqtt.ClientOptions
	s := NewMQTTSource(MQTTConfig{Broker: "tcp://broker:1883", Topic: "caresphere/sensors"}, quietLogger())
	s.newClient = func(o *mqtt.ClientOptions) mqtt.Client {
		captured = o
		return client
	}
	return s, &captured
}

func TestMQTTOpenForwardsMessages(t *testing.T) {
	client := &fakeClient{}
	s, _ := newTestMQTTSource(client)

	rc, err := s.Open(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.topic != "caresphere/sensors" {
		t.Fatalf("expected subscription to caresphere/sensors, got %q", client.topic)
	}

	go client.handler(client, fakeMessage{topic: client.topic, payload: []byte(`{"light":5}`)})

	line, err := bufio.NewReader(rc).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "{\"light\":5}\n" {
		t.Fatalf("unexpected line %q", line)
	}

	if err := rc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if client.disconnects != 1 {
		t.Fatalf("expected one disconnect, got %d", client.disconnects)
	}
}

func TestMQTTCloseUnblocksHandlerBeforeDisconnect(t *testing.T) {
	client := &fakeClient{}
	s, _ := newTestMQTTSource(client)

	rc, err := s.Open(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	handlerDone := make(chan struct{})
	go func() {
		defer close(handlerDone)
		client.handler(client, fakeMessage{topic: client.topic, payload: []byte(`{"light":1}`)})
	}()

	released := false
	client.onDisconnect = func() {
		select {
		case <-handlerDone:
			released = true
		case <-time.After(time.Second):
		}
	}
	if err := rc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !released {
		t.Fatalf("expected the blocked handler to return before disconnect")
	}
}

func TestMQTTConnectionLostEndsStream(t *testing.T) {
	client := &fakeClient{}
	s, opts := newTestMQTTSource(client)

	rc, err := s.Open(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rc.Close()

	lost := errors.New("broker went away")
	(*opts).OnConnectionLost(client, lost)

	_, err = rc.Read(make([]byte, 8))
	if !errors.Is(err, lost) {
		t.Fatalf("expected connection lost error, got %v", err)
	}
}

func TestMQTTOpenErrors(t *testing.T) {
	boom := errors.New("refused")

	client := &fakeClient{connectErr: boom}
	s, _ := newTestMQTTSource(client)
	if _, err := s.Open(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected connect error, got %v", err)
	}

	client = &fakeClient{subscribeErr: boom}
	s, _ = newTestMQTTSource(client)
	if _, err := s.Open(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected subscribe error, got %v", err)
	}
	if client.disconnects != 1 {
		t.Fatalf("expected disconnect after failed subscribe, got %d", client.disconnects)
	}
}

func TestMQTTDefaults(t *testing.T) {
	s := NewMQTTSource(MQTTConfig{Broker: "tcp://b:1883", Topic: "x"}, nil)
	if s.cfg.ClientID == "" || s.cfg.ConnectTimeout != 10*time.Second {
		t.Fatalf("expected defaults, got %+v", s.cfg)
	}
}
