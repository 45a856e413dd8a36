package mqttevents

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"bytemomo/armada/internal/domain"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

type doneToken struct {
	err  error
	done chan struct{}
}

func newToken(err error, complete bool) *doneToken {
	t := &doneToken{err: err, done: make(chan struct{})}
	if complete {
		close(t.done)
	}
	return t
}

func (t *doneToken) Wait() bool {
	<-t.done
	return true
}

func (t *doneToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *doneToken) Done() <-chan struct{} { return t.done }
func (t *doneToken) Error() error          { return t.err }

type message struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeClient overrides the methods the publisher uses.
type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	published    []message
	token        func() mqtt.Token
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	c.published = append(c.published, message{topic: topic, qos: qos, payload: payload.([]byte)})
	c.mu.Unlock()
	if c.token != nil {
		return c.token()
	}
	return newToken(nil, true)
}

func (c *fakeClient) Disconnect(quiesce uint) { c.disconnected = true }

func testLog() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func TestPublisherTopics(t *testing.T) {
	client := &fakeClient{}
	p := &Publisher{Log: testLog(), Client: client, Topic: "lab/armada/", QoS: 1}

	res := domain.ExecutionResult{Device: domain.Device{Serial: "192.168.1.20:5555"}, Status: domain.StatusPassed}
	if err := p.RunStarted(context.Background(), "01RUN", []domain.Device{res.Device}); err != nil {
		t.Fatalf("RunStarted: %v", err)
	}
	if err := p.Save(context.Background(), "01RUN", res); err != nil {
		t.Fatalf("Save: %v", err)
	}
	outcome := domain.NewAggregateOutcome("01RUN")
	_ = outcome.Record(res)
	outcome.Seal()
	if err := p.RunFinished(context.Background(), outcome); err != nil {
		t.Fatalf("RunFinished: %v", err)
	}

	want := []string{
		"lab/armada/01RUN/started",
		"lab/armada/01RUN/192.168.1.20:5555",
		"lab/armada/01RUN/summary",
	}
	if len(client.published) != len(want) {
		t.Fatalf("published %d messages, want %d", len(client.published), len(want))
	}
	for i, topic := range want {
		if client.published[i].topic != topic || client.published[i].qos != 1 {
			t.Errorf("message %d = %s qos %d, want %s", i, client.published[i].topic, client.published[i].qos, topic)
		}
	}

	var got domain.ExecutionResult
	if err := json.Unmarshal(client.published[1].payload, &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.Device.Serial != "192.168.1.20:5555" || got.Status != domain.StatusPassed {
		t.Errorf("payload = %+v", got)
	}

	_ = p.Close()
	if !client.disconnected {
		t.Error("Close must disconnect")
	}
}

func TestPublisherEscapesWildcards(t *testing.T) {
	p := &Publisher{Topic: ""}
	if got := p.topic("run", "a/b+c#"); got != DefaultTopic+"/run/a_b_c_" {
		t.Fatalf("topic = %q", got)
	}
}

func TestPublisherErrors(t *testing.T) {
	res := domain.ExecutionResult{Device: domain.Device{Serial: "A"}}

	t.Run("broker error", func(t *testing.T) {
		client := &fakeClient{token: func() mqtt.Token { return newToken(errors.New("not authorized"), true) }}
		p := &Publisher{Log: testLog(), Client: client}
		if err := p.Save(context.Background(), "run", res); err == nil {
			t.Fatal("expected publish error")
		}
	})

	t.Run("timeout", func(t *testing.T) {
		client := &fakeClient{token: func() mqtt.Token { return newToken(nil, false) }}
		p := &Publisher{Log: testLog(), Client: client, Timeout: 10 * time.Millisecond}
		if err := p.Save(context.Background(), "run", res); err == nil {
			t.Fatal("expected timeout")
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		client := &fakeClient{token: func() mqtt.Token { return newToken(nil, false) }}
		p := &Publisher{Log: testLog(), Client: client, Timeout: time.Minute}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := p.Save(ctx, "run", res); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}
