// Package mqttevents publishes run progress to an MQTT broker.
package mqttevents

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"bytemomo/armada/internal/domain"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTopic   = "armada/results"
	defaultTimeout = 5 * time.Second
)

// Publisher sends one message per device result to <topic>/<run>/<serial>,
// plus <topic>/<run>/started and <topic>/<run>/summary for the run itself.
type Publisher struct {
	Log     *logrus.Entry
	Client  mqtt.Client
	Topic   string
	QoS     byte
	Timeout time.Duration
}

// Dial connects to the configured broker.
func Dial(log *logrus.Entry, cfg domain.MQTTSinkConfig) (*Publisher, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("armada-%d", os.Getpid())
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetConnectTimeout(timeout).
		SetAutoReconnect(true)
	client := mqtt.NewClient(opts)

	tok := client.Connect()
	if !tok.WaitTimeout(timeout) {
		return nil, fmt.Errorf("connect %s: timed out after %s", cfg.Broker, timeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, err)
	}

	log.WithFields(logrus.Fields{
		"broker": cfg.Broker,
		"client": clientID,
	}).Info("Connected to MQTT broker")
	return &Publisher{Log: log, Client: client, Topic: cfg.Topic, QoS: cfg.QoS, Timeout: timeout}, nil
}

func (p *Publisher) Save(ctx context.Context, runID string, res domain.ExecutionResult) error {
	return p.publish(ctx, p.topic(runID, res.Device.Serial), res)
}

func (p *Publisher) RunStarted(ctx context.Context, runID string, devices []domain.Device) error {
	return p.publish(ctx, p.topic(runID, "started"), struct {
		RunID   string          `json:"run_id"`
		Devices []domain.Device `json:"devices"`
	}{runID, devices})
}

func (p *Publisher) RunFinished(ctx context.Context, outcome *domain.AggregateOutcome) error {
	return p.publish(ctx, p.topic(outcome.RunID, "summary"), struct {
		RunID  string        `json:"run_id"`
		Counts domain.Counts `json:"counts"`
	}{outcome.RunID, outcome.Counts()})
}

// Close disconnects, giving in-flight messages a short grace period.
func (p *Publisher) Close() error {
	p.Client.Disconnect(250)
	return nil
}

func (p *Publisher) publish(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	tok := p.Client.Publish(topic, p.QoS, false, payload)
	select {
	case <-tok.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("publish %s: timed out after %s", topic, timeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	p.Log.WithField("topic", topic).Debug("Published")
	return nil
}

var topicEscaper = strings.NewReplacer("/", "_", "+", "_", "#", "_")

func (p *Publisher) topic(runID, leaf string) string {
	base := strings.TrimSuffix(p.Topic, "/")
	if base == "" {
		base = DefaultTopic
	}
	return base + "/" + topicEscaper.Replace(runID) + "/" + topicEscaper.Replace(leaf)
}
