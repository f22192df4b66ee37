// Package mqttpub mirrors entity states onto retained MQTT topics
package mqttpub

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/entities"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/hub"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/logging"
)

const (
	DefaultTopicPrefix = "ojmicroline"
	DefaultClientID    = "ojmicroline-bridge"

	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	drainTimeout   = 5 * time.Second
	queueSize      = 16
	qos            = 1
)

// Client is the part of the paho client the publisher uses
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Source delivers entity states after every refresh
type Source interface {
	Subscribe(fn hub.StateListener) func()
}

type batch struct {
	entryID string
	states  []entities.State
}

type Publisher struct {
	client Client
	prefix string

	mu          sync.Mutex
	unsubscribe func()
	quit        chan struct{}
	done        chan struct{}
}

// Connect dials the broker.  brokerURL is a paho broker address such as
// tcp://localhost:1883.
func Connect(brokerURL, clientID string) (mqtt.Client, error) {
	if clientID == "" {
		clientID = DefaultClientID
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		logging.Logger(nil).WithError(err).Warn("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, errors.Errorf("timed out connecting to MQTT broker %s", brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(err, "connecting to MQTT broker %s", brokerURL)
	}

	logging.Logger(nil).Infof("Connected to MQTT broker %s as %s", brokerURL, clientID)
	return client, nil
}

func New(client Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}

	return &Publisher{
		client: client,
		prefix: strings.TrimSuffix(prefix, "/"),
	}
}

// StateTopic is where the state of the entity is retained
func (p *Publisher) StateTopic(uniqueID string) string {
	return fmt.Sprintf("%s/%s/state", p.prefix, uniqueID)
}

// Start publishes every state the source delivers until Stop is called.
// Deliveries are queued for a single worker and dropped when the queue is
// full, so a slow broker never holds up the source.
func (p *Publisher) Start(src Source) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.unsubscribe != nil {
		return
	}

	queue := make(chan batch, queueSize)
	quit := make(chan struct{})
	done := make(chan struct{})
	p.quit, p.done = quit, done

	go p.run(queue, quit, done)

	p.unsubscribe = src.Subscribe(func(entryID string, states []entities.State) {
		select {
		case queue <- batch{entryID: entryID, states: states}:
		default:
			logging.Logger(nil).Warnf("MQTT broker too slow, dropping update for entry %s", entryID)
		}
	})
}

func (p *Publisher) run(queue <-chan batch, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case b := <-queue:
			p.publishBatch(b)
		case <-quit:
			// Flush what was accepted before Stop
			for {
				select {
				case b := <-queue:
					p.publishBatch(b)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) publishBatch(b batch) {
	if err := p.PublishStates(b.states); err != nil {
		logging.Logger(nil).WithError(err).Warnf("publishing states of entry %s", b.entryID)
	}
}

// PublishStates sends each state retained.  All states are attempted; the
// first failure is returned.
func (p *Publisher) PublishStates(states []entities.State) error {
	var first error

	for _, st := range states {
		if err := p.publish(st); err != nil && first == nil {
			first = err
		}
	}

	return first
}

func (p *Publisher) publish(st entities.State) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return errors.Wrapf(err, "encoding state of %s", st.UniqueID)
	}

	topic := p.StateTopic(st.UniqueID)
	token := p.client.Publish(topic, qos, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "publishing to %s", topic)
	}

	logging.Logger(nil).Debugf("Published %s", topic)
	return nil
}

// Stop unsubscribes, flushes queued states and disconnects from the broker.
// The flush is abandoned after drainTimeout.
func (p *Publisher) Stop() {
	p.mu.Lock()
	unsubscribe, quit, done := p.unsubscribe, p.quit, p.done
	p.unsubscribe, p.quit, p.done = nil, nil, nil
	p.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	if quit != nil {
		close(quit)
		select {
		case <-done:
		case <-time.After(drainTimeout):
			logging.Logger(nil).Warn("Gave up flushing MQTT states")
		}
	}

	p.client.Disconnect(250)
}
