// Package ingest feeds the engine with decoded packet observations arriving
// over MQTT. The upstream decoder owns wire-format parsing and decryption;
// what arrives here is already the JSON observation shape.
package ingest

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"meshmap/internal/domain"
)

// Sink is where decoded observations go
type Sink interface {
	Ingest(obs domain.PacketObservation) error
}

// Feed subscribes to an MQTT topic of decoded observations
type Feed struct {
	client mqtt.Client
	topic  string
	sink   Sink
}

// Options configures the MQTT connection
type Options struct {
	Broker    string
	Topic     string
	Username  string
	Password  string
	ClientID  string
	KeepAlive time.Duration
}

// NewFeed creates a feed for the given broker and topic
func NewFeed(opts Options, sink Sink) *Feed {
	f := &Feed{topic: opts.Topic, sink: sink}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetKeepAlive(opts.KeepAlive).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(c mqtt.Client) {
			log.Printf("MQTT connected, subscribing to %s", opts.Topic)
			if token := c.Subscribe(opts.Topic, 0, f.handleMessage); token.Wait() && token.Error() != nil {
				log.Printf("MQTT subscribe failed: %v", token.Error())
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("MQTT connection lost: %v", err)
		})

	f.client = mqtt.NewClient(clientOpts)
	return f
}

// Start connects to the broker; subscription happens on (re)connect
func (f *Feed) Start() error {
	if token := f.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return nil
}

// Stop disconnects from the broker
func (f *Feed) Stop() {
	f.client.Disconnect(250)
}

func (f *Feed) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	var obs domain.PacketObservation
	if err := json.Unmarshal(msg.Payload(), &obs); err != nil {
		log.Printf("Malformed observation on %s: %v", msg.Topic(), err)
		return
	}
	// Ingest errors mean the observation was dropped, not that the
	// stream is broken.
	if err := f.sink.Ingest(obs); err != nil {
		log.Printf("Observation dropped: %v", err)
	}
}
