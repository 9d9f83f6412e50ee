package events

import (
	"Go2NetGuard/internal/config"
	"Go2NetGuard/internal/firewall"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// Publisher is responsible for publishing firewall events to a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher creates a new NATS publisher.
func NewPublisher(cfg config.NATSConfig) (*Publisher, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to NATS server at %s", cfg.URL)
	return &Publisher{nc: nc, subject: cfg.EventSubject}, nil
}

// Publish serializes the event and publishes it to the configured subject.
func (p *Publisher) Publish(ev firewall.Event) error {
	data, err := EncodeEvent(ev)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, data)
}

// Listener adapts the publisher to a firewall manager listener. Publish
// failures are logged and dropped.
func (p *Publisher) Listener() firewall.Listener {
	return func(ev firewall.Event) {
		if err := p.Publish(ev); err != nil {
			log.WithError(err).Warnf("Failed to publish %s event for %s", ev.Type, ev.Addr)
		}
	}
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		log.Println("NATS connection drained and closed.")
	}
}
