package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// Client sends operator commands and watches events.
type Client struct {
	nc             *nats.Conn
	eventSubject   string
	controlSubject string
}

// NewClient connects to the NATS server at url.
func NewClient(url, eventSubject, controlSubject string) (*Client, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Client{nc: nc, eventSubject: eventSubject, controlSubject: controlSubject}, nil
}

// Do sends cmd and waits for the reply.
func (c *Client) Do(ctx context.Context, cmd Command) (Reply, error) {
	data, err := EncodeCommand(cmd)
	if err != nil {
		return Reply{}, err
	}
	msg, err := c.nc.RequestWithContext(ctx, c.controlSubject, data)
	if err != nil {
		return Reply{}, fmt.Errorf("failed to send %s command: %w", cmd.Action, err)
	}
	reply, err := DecodeReply(msg.Data)
	if err != nil {
		return Reply{}, err
	}
	if !reply.OK {
		return reply, errors.New(reply.Error)
	}
	return reply, nil
}

// Watch calls handler for every event until ctx is done.
func (c *Client) Watch(ctx context.Context, handler func(Message)) error {
	sub, err := c.nc.Subscribe(c.eventSubject, func(msg *nats.Msg) {
		ev, err := DecodeEvent(msg.Data)
		if err != nil {
			log.Printf("Error decoding event: %v", err)
			return
		}
		handler(ev)
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	log.Printf("Subscribed to '%s'. Waiting for events...", c.eventSubject)

	<-ctx.Done()
	return nil
}

// Close closes the NATS connection.
func (c *Client) Close() {
	c.nc.Close()
}
