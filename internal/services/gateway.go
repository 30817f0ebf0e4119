package services

import (
	"context"
	"fmt"

	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/pkg/waha"
)

// OutboundMessage is one send request to the messaging gateway.
type OutboundMessage struct {
	Session   string
	Recipient string
	Content   string
	Type      string
	MediaURL  string
}

// SendResult carries the gateway's id for the sent message, when it returns one.
type SendResult struct {
	MessageID string
}

// Gateway is the narrow outbound contract to the external messaging gateway.
type Gateway interface {
	Send(ctx context.Context, msg OutboundMessage) (*SendResult, error)
}

// WAHAGateway adapts the WAHA HTTP client to Gateway.
type WAHAGateway struct {
	client *waha.Client
}

// NewWAHAGateway wraps client.
func NewWAHAGateway(client *waha.Client) *WAHAGateway {
	return &WAHAGateway{client: client}
}

// Send delivers msg once; failures wrap ErrDelivery and are never retried here.
func (g *WAHAGateway) Send(ctx context.Context, msg OutboundMessage) (*SendResult, error) {
	resp, err := g.client.Send(ctx, &waha.SendRequest{
		Session:  msg.Session,
		To:       msg.Recipient,
		Text:     msg.Content,
		Type:     msg.Type,
		MediaURL: msg.MediaURL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return &SendResult{MessageID: resp.MessageID()}, nil
}
