package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/vintage-storefront/api/internal/services"
)

// PubSubCheckoutPublisher publishes checkout lifecycle events to a Pub/Sub topic.
type PubSubCheckoutPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubCheckoutPublisher constructs a Pub/Sub backed checkout event publisher.
func NewPubSubCheckoutPublisher(topic *pubsub.Topic) (*PubSubCheckoutPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub checkout publisher: topic is required")
	}
	return &PubSubCheckoutPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishPaymentIntentCreated emits the event and waits for the server-assigned message id.
func (p *PubSubCheckoutPublisher) PublishPaymentIntentCreated(ctx context.Context, event services.PaymentIntentCreatedEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub checkout publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal payment intent event: %w", err)
	}

	attrs := map[string]string{"type": services.EventPaymentIntentCreated}
	setAttr(attrs, "cartId", event.CartID)
	setAttr(attrs, "fingerprint", event.Fingerprint)
	setAttr(attrs, "currency", event.Currency)
	setAttr(attrs, "intentId", event.IntentID)
	setAttr(attrs, "provider", event.Provider)
	if event.Amount > 0 {
		attrs["amount"] = strconv.FormatInt(event.Amount, 10)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
		// Events for one cart stay in order when the topic has ordering enabled.
		OrderingKey: orderingKey(p.topic, event.CartID),
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish payment intent event: %w", err)
	}
	return id, nil
}

func orderingKey(topic *pubsub.Topic, cartID string) string {
	if !topic.EnableMessageOrdering {
		return ""
	}
	return strings.TrimSpace(cartID)
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

var _ services.CheckoutEventPublisher = (*PubSubCheckoutPublisher)(nil)
