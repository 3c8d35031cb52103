package webform

import (
	"context"
	"maps"

	"omniasync-backend/lib/retryutil"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// RecordSubmission is one ingested record flattened for delivery.
type RecordSubmission struct {
	Protocollo string
	// request form fields, header and detail merged
	Request map[string]string
	// customer profile fields, empty when the profile was not scraped
	Profile map[string]string
}

// Delivery is the outcome of pushing a record to one destination.
type Delivery struct {
	Destination string
	Err         error
}

// Sink fans every record out to all configured destinations. One
// destination failing does not keep the record from the others.
type Sink struct {
	clients []*Client
}

func NewSink(ctx context.Context, destinations []Destination, retry retryutil.Policy) (*Sink, error) {
	var clients []*Client
	for _, dest := range destinations {
		client, err := NewClient(ctx, dest, retry)
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}
	return &Sink{clients: clients}, nil
}

func (s *Sink) Deliver(ctx context.Context, sub RecordSubmission) []Delivery {
	out := make([]Delivery, 0, len(s.clients))
	for _, client := range s.clients {
		out = append(out, Delivery{
			Destination: client.Destination.Name,
			Err:         client.deliver(ctx, sub),
		})
	}
	return out
}

// deliver registers the customer profile if the destination does not
// know it yet, then files the request form.
func (c *Client) deliver(ctx context.Context, sub RecordSubmission) error {
	ctx, span := tracer.Start(ctx, "client:deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("destination", c.Destination.Name),
		attribute.String("protocollo", sub.Protocollo),
	)

	if name := sub.Profile["nome_cliente"]; name != "" {
		exists, err := c.ProfileExists(ctx, name, sub.Profile["codice_fiscale"])
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "profile lookup failed")
			return err
		}
		if !exists {
			err = c.SubmitProfile(ctx, sub.Profile)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "profile submission failed")
				return err
			}
		}
	}

	if len(sub.Request) == 0 {
		return nil
	}
	fields := maps.Clone(sub.Request)
	fields["protocollo"] = sub.Protocollo
	err := c.SubmitRequest(ctx, fields)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request submission failed")
		return err
	}
	return nil
}
