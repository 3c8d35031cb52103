package ingest

import (
	"context"

	"omniasync-backend/lib/scrapers/omnia"
	"omniasync-backend/lib/sinks/webform"
)

// PortalExtractor adapts the Omnia scraping client to the cycle's
// Extractor contract: one section per sub-schema, panel failures
// carried per result instead of failing the candidate.
type PortalExtractor struct {
	client *omnia.Client
}

func NewPortalExtractor(client *omnia.Client) PortalExtractor {
	return PortalExtractor{client: client}
}

func (e PortalExtractor) ListCandidates(ctx context.Context) ([]string, error) {
	return e.client.ListRequests(ctx)
}

func (e PortalExtractor) Extract(ctx context.Context, protocollo string) ([]ExtractResult, error) {
	record, err := e.client.FetchRecord(ctx, protocollo)
	if err != nil {
		return nil, err
	}

	var out []ExtractResult
	out = appendSection(out, RichiestaContratto, protocollo, record.Header)
	out = appendSection(out, ModuloRichiesta, protocollo, record.Detail)
	out = appendSection(out, CustomerDetail, protocollo, record.Profile)
	return out, nil
}

// appendSection converts one scraped section into an extract result.
// A section that rendered but carried no fields yields nothing at all:
// a mapping holding only the key would fingerprint over empty content.
func appendSection(out []ExtractResult, schema SubSchema, protocollo string, sec omnia.Section) []ExtractResult {
	if sec.Err != nil {
		return append(out, ExtractResult{Schema: schema, Err: sec.Err})
	}
	if len(sec.Fields) == 0 {
		return out
	}

	m := NewMapping()
	m.Set(schema.Key, protocollo)
	for _, f := range sec.Fields {
		m.Set(f.Name, f.Value)
	}
	return append(out, ExtractResult{Schema: schema, Mapping: m})
}

// WebformDispatcher adapts the web form sink to the cycle's
// Dispatcher contract.
type WebformDispatcher struct {
	sink *webform.Sink
}

func NewWebformDispatcher(sink *webform.Sink) WebformDispatcher {
	return WebformDispatcher{sink: sink}
}

func (d WebformDispatcher) Submit(ctx context.Context, sub Submission) []Delivery {
	payload := webform.RecordSubmission{
		Protocollo: sub.Protocollo,
		Request:    map[string]string{},
		Profile:    map[string]string{},
	}

	// header and detail fields merge into one request form
	mergeFields(payload.Request, sub.Mappings[RichiestaContratto.Name], RichiestaContratto.Key)
	mergeFields(payload.Request, sub.Mappings[ModuloRichiesta.Name], ModuloRichiesta.Key)
	mergeFields(payload.Profile, sub.Mappings[CustomerDetail.Name], CustomerDetail.Key)

	deliveries := d.sink.Deliver(ctx, payload)
	out := make([]Delivery, 0, len(deliveries))
	for _, del := range deliveries {
		out = append(out, Delivery{Destination: del.Destination, Err: del.Err})
	}
	return out
}

func mergeFields(dst map[string]string, m *Mapping, key string) {
	if m == nil {
		return
	}
	for _, field := range m.Fields() {
		if field == key {
			continue
		}
		dst[field] = m.Value(field)
	}
}
