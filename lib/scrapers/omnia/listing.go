package omnia

import (
	"context"
	"fmt"

	"omniasync-backend/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ListRequests opens the requests dashboard and returns the
// protocollo tokens of every listed request, in page order. Row
// positions are remembered so FetchRecord can post back into the
// right table row afterwards.
func (c *Client) ListRequests(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "client:ListRequests")
	defer span.End()

	doc, err := c.postBack(
		ctx, "/omnia/home.jsf",
		"navigationForm", "navigationForm:requestsDashboard",
		nil,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open requests dashboard")
		return nil, err
	}

	table := doc.Find("[id='module:tblRequestsDashboard']")
	if table.Length() == 0 {
		err := fmt.Errorf("requests dashboard table did not render")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var out []string
	rows := map[string]int{}
	table.Find("tbody tr").Each(func(i int, row *goquery.Selection) {
		protocollo := htmlutil.CleanText(row.Find("span[id*='j_id484']").Text())
		if protocollo == "" {
			return
		}
		out = append(out, protocollo)
		rows[protocollo] = i
	})

	c.mu.Lock()
	c.rows = rows
	c.mu.Unlock()

	span.SetAttributes(attribute.Int("count", len(out)))
	return out, nil
}
