package omnia

import (
	"context"
	"fmt"

	"omniasync-backend/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Field is one extracted key/value pair. Keys are stable snake_case
// identifiers, values are cleaned display text. Checkboxes are encoded
// as "checked"/"unchecked".
type Field struct {
	Name  string
	Value string
}

// Section is the outcome of scraping one panel of the request view.
// A section either carries fields or an error, never both: a panel
// that failed to render contributes nothing to the record.
type Section struct {
	Fields []Field
	Err    error
}

// Record is everything the portal shows for one request.
type Record struct {
	Protocollo string
	Header     Section
	Detail     Section
	Profile    Section
}

// FetchRecord opens the request behind a protocollo from the last
// listing and scrapes its header panel, its detail form and the linked
// customer profile. Panel level failures are reported per section, an
// error return means the request view itself could not be reached.
func (c *Client) FetchRecord(ctx context.Context, protocollo string) (*Record, error) {
	ctx, span := tracer.Start(ctx, "client:FetchRecord")
	defer span.End()
	span.SetAttributes(attribute.String("protocollo", protocollo))

	c.mu.Lock()
	row, ok := c.rows[protocollo]
	c.mu.Unlock()
	if !ok {
		err := fmt.Errorf("protocollo %s was not in the last listing", protocollo)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	doc, err := c.postBack(
		ctx, "/omnia/requests.jsf",
		"module", fmt.Sprintf("module:tblRequestsDashboard:%d:j_id486", row),
		nil,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open request view")
		return nil, err
	}

	record := &Record{
		Protocollo: protocollo,
		Header:     parseHeader(doc),
		Detail:     parseDetail(doc),
	}

	// the customer profile lives on its own page behind the cliente link
	profileDoc, err := c.postBack(
		ctx, "/omnia/requests.jsf",
		"module", "module:j_id1444",
		nil,
	)
	if err != nil {
		record.Profile = Section{Err: err}
		return record, nil
	}
	record.Profile = parseProfile(profileDoc)
	return record, nil
}

// rendered element id -> field name, in display order
var headerFields = []struct {
	id   string
	name string
}{
	{"module:j_id1416", "avanzamento"},
	{"module:j_id1425", "inserita_il"},
	{"module:j_id1426", "prodotto"},
	{"module:j_id1432", "assegnata_a"},
	{"module:j_id1434", "richiedente"},
	{"module:j_id1436", "referente_destinatario"},
	{"module:j_id1444", "cliente"},
	{"module:j_id1452", "progetto"},
	{"module:j_id1459", "collegato_a"},
}

func parseHeader(doc *goquery.Document) Section {
	if doc.Find("[id='module:j_id1350']").Length() == 0 {
		return Section{Err: fmt.Errorf("request header panel did not render")}
	}

	var fields []Field
	for _, f := range headerFields {
		sel := doc.Find(fmt.Sprintf("[id='%s']", f.id))
		if sel.Length() == 0 {
			continue
		}
		value := htmlutil.CleanText(sel.First().Text())
		if value == "" {
			continue
		}
		fields = append(fields, Field{Name: f.name, Value: value})
	}
	return Section{Fields: fields}
}

// parseDetail reads the request form tab. The form is a plain table of
// label/control cell pairs, so rows are walked generically instead of
// addressing ~70 generated element ids one by one.
func parseDetail(doc *goquery.Document) Section {
	panel := doc.Find("[id='module:j_id1488:0td2']")
	if panel.Length() == 0 {
		return Section{Err: fmt.Errorf("request form panel did not render")}
	}

	var fields []Field
	panel.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		for i := 0; i+1 < cells.Length(); i += 2 {
			label := htmlutil.CleanText(cells.Eq(i).Text())
			key := labelToKey(label)
			if key == "" {
				continue
			}
			value, ok := controlValue(cells.Eq(i + 1))
			if !ok {
				continue
			}
			fields = append(fields, Field{Name: key, Value: value})
		}
	})
	return Section{Fields: fields}
}

// controlValue extracts the value of the form control inside a cell.
func controlValue(cell *goquery.Selection) (string, bool) {
	if input := cell.Find("input").First(); input.Length() > 0 {
		if input.AttrOr("type", "text") == "checkbox" {
			if _, checked := input.Attr("checked"); checked {
				return "checked", true
			}
			return "unchecked", true
		}
		return htmlutil.CleanText(input.AttrOr("value", "")), true
	}
	if area := cell.Find("textarea").First(); area.Length() > 0 {
		return htmlutil.CleanText(htmlutil.GetText(area.Nodes[0])), true
	}
	if sel := cell.Find("select").First(); sel.Length() > 0 {
		return htmlutil.CleanText(sel.Find("option[selected]").First().Text()), true
	}
	return "", false
}

func parseProfile(doc *goquery.Document) Section {
	if doc.Find("[id='customerViewForm']").Length() == 0 {
		return Section{Err: fmt.Errorf("customer view did not render")}
	}

	var fields []Field
	add := func(name, value string) {
		if value != "" {
			fields = append(fields, Field{Name: name, Value: value})
		}
	}

	add("nome_cliente", htmlutil.CleanText(doc.Find("[id='customerViewForm:j_id2433']").Text()))

	registry := profileCells(doc, "customerViewForm:j_id2586")
	add("indirizzo", cellAt(registry, 0))
	add("sesso", cellAt(registry, 1))
	add("ateco", cellAt(registry, 2))

	contacts := profileCells(doc, "customerViewForm:j_id2606")
	add("codice_fiscale", cellAt(contacts, 0))
	add("legale_rappresentante", cellAt(contacts, 1))
	add("telefono", cellAt(contacts, 2))
	add("settore", cellAt(contacts, 3))

	fiscal := profileCells(doc, "customerViewForm:j_id2621")
	add("partita_iva", cellAt(fiscal, 0))
	add("codice_fiscale_legale_rappresentante", cellAt(fiscal, 1))
	add("email", cellAt(fiscal, 2))

	return Section{Fields: fields}
}

// profileCells returns the cleaned data cells of a customer view
// table. The tables are header row plus one data row, values are
// addressed by position.
func profileCells(doc *goquery.Document, id string) []string {
	var out []string
	row := doc.Find(fmt.Sprintf("[id='%s'] tr", id)).Last()
	row.Find("td").Each(func(_ int, cell *goquery.Selection) {
		out = append(out, htmlutil.CleanText(cell.Text()))
	})
	return out
}

func cellAt(cells []string, i int) string {
	if i >= len(cells) {
		return ""
	}
	return cells[i]
}
