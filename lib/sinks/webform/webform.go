// Package webform pushes ingested records into downstream web
// applications that only expose their insert forms over HTTP.
package webform

import (
	"bytes"
	"context"
	"fmt"
	"net/http/cookiejar"
	"time"

	"omniasync-backend/lib/htmlutil"
	"omniasync-backend/lib/retryutil"
	"omniasync-backend/lib/telemetry"

	"github.com/PuerkitoBio/goquery"
	"github.com/antzucaro/matchr"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("sinks/webform")

var LoginFailed = fmt.Errorf("Failed to login to the destination.")

func documentFromBody(body []byte) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(body))
}

// Destination is one downstream application records are mirrored to.
type Destination struct {
	Name     string `json:"name"`
	BaseUrl  string `json:"base_url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Client is an authenticated session against one destination.
type Client struct {
	Destination Destination
	Http        *resty.Client
	Retry       retryutil.Policy
}

func NewClient(ctx context.Context, dest Destination, retry retryutil.Policy) (*Client, error) {
	client := resty.New()
	client.SetBaseURL(dest.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.SetTimeout(time.Second * 30)
	telemetry.InstrumentResty(client, "sinks/webform/http")

	if retry.MaxAttempts == 0 {
		retry = retryutil.Default
	}

	c := &Client{
		Destination: dest,
		Http:        client,
		Retry:       retry,
	}
	err = c.login(ctx, dest.Username, dest.Password)
	if err != nil {
		return nil, fmt.Errorf("destination %s: %w", dest.Name, err)
	}
	return c, nil
}

func (c *Client) login(ctx context.Context, username, password string) error {
	ctx, span := tracer.Start(ctx, "client:login")
	defer span.End()
	span.SetAttributes(attribute.String("destination", c.Destination.Name))

	err := c.Retry.Do(ctx, "webform.login", func(ctx context.Context) error {
		res, err := c.Http.R().
			SetContext(ctx).
			SetFormData(map[string]string{
				"username": username,
				"password": password,
			}).
			Post("/login")
		if err != nil {
			return err
		}
		doc, err := documentFromBody(res.Body())
		if err != nil {
			return err
		}
		if doc.Find("a[href='/logout']").Length() == 0 {
			return LoginFailed
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		return err
	}
	return nil
}

// ProfileExists searches the destination for an already registered
// customer. A profile matches on an identical codice fiscale, or on a
// near identical name when the codice fiscale is not known.
func (c *Client) ProfileExists(ctx context.Context, name, codiceFiscale string) (bool, error) {
	ctx, span := tracer.Start(ctx, "client:ProfileExists")
	defer span.End()

	var exists bool
	err := c.Retry.Do(ctx, "webform.profile_search", func(ctx context.Context) error {
		res, err := c.Http.R().
			SetContext(ctx).
			SetQueryParam("q", name).
			Get("/profiles/search")
		if err != nil {
			return err
		}
		doc, err := documentFromBody(res.Body())
		if err != nil {
			return err
		}

		exists = false
		doc.Find("table.profiles tbody tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
			cells := row.Find("td")
			rowName := htmlutil.CleanText(cells.Eq(0).Text())
			rowCf := htmlutil.CleanText(cells.Eq(1).Text())
			if matchesProfile(name, codiceFiscale, rowName, rowCf) {
				exists = true
				return false
			}
			return true
		})
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "profile search failed")
		return false, err
	}
	span.SetAttributes(attribute.Bool("exists", exists))
	return exists, nil
}

// names on the destination side are retyped by hand, a bit of fuzz
// absorbs the usual typos without matching unrelated customers
const nameSimilarityThreshold = 0.93

func matchesProfile(name, codiceFiscale, rowName, rowCf string) bool {
	if codiceFiscale != "" && rowCf != "" {
		return codiceFiscale == rowCf
	}
	if name == "" || rowName == "" {
		return false
	}
	return matchr.JaroWinkler(name, rowName, true) >= nameSimilarityThreshold
}

// SubmitProfile registers a customer profile on the destination.
func (c *Client) SubmitProfile(ctx context.Context, fields map[string]string) error {
	return c.submitForm(ctx, "webform.submit_profile", "/profiles/new", fields)
}

// SubmitRequest files the request form on the destination.
func (c *Client) SubmitRequest(ctx context.Context, fields map[string]string) error {
	return c.submitForm(ctx, "webform.submit_request", "/requests/new", fields)
}

func (c *Client) submitForm(ctx context.Context, op, path string, fields map[string]string) error {
	ctx, span := tracer.Start(ctx, fmt.Sprintf("client:%s", op))
	defer span.End()
	span.SetAttributes(attribute.String("destination", c.Destination.Name))

	err := c.Retry.Do(ctx, op, func(ctx context.Context) error {
		res, err := c.Http.R().
			SetContext(ctx).
			SetFormData(fields).
			Post(path)
		if err != nil {
			return err
		}
		if res.IsError() {
			return fmt.Errorf("destination rejected the form: %s", res.Status())
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "form submission failed")
		return err
	}
	return nil
}
