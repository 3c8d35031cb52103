package omnia

import (
	"bytes"
	"context"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"omniasync-backend/lib/retryutil"
	"omniasync-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/omnia")

var LoginFailed = fmt.Errorf("Failed to login to the portal.")

// Client drives the Omnia back office over plain HTTP. The portal is
// a JSF application: every interaction is a form postback that must
// carry the current javax.faces.ViewState, so methods are stateful
// and must not be called concurrently on one client.
type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client
	Retry   retryutil.Policy

	mu        sync.Mutex
	viewState string
	// protocollo -> dashboard row index, captured by ListRequests
	rows map[string]int
}

type ClientOptions struct {
	BaseUrl  string
	Username string
	Password string
	// zero value falls back to retryutil.Default
	Retry retryutil.Policy
}

func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(time.Second * 30)

	telemetry.InstrumentResty(client, "scrapers/omnia/http")

	retry := opts.Retry
	if retry.MaxAttempts == 0 {
		retry = retryutil.Default
	}

	c := &Client{
		BaseUrl: baseUrl,
		Http:    client,
		Retry:   retry,
		rows:    map[string]int{},
	}
	err = c.login(ctx, opts.Username, opts.Password)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func documentFromResponse(res *resty.Response) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
}

// captureViewState remembers the JSF view state of the last rendered
// page, every later postback has to echo it back.
func (c *Client) captureViewState(doc *goquery.Document) error {
	state := doc.Find("input[name='javax.faces.ViewState']").AttrOr("value", "")
	if state == "" {
		return fmt.Errorf("page carries no javax.faces.ViewState")
	}
	c.mu.Lock()
	c.viewState = state
	c.mu.Unlock()
	return nil
}

func (c *Client) currentViewState() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewState
}

func (c *Client) login(ctx context.Context, username, password string) error {
	ctx, span := tracer.Start(ctx, "client:login")
	defer span.End()

	err := c.Retry.Do(ctx, "omnia.login", func(ctx context.Context) error {
		res, err := c.Http.R().
			SetContext(ctx).
			Get("/omnia/login.jsf")
		if err != nil {
			return err
		}
		doc, err := documentFromResponse(res)
		if err != nil {
			return err
		}
		err = c.captureViewState(doc)
		if err != nil {
			return err
		}

		res, err = c.Http.R().
			SetContext(ctx).
			SetFormData(map[string]string{
				"loginForm":             "loginForm",
				"loginForm:username":    username,
				"loginForm:password":    password,
				"loginForm:loginButton": "Accedi",
				"javax.faces.ViewState": c.currentViewState(),
			}).
			Post("/omnia/login.jsf")
		if err != nil {
			return err
		}
		doc, err = documentFromResponse(res)
		if err != nil {
			return err
		}
		if doc.Find("[id='navigationForm']").Length() == 0 {
			return LoginFailed
		}
		return c.captureViewState(doc)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		return err
	}
	return nil
}

// postBack submits a JSF form, pretending the element with the given
// id was clicked, and returns the rendered document.
func (c *Client) postBack(ctx context.Context, path, form, element string, extra map[string]string) (*goquery.Document, error) {
	data := map[string]string{
		form:                    form,
		element:                 element,
		"javax.faces.ViewState": c.currentViewState(),
	}
	for k, v := range extra {
		data[k] = v
	}

	var doc *goquery.Document
	err := c.Retry.Do(ctx, fmt.Sprintf("omnia.postback %s", element), func(ctx context.Context) error {
		res, err := c.Http.R().
			SetContext(ctx).
			SetFormData(data).
			Post(path)
		if err != nil {
			return err
		}
		d, err := documentFromResponse(res)
		if err != nil {
			return err
		}
		err = c.captureViewState(d)
		if err != nil {
			return err
		}
		doc = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Close releases the portal session.
func (c *Client) Close(ctx context.Context) error {
	_, err := c.Http.R().
		SetContext(ctx).
		Get("/omnia/logout.jsf")
	return err
}
