package omnia

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"omniasync-backend/lib/retryutil"
	"omniasync-backend/lib/testutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func fixtureDoc(t *testing.T, name string) *goquery.Document {
	f, err := os.Open(filepath.Join("testdata", name))
	require.NoError(t, err)
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	require.NoError(t, err)
	return doc
}

func fieldMap(t *testing.T, section Section) map[string]string {
	require.NoError(t, section.Err)
	out := map[string]string{}
	for _, f := range section.Fields {
		out[f.Name] = f.Value
	}
	return out
}

func TestLabelToKey(t *testing.T) {
	cases := map[string]string{
		"Comune":                           "comune",
		"Incendio fabbricato importo":      "incendio_fabbricato_importo",
		"Pannelli solari e/o fotovoltaici": "pannelli_solari_e_o_fotovoltaici",
		"Società (S.r.l.)":                 "societa_s_r_l",
		"  ":                               "",
	}
	for label, want := range cases {
		require.Equal(t, want, labelToKey(label), "label %q", label)
	}
}

func TestParseHeader(t *testing.T) {
	fields := fieldMap(t, parseHeader(fixtureDoc(t, "request_view.html")))

	require.Equal(t, "In lavorazione", fields["avanzamento"])
	require.Equal(t, "12/03/2024", fields["inserita_il"])
	require.Equal(t, "Polizza casa", fields["prodotto"])
	require.Equal(t, "ACME S.r.l.", fields["cliente"])

	// collegato_a is not on the page at all, it must not show up empty
	_, ok := fields["collegato_a"]
	require.False(t, ok)
}

func TestParseHeaderMissingPanel(t *testing.T) {
	section := parseHeader(fixtureDoc(t, "customer_view.html"))
	require.Error(t, section.Err)
	require.Empty(t, section.Fields)
}

func TestParseDetail(t *testing.T) {
	fields := fieldMap(t, parseDetail(fixtureDoc(t, "request_view.html")))

	require.Equal(t, "Milano", fields["comune"])
	require.Equal(t, "MI", fields["provincia"])
	require.Equal(t, "checked", fields["incendio_fabbricato"])
	require.Equal(t, "250.000", fields["incendio_fabbricato_importo"])
	require.Equal(t, "unchecked", fields["rischio_locativo"])
	require.Equal(t, "checked", fields["pannelli_solari_e_o_fotovoltaici"])
	require.Equal(t, "Verificare impianto elettrico", fields["note_sezione_incendio"])
}

func TestParseProfile(t *testing.T) {
	fields := fieldMap(t, parseProfile(fixtureDoc(t, "customer_view.html")))

	require.Equal(t, "ACME S.r.l.", fields["nome_cliente"])
	require.Equal(t, "Via Roma 1, Milano", fields["indirizzo"])
	require.Equal(t, "68.20", fields["ateco"])
	require.Equal(t, "01234567890", fields["codice_fiscale"])
	require.Equal(t, "Mario Rossi", fields["legale_rappresentante"])
	require.Equal(t, "IT01234567890", fields["partita_iva"])
	require.Equal(t, "info@acme.example", fields["email"])

	// the sesso cell is blank on the page, so the field stays absent
	_, ok := fields["sesso"]
	require.False(t, ok)
}

const loginPage = `<html><body>
<form id="loginForm" method="post" action="/omnia/login.jsf">
<input type="text" name="loginForm:username"/>
<input type="password" name="loginForm:password"/>
<input type="hidden" name="javax.faces.ViewState" value="j_id0:state"/>
</form>
</body></html>`

const homePage = `<html><body>
<form id="navigationForm" method="post" action="/omnia/home.jsf"></form>
<input type="hidden" name="javax.faces.ViewState" value="j_id1:state"/>
</body></html>`

func fakePortal(t *testing.T) *httptest.Server {
	fixture := func(w http.ResponseWriter, name string) {
		body, err := os.ReadFile(filepath.Join("testdata", name))
		require.NoError(t, err)
		_, _ = w.Write(body)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/omnia/login.jsf", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(loginPage))
			return
		}
		require.Equal(t, "j_id0:state", r.PostFormValue("javax.faces.ViewState"))
		if r.PostFormValue("loginForm:username") != "operatore" {
			_, _ = w.Write([]byte(loginPage))
			return
		}
		_, _ = w.Write([]byte(homePage))
	})
	mux.HandleFunc("/omnia/home.jsf", func(w http.ResponseWriter, r *http.Request) {
		require.NotEmpty(t, r.PostFormValue("javax.faces.ViewState"))
		fixture(w, "dashboard.html")
	})
	mux.HandleFunc("/omnia/requests.jsf", func(w http.ResponseWriter, r *http.Request) {
		require.NotEmpty(t, r.PostFormValue("javax.faces.ViewState"))
		if r.PostFormValue("module:j_id1444") != "" {
			fixture(w, "customer_view.html")
			return
		}
		fixture(w, "request_view.html")
	})
	mux.HandleFunc("/omnia/logout.jsf", func(w http.ResponseWriter, r *http.Request) {})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T) (*Client, context.Context) {
	_, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name: "scrapers/omnia",
	})
	t.Cleanup(cleanup)

	server := fakePortal(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	t.Cleanup(cancel)

	client, err := NewClient(ctx, ClientOptions{
		BaseUrl:  server.URL,
		Username: "operatore",
		Password: "segreta",
		Retry:    retryutil.Policy{MaxAttempts: 1},
	})
	require.NoError(t, err)
	return client, ctx
}

func TestClientLoginRejectsBadCredentials(t *testing.T) {
	_, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name: "scrapers/omnia",
	})
	t.Cleanup(cleanup)

	server := fakePortal(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	t.Cleanup(cancel)

	_, err := NewClient(ctx, ClientOptions{
		BaseUrl:  server.URL,
		Username: "sbagliato",
		Password: "segreta",
		Retry:    retryutil.Policy{MaxAttempts: 1},
	})
	require.ErrorIs(t, err, LoginFailed)
}

func TestClientListAndFetch(t *testing.T) {
	client, ctx := newTestClient(t)

	candidates, err := client.ListRequests(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"REQ-2024-0042", "REQ-2024-0043"}, candidates)

	record, err := client.FetchRecord(ctx, "REQ-2024-0042")
	require.NoError(t, err)
	require.Equal(t, "REQ-2024-0042", record.Protocollo)

	header := fieldMap(t, record.Header)
	require.Equal(t, "In lavorazione", header["avanzamento"])

	detail := fieldMap(t, record.Detail)
	require.Equal(t, "Milano", detail["comune"])

	profile := fieldMap(t, record.Profile)
	require.Equal(t, "ACME S.r.l.", profile["nome_cliente"])

	require.NoError(t, client.Close(ctx))
}

func TestFetchRecordUnknownProtocollo(t *testing.T) {
	client, ctx := newTestClient(t)

	_, err := client.FetchRecord(ctx, "REQ-0000-0000")
	require.Error(t, err)
}
