package webform

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"omniasync-backend/lib/retryutil"
	"omniasync-backend/lib/testutil"

	"github.com/stretchr/testify/require"
)

// fakeDestination is a minimal downstream application: cookie login,
// profile search and two insert forms.
type fakeDestination struct {
	mu       sync.Mutex
	profiles [][2]string // name, codice fiscale
	requests []map[string]string

	server *httptest.Server
}

func newFakeDestination(t *testing.T) *fakeDestination {
	f := &fakeDestination{}

	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.PostFormValue("username") != "mirror" {
			fmt.Fprint(w, `<html><body>credenziali errate</body></html>`)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "ok"})
		fmt.Fprint(w, `<html><body><a href="/logout">Esci</a></body></html>`)
	})
	mux.HandleFunc("/profiles/search", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		fmt.Fprint(w, `<html><body><table class="profiles"><tbody>`)
		for _, p := range f.profiles {
			fmt.Fprintf(w, `<tr><td>%s</td><td>%s</td></tr>`, p[0], p[1])
		}
		fmt.Fprint(w, `</tbody></table></body></html>`)
	})
	mux.HandleFunc("/profiles/new", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.mu.Lock()
		f.profiles = append(f.profiles, [2]string{
			r.PostFormValue("nome_cliente"),
			r.PostFormValue("codice_fiscale"),
		})
		f.mu.Unlock()
	})
	mux.HandleFunc("/requests/new", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		fields := map[string]string{}
		for k := range r.PostForm {
			fields[k] = r.PostFormValue(k)
		}
		f.mu.Lock()
		f.requests = append(f.requests, fields)
		f.mu.Unlock()
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeDestination) destination(name string) Destination {
	return Destination{
		Name:     name,
		BaseUrl:  f.server.URL,
		Username: "mirror",
		Password: "segreta",
	}
}

func (f *fakeDestination) submittedRequests() []map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]string, len(f.requests))
	copy(out, f.requests)
	return out
}

func (f *fakeDestination) profileCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.profiles)
}

func setupSink(t *testing.T, fakes ...*fakeDestination) (*Sink, context.Context) {
	_, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name: "sinks/webform",
	})
	t.Cleanup(cleanup)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	t.Cleanup(cancel)

	var destinations []Destination
	for i, f := range fakes {
		destinations = append(destinations, f.destination(fmt.Sprintf("dest-%d", i)))
	}
	sink, err := NewSink(ctx, destinations, retryutil.Policy{MaxAttempts: 1})
	require.NoError(t, err)
	return sink, ctx
}

func TestMatchesProfile(t *testing.T) {
	// an identical codice fiscale always wins
	require.True(t, matchesProfile("ACME srl", "01234567890", "Acme S.r.l.", "01234567890"))
	require.False(t, matchesProfile("ACME srl", "01234567890", "ACME srl", "99999999999"))

	// without codici fiscali names match fuzzily
	require.True(t, matchesProfile("Rossi Costruzioni srl", "", "Rossi Costruzioni s.r.l", ""))
	require.False(t, matchesProfile("Rossi Costruzioni srl", "", "Bianchi Trasporti spa", ""))
	require.False(t, matchesProfile("", "", "Bianchi Trasporti spa", ""))
}

func TestDeliverRegistersMissingProfile(t *testing.T) {
	fake := newFakeDestination(t)
	sink, ctx := setupSink(t, fake)

	deliveries := sink.Deliver(ctx, RecordSubmission{
		Protocollo: "REQ-2024-0042",
		Request:    map[string]string{"comune": "Milano"},
		Profile: map[string]string{
			"nome_cliente":   "ACME S.r.l.",
			"codice_fiscale": "01234567890",
		},
	})
	require.Len(t, deliveries, 1)
	require.NoError(t, deliveries[0].Err)

	require.Equal(t, 1, fake.profileCount())
	requests := fake.submittedRequests()
	require.Len(t, requests, 1)
	require.Equal(t, "REQ-2024-0042", requests[0]["protocollo"])
	require.Equal(t, "Milano", requests[0]["comune"])
}

func TestDeliverSkipsKnownProfile(t *testing.T) {
	fake := newFakeDestination(t)
	fake.profiles = append(fake.profiles, [2]string{"ACME S.r.l.", "01234567890"})
	sink, ctx := setupSink(t, fake)

	deliveries := sink.Deliver(ctx, RecordSubmission{
		Protocollo: "REQ-2024-0042",
		Request:    map[string]string{"comune": "Milano"},
		Profile: map[string]string{
			"nome_cliente":   "ACME srl",
			"codice_fiscale": "01234567890",
		},
	})
	require.NoError(t, deliveries[0].Err)
	require.Equal(t, 1, fake.profileCount())
	require.Len(t, fake.submittedRequests(), 1)
}

func TestDeliverFansOutToEveryDestination(t *testing.T) {
	first := newFakeDestination(t)
	second := newFakeDestination(t)
	sink, ctx := setupSink(t, first, second)

	deliveries := sink.Deliver(ctx, RecordSubmission{
		Protocollo: "REQ-2024-0043",
		Request:    map[string]string{"comune": "Torino"},
	})
	require.Len(t, deliveries, 2)
	for _, d := range deliveries {
		require.NoError(t, d.Err)
	}
	require.Len(t, first.submittedRequests(), 1)
	require.Len(t, second.submittedRequests(), 1)
}

func TestDeliverReportsDestinationFailure(t *testing.T) {
	fake := newFakeDestination(t)
	sink, ctx := setupSink(t, fake)

	// the destination goes away between login and delivery
	fake.server.Close()

	deliveries := sink.Deliver(ctx, RecordSubmission{
		Protocollo: "REQ-2024-0044",
		Request:    map[string]string{"comune": "Bari"},
	})
	require.Len(t, deliveries, 1)
	require.Error(t, deliveries[0].Err)
}

func TestNewSinkRejectsBadCredentials(t *testing.T) {
	_, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name: "sinks/webform",
	})
	t.Cleanup(cleanup)

	fake := newFakeDestination(t)
	dest := fake.destination("dest-0")
	dest.Username = "sbagliato"

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	t.Cleanup(cancel)

	_, err := NewSink(ctx, []Destination{dest}, retryutil.Policy{MaxAttempts: 1})
	require.ErrorIs(t, err, LoginFailed)
}
