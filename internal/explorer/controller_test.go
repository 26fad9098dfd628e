package explorer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"webatlas/internal/atlas"
	"webatlas/internal/browser"
	"webatlas/internal/fingerprint"
	"webatlas/internal/reasoning"
	"webatlas/internal/replay"
)

func TestMain(m *testing.M) {
	// The genai client pulls in opencensus, whose init starts a worker
	// goroutine that never exits.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// fixtureSite is a small static application with a product listing, a
// login flow, a page with no outgoing links, and a two-page cycle.
var fixtureSite = map[string]string{
	"/": `<html><body>
		<a href="/products">products</a>
		<a href="/login">login</a>
		<a href="/deadend">dead end</a>
		<a href="/loop-a">loop</a>
	</body></html>`,
	"/products": `<html><body>
		<a href="/products/1">one</a>
		<a href="/products/2">two</a>
		<a href="/products/3">three</a>
	</body></html>`,
	"/products/1": `<html><body><form><input name="qty-1"></form></body></html>`,
	"/products/2": `<html><body><form><input name="qty-2"></form></body></html>`,
	"/products/3": `<html><body><form><input name="qty-3"></form></body></html>`,
	"/login": `<html><body>
		<form><input name="username"><input name="password" type="password"></form>
		<a href="/dashboard">dashboard</a>
	</body></html>`,
	"/dashboard": `<html><body><a href="/">home</a></body></html>`,
	"/deadend":   `<html><body><form><input name="deadend-marker"></form></body></html>`,
	"/loop-a":    `<html><body><form><input name="marker-a"></form><a href="/loop-b">b</a></body></html>`,
	"/loop-b":    `<html><body><form><input name="marker-b"></form><a href="/loop-a">a</a></body></html>`,
}

func fixtureServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, ok := fixtureSite[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, page)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// httpDriver is a browser.Driver that fetches pages over plain HTTP. It
// only understands navigate actions, which is all the link-following
// reasoner below proposes.
type httpDriver struct {
	base    string
	client  *http.Client
	current string
}

func newHTTPDriver(base string) *httpDriver {
	// Keep-alives off so no connection goroutines outlive the test.
	return &httpDriver{base: base, client: &http.Client{
		Timeout:   5 * time.Second,
		Transport: &http.Transport{DisableKeepAlives: true},
	}}
}

func (d *httpDriver) resolve(raw string) string {
	if strings.HasPrefix(raw, "/") {
		return d.base + raw
	}
	return raw
}

func (d *httpDriver) fetch(ctx context.Context, pageURL string) (*fingerprint.PageSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &atlas.CollaboratorError{Collaborator: "browser", Op: "fetch", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &atlas.CollaboratorError{Collaborator: "browser", Op: "fetch",
			Err: fmt.Errorf("status %d for %s", resp.StatusCode, pageURL)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return fingerprint.FromHTML(pageURL, "", string(body))
}

func (d *httpDriver) Snapshot(ctx context.Context) (*fingerprint.PageSnapshot, error) {
	return d.fetch(ctx, d.current)
}

func (d *httpDriver) Execute(ctx context.Context, action atlas.Action) (*browser.StepResult, error) {
	if action.Kind != atlas.ActionNavigate {
		return nil, &atlas.CollaboratorError{Collaborator: "browser", Op: "execute",
			Err: fmt.Errorf("unsupported kind %s", action.Kind)}
	}
	result := &browser.StepResult{}
	if d.current != "" {
		before, err := d.fetch(ctx, d.current)
		if err != nil {
			return nil, err
		}
		result.Before = before
	}
	target := d.resolve(action.Params["url"])
	after, err := d.fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	d.current = target
	result.After = after
	return result, nil
}

func (d *httpDriver) Reset(ctx context.Context) error {
	d.current = ""
	return nil
}

// linkReasoner proposes one navigate task per link and judges a
// transition meaningful when the URL changed.
type linkReasoner struct{}

func (linkReasoner) ProposeTasks(ctx context.Context, snap *fingerprint.PageSnapshot) ([]atlas.Task, error) {
	tasks := make([]atlas.Task, 0, len(snap.Links))
	for _, link := range snap.Links {
		tasks = append(tasks, atlas.Task{
			Kind:      atlas.ActionNavigate,
			Params:    map[string]string{"url": link.Href},
			Priority:  5,
			Rationale: "follow link " + link.Href,
		})
	}
	return tasks, nil
}

func (linkReasoner) JudgeTransition(ctx context.Context, before, after *fingerprint.PageSnapshot, action atlas.Action) (*reasoning.Judgment, error) {
	if before == nil || after == nil || before.URL == after.URL {
		return &reasoning.Judgment{Meaningful: false, Confidence: 0.9}, nil
	}
	u, err := url.Parse(after.URL)
	if err != nil {
		return nil, err
	}
	label := strings.ReplaceAll(strings.Trim(u.Path, "/"), "/", " ")
	if label == "" {
		label = "home"
	}
	return &reasoning.Judgment{Meaningful: true, Label: "open " + label, Confidence: 0.9}, nil
}

func (linkReasoner) ProposeIdeas(ctx context.Context, snap *fingerprint.PageSnapshot) ([]atlas.TestIdea, error) {
	return nil, nil
}

func fixtureFingerprint(t *testing.T, path string) string {
	t.Helper()
	snap, err := fingerprint.FromHTML("http://fixture"+path, "", fixtureSite[path])
	require.NoError(t, err)
	fp, err := fingerprint.Compute(snap)
	require.NoError(t, err)
	return fp
}

func TestExploreFixtureSite(t *testing.T) {
	srv := fixtureServer(t)
	store, err := atlas.NewStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	driver := newHTTPDriver(srv.URL)
	ctrl := New(store, driver, linkReasoner{}, replay.NewTeleporter(store, driver), Config{
		StartURL:    srv.URL + "/",
		MaxDepth:    5,
		MaxNodes:    20,
		MaxRevisits: 3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	summary, err := ctrl.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, ctrl.State())

	// One node per structurally distinct page, cycle pages included once.
	require.GreaterOrEqual(t, summary.TotalNodes, 8)
	require.LessOrEqual(t, summary.TotalNodes, 10)

	for _, path := range []string{"/loop-a", "/loop-b"} {
		node, err := store.NodeByFingerprint(fixtureFingerprint(t, path))
		require.NoError(t, err, "cycle page %s should have exactly one node", path)
		require.NotEmpty(t, node.ID)
	}

	deadend, err := store.NodeByFingerprint(fixtureFingerprint(t, "/deadend"))
	require.NoError(t, err)
	out, err := store.OutDegree(deadend.ID)
	require.NoError(t, err)
	require.Zero(t, out, "dead end must have no outgoing edges")

	// The frontier drained completely.
	frontier, err := store.Frontier()
	require.NoError(t, err)
	require.Empty(t, frontier)

	bad, err := store.VerifyIndex()
	require.NoError(t, err)
	require.Empty(t, bad)
}

func TestExploreHonorsNodeBudget(t *testing.T) {
	srv := fixtureServer(t)
	store, err := atlas.NewStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	driver := newHTTPDriver(srv.URL)
	ctrl := New(store, driver, linkReasoner{}, replay.NewTeleporter(store, driver), Config{
		StartURL:    srv.URL + "/",
		MaxDepth:    5,
		MaxNodes:    3,
		MaxRevisits: 3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	summary, err := ctrl.Run(ctx)
	require.NoError(t, err)
	require.LessOrEqual(t, summary.TotalNodes, 3)
}

func TestExploreCancellation(t *testing.T) {
	srv := fixtureServer(t)
	store, err := atlas.NewStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	driver := newHTTPDriver(srv.URL)
	ctrl := New(store, driver, linkReasoner{}, replay.NewTeleporter(store, driver), Config{
		StartURL: srv.URL + "/",
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ctrl.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestExploreTeleportsAcrossBranches(t *testing.T) {
	srv := fixtureServer(t)
	store, err := atlas.NewStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	driver := newHTTPDriver(srv.URL)
	ctrl := New(store, driver, linkReasoner{}, replay.NewTeleporter(store, driver), Config{
		StartURL:    srv.URL + "/",
		MaxDepth:    5,
		MaxNodes:    20,
		MaxRevisits: 3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err = ctrl.Run(ctx)
	require.NoError(t, err)

	// Every product page hangs off /products, which is only reachable by
	// backtracking after descending into other branches.
	productsFP := fixtureFingerprint(t, "/products")
	products, err := store.NodeByFingerprint(productsFP)
	require.NoError(t, err)
	out, err := store.OutDegree(products.ID)
	require.NoError(t, err)
	require.Equal(t, 3, out)
}
