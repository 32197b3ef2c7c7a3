package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang/geo/r3"

	"github.com/mohammed-shakir/tilestream/internal/scheduler"
	"github.com/mohammed-shakir/tilestream/internal/session"
	"github.com/mohammed-shakir/tilestream/internal/tiles"
	"github.com/mohammed-shakir/tilestream/internal/transport"
)

type memTransport struct{}

func (memTransport) FetchTileset(_ context.Context, q transport.Query) (*tiles.Tileset, error) {
	root := &tiles.NodeSpec{ID: "root", Region: tiles.Region{-1, -1, 1, 1, -1, 1}, GeometricError: 1, ContentRef: "root"}
	return tiles.Build(root, r3.Vector{}, tiles.BuildOptions{Table: q.Table, PointCount: 1})
}

func (memTransport) FetchTileContent(context.Context, string) (transport.RawContent, error) {
	return transport.RawContent{Geometry: []byte{1}}, nil
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	l := slog.New(slog.DiscardHandler)
	s, err := session.Open(context.Background(), session.Config{
		Query:  transport.Query{Table: "t"},
		Budget: 2,
	}, session.Deps{Logger: l, Transport: memTransport{}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok_metric 1\n")) })
	srv := httptest.NewServer(NewHandler(l, Deps{Session: s, Metrics: metrics}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRoutes(t *testing.T) {
	srv := newServer(t)

	cases := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodGet, "/healthz", "", http.StatusOK},
		{http.MethodGet, "/readyz", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodGet, "/v1/status", "", http.StatusOK},
		{http.MethodPut, "/v1/viewpoint?position=1,2,3", "", http.StatusOK},
		{http.MethodPost, "/v1/evaluate?wait=true", "", http.StatusOK},
		{http.MethodGet, "/v1/evaluate", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/v1/ws", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		req, _ := http.NewRequest(tc.method, srv.URL+tc.path, strings.NewReader(tc.body))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", tc.method, tc.path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Fatalf("%s %s: status=%d want %d", tc.method, tc.path, resp.StatusCode, tc.want)
		}
		if resp.Header.Get("X-Request-ID") == "" {
			t.Fatalf("%s %s: missing request id", tc.method, tc.path)
		}
	}
}

func TestEvaluateLoadsRoot(t *testing.T) {
	srv := newServer(t)
	resp, err := http.Post(srv.URL+"/v1/evaluate?wait=1", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var rep scheduler.Report
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rep.Loaded) != 1 || rep.Loaded[0] != "root" {
		t.Fatalf("report=%+v", rep)
	}
}
