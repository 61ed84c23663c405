package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Chinzzii/undo-replication-go/internal/cluster"
	"github.com/Chinzzii/undo-replication-go/internal/history"
	"github.com/Chinzzii/undo-replication-go/internal/persist"
	"github.com/Chinzzii/undo-replication-go/internal/record"
	"github.com/Chinzzii/undo-replication-go/internal/repl"
	"github.com/Chinzzii/undo-replication-go/internal/store"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type node struct {
	srv    *httptest.Server
	mirror *persist.Memory
	store  *store.Store
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func startFollower(t *testing.T) node {
	t.Helper()
	mirror := persist.NewMemory()
	cfg := &cluster.NodeConfig{ID: "follower-1", Role: cluster.Follower, Mode: cluster.Sync}
	s := NewServer(cfg, Deps{Follower: repl.NewFollower(mirror), Reader: mirror}, quietLogger())
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)
	return node{srv: srv, mirror: mirror}
}

func startLeader(t *testing.T, peers ...string) node {
	t.Helper()
	mirror := persist.NewMemory()
	cfg := &cluster.NodeConfig{ID: "leader-1", Role: cluster.Leader, Mode: cluster.Sync, Peers: peers}
	rp := repl.NewReplicator(mirror, repl.Config{Peers: peers, Logger: quietLogger()})
	st := store.New(rp)
	s := NewServer(cfg, Deps{Store: st, Replicator: rp}, quietLogger())
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)
	return node{srv: srv, mirror: mirror, store: st}
}

func do(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func wantStatus(t *testing.T, resp *http.Response, code int) {
	t.Helper()
	if resp.StatusCode != code {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want %d: %s", resp.StatusCode, code, b)
	}
}

func colorOf(t *testing.T, m *persist.Memory, r record.Record) (string, bool) {
	t.Helper()
	got, ok, err := m.Get(context.Background(), r.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	c, _ := got.Field("color")
	return c, ok
}

func TestSaveUndoRedoReplicatesToFollower(t *testing.T) {
	t.Parallel()

	follower := startFollower(t)
	leader := startLeader(t, follower.srv.URL)

	resp := do(t, http.MethodPost, leader.srv.URL+"/records", SaveRequest{Fields: map[string]string{"color": "red"}})
	wantStatus(t, resp, http.StatusOK)
	created := decode[RecordResponse](t, resp).Record

	resp = do(t, http.MethodPost, leader.srv.URL+"/records", SaveRequest{
		ID:     created.ID().String(),
		Fields: map[string]string{"color": "blue"},
	})
	wantStatus(t, resp, http.StatusOK)
	if c, _ := colorOf(t, follower.mirror, created); c != "blue" {
		t.Fatalf("follower color = %q, want blue", c)
	}

	resp = do(t, http.MethodPost, leader.srv.URL+"/undo", nil)
	wantStatus(t, resp, http.StatusOK)
	h := decode[HistoryResponse](t, resp)
	if h.Undo != 1 || h.Redo != 1 {
		t.Fatalf("history = %+v, want undo=1 redo=1", h)
	}
	for name, m := range map[string]*persist.Memory{"leader": leader.mirror, "follower": follower.mirror} {
		if c, _ := colorOf(t, m, created); c != "red" {
			t.Fatalf("%s color after undo = %q, want red", name, c)
		}
	}

	resp = do(t, http.MethodPost, leader.srv.URL+"/redo", nil)
	wantStatus(t, resp, http.StatusOK)
	if c, _ := colorOf(t, follower.mirror, created); c != "blue" {
		t.Fatalf("follower color after redo = %q, want blue", c)
	}
}

func TestDeleteAndUndoOverHTTP(t *testing.T) {
	t.Parallel()

	leader := startLeader(t)
	resp := do(t, http.MethodPost, leader.srv.URL+"/records", SaveRequest{Fields: map[string]string{"color": "red"}})
	wantStatus(t, resp, http.StatusOK)
	created := decode[RecordResponse](t, resp).Record
	url := leader.srv.URL + "/records?id=" + created.ID().String()

	resp = do(t, http.MethodDelete, url, nil)
	wantStatus(t, resp, http.StatusOK)
	if removed := decode[RecordResponse](t, resp).Record; removed.ID() != created.ID() || !removed.SamePayload(created) {
		t.Fatalf("removed = %v, want %v", removed, created)
	}
	wantStatus(t, do(t, http.MethodGet, url, nil), http.StatusNotFound)
	wantStatus(t, do(t, http.MethodDelete, url, nil), http.StatusNotFound)

	wantStatus(t, do(t, http.MethodPost, leader.srv.URL+"/undo", nil), http.StatusOK)
	resp = do(t, http.MethodGet, url, nil)
	wantStatus(t, resp, http.StatusOK)
	got := decode[record.Record](t, resp)
	if !got.SamePayload(created) {
		t.Fatalf("restored = %v, want %v", got, created)
	}
}

func TestUndoOnEmptyHistoryIsOK(t *testing.T) {
	t.Parallel()

	leader := startLeader(t)
	wantStatus(t, do(t, http.MethodPost, leader.srv.URL+"/undo", nil), http.StatusOK)
	wantStatus(t, do(t, http.MethodPost, leader.srv.URL+"/redo", nil), http.StatusOK)
}

func TestInvalidStepMapsToConflict(t *testing.T) {
	t.Parallel()

	mirror := persist.NewMemory()
	st := store.New(mirror)
	cfg := &cluster.NodeConfig{ID: "leader-1", Role: cluster.Leader}
	s := NewServer(cfg, Deps{Store: st}, quietLogger())

	rec := httptest.NewRecorder()
	s.respondStoreError(rec, "req", history.ErrInvalidStep)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestFollowerRejectsWrites(t *testing.T) {
	t.Parallel()

	follower := startFollower(t)
	resp := do(t, http.MethodPost, follower.srv.URL+"/records", SaveRequest{Fields: map[string]string{"color": "red"}})
	wantStatus(t, resp, http.StatusForbidden)
	wantStatus(t, do(t, http.MethodPost, follower.srv.URL+"/undo", nil), http.StatusForbidden)
}

func TestLeaderRejectsReplication(t *testing.T) {
	t.Parallel()

	leader := startLeader(t)
	r := record.New(nil)
	resp := do(t, http.MethodPost, leader.srv.URL+"/replicate", repl.ReplicateRequest{Op: repl.OpUpsert, ID: r.ID(), Record: &r})
	wantStatus(t, resp, http.StatusForbidden)
}

func TestFollowerRejectsMalformedReplication(t *testing.T) {
	t.Parallel()

	follower := startFollower(t)
	resp := do(t, http.MethodPost, follower.srv.URL+"/replicate", repl.ReplicateRequest{Op: repl.OpUpsert})
	wantStatus(t, resp, http.StatusBadRequest)
}

func TestBadRequests(t *testing.T) {
	t.Parallel()

	leader := startLeader(t)
	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"bad id in body", http.MethodPost, "/records", SaveRequest{ID: "nope"}, http.StatusBadRequest},
		{"nil id in body", http.MethodPost, "/records", SaveRequest{ID: "00000000-0000-0000-0000-000000000000"}, http.StatusBadRequest},
		{"delete without id", http.MethodDelete, "/records", nil, http.StatusBadRequest},
		{"get bad id", http.MethodGet, "/records?id=nope", nil, http.StatusBadRequest},
		{"patch records", http.MethodPatch, "/records", nil, http.StatusMethodNotAllowed},
		{"get undo", http.MethodGet, "/undo", nil, http.StatusMethodNotAllowed},
		{"post status", http.MethodPost, "/status", nil, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantStatus(t, do(t, tt.method, leader.srv.URL+tt.path, tt.body), tt.want)
		})
	}
}

func TestPartitionBlocksReplication(t *testing.T) {
	t.Parallel()

	follower := startFollower(t)
	leader := startLeader(t, follower.srv.URL)

	resp := do(t, http.MethodPost, leader.srv.URL+"/partition?block="+follower.srv.URL, nil)
	wantStatus(t, resp, http.StatusOK)
	if blocked := decode[map[string]bool](t, resp); !blocked[follower.srv.URL] {
		t.Fatalf("blocked = %v", blocked)
	}

	resp = do(t, http.MethodPost, leader.srv.URL+"/records", SaveRequest{Fields: map[string]string{"color": "red"}})
	wantStatus(t, resp, http.StatusOK)
	created := decode[RecordResponse](t, resp).Record
	if _, ok := colorOf(t, follower.mirror, created); ok {
		t.Fatal("blocked follower should not receive the record")
	}
	if _, ok := colorOf(t, leader.mirror, created); !ok {
		t.Fatal("leader backend should still persist the record")
	}

	resp = do(t, http.MethodGet, leader.srv.URL+"/status", nil)
	wantStatus(t, resp, http.StatusOK)
	st := decode[Status](t, resp)
	if st.Role != "leader" || len(st.Records) != 1 || st.Undo != 1 || !st.Blocked[follower.srv.URL] {
		t.Fatalf("status = %+v", st)
	}
	if len(st.Peers) != 1 || st.Peers[0] != follower.srv.URL {
		t.Fatalf("status peers = %v, want [%s]", st.Peers, follower.srv.URL)
	}
}

func TestFollowerServesReads(t *testing.T) {
	t.Parallel()

	follower := startFollower(t)
	leader := startLeader(t, follower.srv.URL)

	resp := do(t, http.MethodPost, leader.srv.URL+"/records", SaveRequest{Fields: map[string]string{"color": "yellow"}})
	wantStatus(t, resp, http.StatusOK)
	created := decode[RecordResponse](t, resp).Record

	resp = do(t, http.MethodGet, follower.srv.URL+"/records?id="+created.ID().String(), nil)
	wantStatus(t, resp, http.StatusOK)
	if got := decode[record.Record](t, resp); !got.SamePayload(created) {
		t.Fatalf("follower read = %v, want %v", got, created)
	}

	resp = do(t, http.MethodGet, follower.srv.URL+"/records", nil)
	wantStatus(t, resp, http.StatusOK)
	if list := decode[[]record.Record](t, resp); len(list) != 1 {
		t.Fatalf("list = %v", list)
	}
}

func TestReplicationJoinsLeaderTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	mirror := persist.NewMemory()
	cfg := &cluster.NodeConfig{ID: "follower-1", Role: cluster.Follower, Mode: cluster.Sync}
	follower := NewServer(cfg, Deps{
		Follower: repl.NewFollower(persist.Traced(mirror, tp.Tracer(persist.TracerName))),
		Reader:   mirror,
	}, quietLogger())
	srv := httptest.NewServer(follower.Routes())
	t.Cleanup(srv.Close)

	ctx, parent := tp.Tracer("leader").Start(context.Background(), "store.save")
	rec := record.New(map[string]string{"color": "red"})
	req := repl.ReplicateRequest{Op: repl.OpUpsert, ID: rec.ID(), Record: &rec, TS: time.Now().UTC(), ReqID: uuid.NewString()}
	if err := repl.PostReplicate(ctx, srv.Client(), srv.URL, req); err != nil {
		t.Fatalf("post: %v", err)
	}
	parent.End()

	var upsert sdktrace.ReadOnlySpan
	for _, s := range recorder.Ended() {
		if s.Name() == "persist.upsert" {
			upsert = s
		}
	}
	if upsert == nil {
		t.Fatal("follower recorded no persist.upsert span")
	}
	if got, want := upsert.Parent().TraceID(), parent.SpanContext().TraceID(); got != want {
		t.Fatalf("follower span trace = %s, want %s", got, want)
	}
	if got, want := upsert.Parent().SpanID(), parent.SpanContext().SpanID(); got != want {
		t.Fatalf("follower span parent = %s, want %s", got, want)
	}
}
