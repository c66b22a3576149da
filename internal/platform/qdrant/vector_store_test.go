package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/driftnote/driftnote-backend/internal/platform/logger"
	"github.com/driftnote/driftnote-backend/internal/platform/vecstore"
)

type fakeTransport struct {
	handler func(req *http.Request) (*http.Response, error)
	calls   []*http.Request
	bodies  []map[string]any
}

func (t *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.calls = append(t.calls, req)
	var body map[string]any
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		req.Body = io.NopCloser(bytes.NewReader(raw))
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &body)
		}
	}
	t.bodies = append(t.bodies, body)
	return t.handler(req)
}

func okResponse(t *testing.T, result any) *http.Response {
	t.Helper()
	envelope := map[string]any{"status": "ok", "result": result, "time": 0.001}
	raw, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(raw)),
	}
}

func errorResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newTestVectorStore(t *testing.T, transport *fakeTransport) *vectorStore {
	t.Helper()
	return &vectorStore{
		log: logger.NewNop(),
		cfg: Config{
			URL:             "http://qdrant.test:6333",
			Collection:      "driftnote_chunks",
			NamespacePrefix: "dn",
			VectorDim:       3,
		},
		baseURL:  "http://qdrant.test:6333",
		nsPrefix: "dn",
		distance: "Cosine",
		http:     &http.Client{Transport: transport},
	}
}

func TestUpsertQualifiesNamespaceAndStampsPayload(t *testing.T) {
	transport := &fakeTransport{
		handler: func(req *http.Request) (*http.Response, error) {
			return okResponse(t, map[string]any{"operation_id": 1, "status": "completed"}), nil
		},
	}
	store := newTestVectorStore(t, transport)

	err := store.Upsert(context.Background(), "user:u1", []vecstore.Vector{
		{
			ID:       "chunk-1",
			Values:   []float32{0.1, 0.2, 0.3},
			Metadata: map[string]any{vecstore.MetadataInsertedAtKey: int64(1700000000)},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(transport.calls) != 1 {
		t.Fatalf("want=1 request got=%d", len(transport.calls))
	}
	req := transport.calls[0]
	if req.Method != http.MethodPut {
		t.Fatalf("want=PUT got=%s", req.Method)
	}
	if !strings.Contains(req.URL.Path, "/collections/driftnote_chunks/points") {
		t.Fatalf("unexpected path %q", req.URL.Path)
	}

	points, ok := transport.bodies[0]["points"].([]any)
	if !ok || len(points) != 1 {
		t.Fatalf("want=1 point got=%v", transport.bodies[0]["points"])
	}
	payload := points[0].(map[string]any)["payload"].(map[string]any)
	if got := payload[payloadNamespaceKey]; got != "dn:user:u1" {
		t.Fatalf("want=dn:user:u1 got=%v", got)
	}
	if got := payload[payloadVectorIDKey]; got != "chunk-1" {
		t.Fatalf("want=chunk-1 got=%v", got)
	}
	if _, ok := payload[vecstore.MetadataInsertedAtKey]; !ok {
		t.Fatalf("expected %s metadata to pass through", vecstore.MetadataInsertedAtKey)
	}
}

func TestUpsertPointIDsAreDeterministic(t *testing.T) {
	var firstID, secondID string
	transport := &fakeTransport{
		handler: func(req *http.Request) (*http.Response, error) {
			return okResponse(t, map[string]any{"status": "completed"}), nil
		},
	}
	store := newTestVectorStore(t, transport)

	for i := 0; i < 2; i++ {
		err := store.Upsert(context.Background(), "user:u1", []vecstore.Vector{
			{ID: "chunk-7", Values: []float32{1, 0, 0}},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	for i, body := range transport.bodies {
		points := body["points"].([]any)
		id := points[0].(map[string]any)["id"].(string)
		if i == 0 {
			firstID = id
		} else {
			secondID = id
		}
	}
	if firstID == "" || firstID != secondID {
		t.Fatalf("point ids differ across upserts: %q vs %q", firstID, secondID)
	}
}

func TestUpsertRejectsDimensionMismatch(t *testing.T) {
	transport := &fakeTransport{
		handler: func(req *http.Request) (*http.Response, error) {
			t.Fatalf("no request expected")
			return nil, nil
		},
	}
	store := newTestVectorStore(t, transport)

	err := store.Upsert(context.Background(), "user:u1", []vecstore.Vector{
		{ID: "chunk-1", Values: []float32{0.1, 0.2}},
	})
	var opError *OperationError
	if !errors.As(err, &opError) || opError.Code != OperationErrorValidation {
		t.Fatalf("want validation error got=%v", err)
	}
}

func TestQueryMatchesFiltersByNamespaceAndStripsBookkeeping(t *testing.T) {
	transport := &fakeTransport{
		handler: func(req *http.Request) (*http.Response, error) {
			return okResponse(t, []map[string]any{
				{
					"id":    "11111111-1111-1111-1111-111111111111",
					"score": 0.92,
					"payload": map[string]any{
						payloadNamespaceKey:            "dn:user:u1",
						payloadVectorIDKey:             "chunk-2",
						vecstore.MetadataInsertedAtKey: 1700000000,
					},
				},
				{
					"id":    "22222222-2222-2222-2222-222222222222",
					"score": 0.81,
					"payload": map[string]any{
						payloadNamespaceKey: "dn:user:u1",
						payloadVectorIDKey:  "chunk-9",
					},
				},
			}), nil
		},
	}
	store := newTestVectorStore(t, transport)

	matches, err := store.QueryMatches(context.Background(), "user:u1", []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("want=2 matches got=%d", len(matches))
	}
	if matches[0].ID != "chunk-2" || matches[1].ID != "chunk-9" {
		t.Fatalf("unexpected match order: %v, %v", matches[0].ID, matches[1].ID)
	}
	if matches[0].Score < matches[1].Score {
		t.Fatalf("matches not sorted by score: %v < %v", matches[0].Score, matches[1].Score)
	}
	if _, ok := matches[0].Metadata[payloadNamespaceKey]; ok {
		t.Fatalf("bookkeeping key leaked into metadata")
	}
	if _, ok := matches[0].Metadata[vecstore.MetadataInsertedAtKey]; !ok {
		t.Fatalf("expected %s in metadata", vecstore.MetadataInsertedAtKey)
	}

	body := transport.bodies[0]
	filter, ok := body["filter"].(map[string]any)
	if !ok {
		t.Fatalf("missing namespace filter in search request")
	}
	must := filter["must"].([]any)
	match := must[0].(map[string]any)["match"].(map[string]any)
	if match["value"] != "dn:user:u1" {
		t.Fatalf("want=dn:user:u1 got=%v", match["value"])
	}
	if body["with_payload"] != true {
		t.Fatalf("expected with_payload=true")
	}
}

func TestQueryMatchesNormalizesEuclideanScores(t *testing.T) {
	transport := &fakeTransport{
		handler: func(req *http.Request) (*http.Response, error) {
			return okResponse(t, []map[string]any{
				{
					"id":      "11111111-1111-1111-1111-111111111111",
					"score":   3.0,
					"payload": map[string]any{payloadVectorIDKey: "chunk-1"},
				},
			}), nil
		},
	}
	store := newTestVectorStore(t, transport)
	store.distance = "Euclid"

	matches, err := store.QueryMatches(context.Background(), "user:u1", []float32{1, 0, 0}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := 1.0 / 4.0
	if matches[0].Score != want {
		t.Fatalf("want=%v got=%v", want, matches[0].Score)
	}
}

func TestDeleteOlderThanCountsThenDeletesWithRangeFilter(t *testing.T) {
	transport := &fakeTransport{
		handler: func(req *http.Request) (*http.Response, error) {
			if strings.HasSuffix(req.URL.Path, "/points/count") {
				return okResponse(t, map[string]any{"count": 7}), nil
			}
			return okResponse(t, map[string]any{"status": "completed"}), nil
		},
	}
	store := newTestVectorStore(t, transport)

	cutoff := time.Unix(1700000000, 0).UTC()
	deleted, err := store.DeleteOlderThan(context.Background(), "user:u1", cutoff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 7 {
		t.Fatalf("want=7 got=%d", deleted)
	}
	if len(transport.calls) != 2 {
		t.Fatalf("want=2 requests got=%d", len(transport.calls))
	}
	if !strings.HasSuffix(transport.calls[1].URL.Path, "/points/delete") {
		t.Fatalf("second request should delete, got %q", transport.calls[1].URL.Path)
	}

	filter := transport.bodies[1]["filter"].(map[string]any)
	must := filter["must"].([]any)
	if len(must) != 2 {
		t.Fatalf("want=2 filter clauses got=%d", len(must))
	}
	rangeClause := must[1].(map[string]any)
	if rangeClause["key"] != vecstore.MetadataInsertedAtKey {
		t.Fatalf("want=%s got=%v", vecstore.MetadataInsertedAtKey, rangeClause["key"])
	}
	lt := rangeClause["range"].(map[string]any)["lt"]
	if fmt.Sprintf("%v", lt) != fmt.Sprintf("%v", float64(cutoff.Unix())) {
		t.Fatalf("want lt=%d got=%v", cutoff.Unix(), lt)
	}
}

func TestDeleteOlderThanSkipsDeleteWhenNothingMatches(t *testing.T) {
	transport := &fakeTransport{
		handler: func(req *http.Request) (*http.Response, error) {
			return okResponse(t, map[string]any{"count": 0}), nil
		},
	}
	store := newTestVectorStore(t, transport)

	deleted, err := store.DeleteOlderThan(context.Background(), "user:u1", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("want=0 got=%d", deleted)
	}
	if len(transport.calls) != 1 {
		t.Fatalf("want=1 request got=%d", len(transport.calls))
	}
}

func TestDoJSONSurfacesHTTPStatusForRetryClassification(t *testing.T) {
	transport := &fakeTransport{
		handler: func(req *http.Request) (*http.Response, error) {
			return errorResponse(http.StatusServiceUnavailable, `{"status":{"error":"overloaded"}}`), nil
		},
	}
	store := newTestVectorStore(t, transport)

	_, err := store.Count(context.Background(), "user:u1")
	var opError *OperationError
	if !errors.As(err, &opError) {
		t.Fatalf("want OperationError got=%v", err)
	}
	if opError.HTTPStatusCode() != http.StatusServiceUnavailable {
		t.Fatalf("want=503 got=%d", opError.HTTPStatusCode())
	}
}

func TestDeleteIDsDeduplicatesAndMapsToPointIDs(t *testing.T) {
	transport := &fakeTransport{
		handler: func(req *http.Request) (*http.Response, error) {
			return okResponse(t, map[string]any{"status": "completed"}), nil
		},
	}
	store := newTestVectorStore(t, transport)

	err := store.DeleteIDs(context.Background(), "user:u1", []string{"chunk-1", "chunk-1", " ", "chunk-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	points := transport.bodies[0]["points"].([]any)
	if len(points) != 2 {
		t.Fatalf("want=2 point ids got=%d", len(points))
	}
	if points[0] == points[1] {
		t.Fatalf("point ids not deduplicated")
	}
}
