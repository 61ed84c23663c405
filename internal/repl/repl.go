// internal/repl/repl.go
package repl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Chinzzii/undo-replication-go/internal/record"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Op is the kind of change being replicated.
type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// ReplicateRequest is the payload sent from a leader to a follower
// to replicate a single accepted change.
type ReplicateRequest struct {
	Op     Op             `json:"op"`
	ID     uuid.UUID      `json:"id"`
	Record *record.Record `json:"record,omitempty"` // set for upserts
	TS     time.Time      `json:"ts"`               // TS orders changes to the same ID
	ReqID  string         `json:"req_id"`           // ReqID for tracing/logging
}

// ReplicateResponse is the ACK response from a follower.
type ReplicateResponse struct {
	Status  string `json:"status"`  // e.g., "ok"
	Applied bool   `json:"applied"` // false when the change was stale
}

// Validate checks that the request is well formed.
func (r ReplicateRequest) Validate() error {
	if r.ID == uuid.Nil {
		return fmt.Errorf("replicate request has no id")
	}
	switch r.Op {
	case OpUpsert:
		if r.Record == nil {
			return fmt.Errorf("upsert request has no record")
		}
		if r.Record.ID() != r.ID {
			return fmt.Errorf("record id %s does not match request id %s", r.Record.ID(), r.ID)
		}
	case OpDelete:
	default:
		return fmt.Errorf("unknown op %q", r.Op)
	}
	return nil
}

// PostReplicate sends a single replication request to a follower node.
// It takes a pre-configured http.Client, the base URL of the follower,
// and the request body. The span in ctx, if any, travels in the headers.
func PostReplicate(ctx context.Context, client *http.Client, baseURL string, body ReplicateRequest) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal replicate request: %w", err)
	}

	// Construct the full URL, e.g., "http://follower1:8081/replicate"
	url := fmt.Sprintf("%s/replicate", baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build request to %s: %w", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := client.Do(req)
	if err != nil {
		// This handles network errors (e.g., connection refused)
		return fmt.Errorf("http post to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// The follower received the request but rejected it.
		return fmt.Errorf("non-200 status from follower %s: %s", url, resp.Status)
	}

	return nil
}
