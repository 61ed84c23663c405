// internal/repl/replicator.go
package repl

import (
	"context"
	"io"
	"log"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/Chinzzii/undo-replication-go/internal/persist"
	"github.com/Chinzzii/undo-replication-go/internal/record"
	"github.com/google/uuid"
)

// Replicator is the leader's persistence: every change goes to the
// primary backend first, then is broadcast to the follower peers.
// A primary failure fails the change; follower failures are only logged.
type Replicator struct {
	primary persist.Persistence
	client  *http.Client
	peers   []string
	async   bool
	log     *log.Logger

	mu      sync.Mutex      // mu protects blocked
	blocked map[string]bool // peers skipped to simulate partitions
	wg      sync.WaitGroup  // tracks in-flight async broadcasts
}

// Config configures a Replicator.
type Config struct {
	Peers  []string     // follower base URLs
	Async  bool         // don't wait for followers before returning
	Client *http.Client // defaults to a client with a 5s timeout
	Logger *log.Logger
}

// NewReplicator creates a Replicator writing through to primary.
func NewReplicator(primary persist.Persistence, cfg Config) *Replicator {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Replicator{
		primary: primary,
		client:  client,
		peers:   cfg.Peers,
		async:   cfg.Async,
		log:     logger,
		blocked: map[string]bool{},
	}
}

// Upsert writes r to the primary backend and replicates it.
func (r *Replicator) Upsert(ctx context.Context, rec record.Record) error {
	if err := r.primary.Upsert(ctx, rec); err != nil {
		return err
	}
	r.broadcast(ctx, ReplicateRequest{
		Op:     OpUpsert,
		ID:     rec.ID(),
		Record: &rec,
		TS:     time.Now().UTC(),
		ReqID:  uuid.NewString(),
	})
	return nil
}

// Delete removes id from the primary backend and replicates the delete.
func (r *Replicator) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.primary.Delete(ctx, id); err != nil {
		return err
	}
	r.broadcast(ctx, ReplicateRequest{
		Op:    OpDelete,
		ID:    id,
		TS:    time.Now().UTC(),
		ReqID: uuid.NewString(),
	})
	return nil
}

// Peers returns a copy of the follower URLs this replicator broadcasts to.
func (r *Replicator) Peers() []string { return slices.Clone(r.peers) }

// Block stops replication to peer until Unblock is called.
func (r *Replicator) Block(peer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log.Printf("!!! blocking peer: %s", peer)
	r.blocked[peer] = true
}

// Unblock resumes replication to peer.
func (r *Replicator) Unblock(peer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log.Printf("!!! unblocking peer: %s", peer)
	delete(r.blocked, peer)
}

// Blocked returns a copy of the blocked peer set.
func (r *Replicator) Blocked() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bool, len(r.blocked))
	for k, v := range r.blocked {
		out[k] = v
	}
	return out
}

// Wait blocks until every in-flight async broadcast has finished.
func (r *Replicator) Wait() { r.wg.Wait() }

// broadcast sends req to every unblocked peer concurrently.
// In sync mode it blocks until all peers have answered.
func (r *Replicator) broadcast(ctx context.Context, req ReplicateRequest) {
	if len(r.peers) == 0 {
		return
	}
	r.log.Printf("[ReqID %s] broadcasting %s %s to %d peers", req.ReqID, req.Op, req.ID, len(r.peers))

	if r.async {
		// The caller's context may end as soon as we return.
		ctx = context.WithoutCancel(ctx)
	}

	var wg sync.WaitGroup
	for _, peerURL := range r.peers {
		wg.Add(1)
		r.wg.Add(1)
		go func(url string) {
			defer r.wg.Done()
			defer wg.Done()

			r.mu.Lock()
			isBlocked := r.blocked[url]
			r.mu.Unlock()

			if isBlocked {
				r.log.Printf("[ReqID %s] skipped replication to %s (blocked)", req.ReqID, url)
				return
			}

			if err := PostReplicate(ctx, r.client, url, req); err != nil {
				r.log.Printf("[ReqID %s] ERROR replicating to %s: %v", req.ReqID, url, err)
			} else {
				r.log.Printf("[ReqID %s] replicated to %s successfully", req.ReqID, url)
			}
		}(peerURL)
	}

	if !r.async {
		wg.Wait()
	}
}
