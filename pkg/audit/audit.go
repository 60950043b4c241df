// Package audit records every accepted status transition in an append-only,
// hash-chained log.
package audit

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strconv"
	"time"

	"taskgraph/pkg/task"
)

// ErrChainBroken is returned by VerifyChain when a record does not link to
// its predecessor or its hash does not match its content.
var ErrChainBroken = errors.New("audit chain broken")

// Record is one immutable status transition.
type Record struct {
	Seq       int64       `json:"seq"`
	ID        string      `json:"id"` // UUID v7
	TaskID    int64       `json:"task_id"`
	Previous  task.Status `json:"previous_status"`
	New       task.Status `json:"new_status"`
	Requested task.Status `json:"requested_status,omitempty"` // empty for cascade records
	ActorID   string      `json:"actor_id"`
	Cascade   bool        `json:"cascade"`
	// CauseTaskID is the task whose change triggered a cascade record.
	CauseTaskID int64     `json:"cause_task_id,omitempty"`
	RunID       string    `json:"run_id"` // groups the records of one request
	Timestamp   time.Time `json:"timestamp"`
	Hash        string    `json:"hash"`
	PrevHash    string    `json:"prev_hash"`
}

// Coerced reports whether an explicit request was recorded as a different status.
func (r *Record) Coerced() bool {
	return !r.Cascade && r.Requested != "" && r.Requested != r.New
}

// Store is the contract for audit persistence. Append must run inside the
// transaction that changed the status.
type Store interface {
	// Append assigns ID, Timestamp and the hash chain, then stores r.
	Append(ctx context.Context, r *Record) (*Record, error)

	// ByTask returns the records of one task, newest first.
	ByTask(ctx context.Context, taskID int64, limit int) ([]Record, error)

	// ByRun returns the records of one request in append order.
	ByRun(ctx context.Context, runID string) ([]Record, error)

	Recent(ctx context.Context, limit int) ([]Record, error)
	Count(ctx context.Context) (int, error)
	VerifyChain(ctx context.Context) error
	EnsureTable(ctx context.Context) error
}

// Sink receives records after their transaction committed.
type Sink interface {
	Publish(r Record)
}

func computeHash(prevHash string, r *Record) string {
	data := prevHash + "|" + r.ID + "|" +
		strconv.FormatInt(r.TaskID, 10) + "|" +
		string(r.Previous) + "|" + string(r.New) + "|" + string(r.Requested) + "|" +
		r.ActorID + "|" + strconv.FormatBool(r.Cascade) + "|" +
		strconv.FormatInt(r.CauseTaskID, 10) + "|" + r.RunID + "|" +
		strconv.FormatInt(r.Timestamp.UnixNano(), 10)
	h := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", h)
}

// Verifier checks records fed to it in append order.
type Verifier struct {
	prevHash string
	n        int
}

// Next checks one record against the chain so far.
func (v *Verifier) Next(r *Record) error {
	if r.PrevHash != v.prevHash {
		return fmt.Errorf("record %d (%s): prev_hash mismatch: got %s, want %s: %w", v.n, r.ID, r.PrevHash, v.prevHash, ErrChainBroken)
	}
	if want := computeHash(v.prevHash, r); r.Hash != want {
		return fmt.Errorf("record %d (%s): hash mismatch: got %s, want %s: %w", v.n, r.ID, r.Hash, want, ErrChainBroken)
	}
	v.prevHash = r.Hash
	v.n++
	return nil
}

// Seal prepares r for storage after the record whose hash is prevHash.
// Stores call it while holding the chain lock.
func Seal(r *Record, id string, now time.Time, prevHash string) {
	r.ID = id
	r.Timestamp = now
	r.PrevHash = prevHash
	r.Hash = computeHash(prevHash, r)
}
