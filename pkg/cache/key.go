// Package cache holds read-side projections of tasks. Entries are never
// authoritative; every mutation invalidates the keys it can affect.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"taskgraph/pkg/task"
)

// Kind is the projection a key addresses. It is also the key prefix.
type Kind string

const (
	KindTask    Kind = "task"
	KindList    Kind = "list"
	KindMine    Kind = "mine"
	KindTrashed Kind = "trashed"
	KindReport  Kind = "report"
)

// Kinds returns every kind.
func Kinds() []Kind {
	return []Kind{KindTask, KindList, KindMine, KindTrashed, KindReport}
}

// Key identifies one cache entry.
type Key struct {
	Kind    Kind
	TaskID  int64
	ActorID string
	Role    string
	// Filter is a fingerprint of the canonical filter, or a date for reports.
	Filter string
}

// String renders the storage key. Fields are emitted in a fixed order so
// equal keys always render the same.
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(string(k.Kind))
	b.WriteByte(':')
	if k.Kind == KindTask {
		b.WriteString(strconv.FormatInt(k.TaskID, 10))
		return b.String()
	}
	b.WriteString("role=")
	b.WriteString(k.Role)
	b.WriteString(":actor=")
	b.WriteString(k.ActorID)
	b.WriteString(":f=")
	b.WriteString(k.Filter)
	return b.String()
}

// Fingerprint hashes the canonical form of f.
func Fingerprint(f task.Filter) string {
	sum := sha256.Sum256([]byte(f.Canonical()))
	return hex.EncodeToString(sum[:8])
}

// TaskKey addresses the single view of a task.
func TaskKey(id int64) Key {
	return Key{Kind: KindTask, TaskID: id}
}

// ListKey addresses a filtered listing as seen by one actor. Admin
// listings are not actor-specific, so pass an empty actorID for them.
func ListKey(actorID, role string, f task.Filter) Key {
	return Key{Kind: KindList, ActorID: actorID, Role: role, Filter: Fingerprint(f)}
}

// MineKey addresses the tasks assigned to actorID.
func MineKey(actorID string, f task.Filter) Key {
	return Key{Kind: KindMine, ActorID: actorID, Filter: Fingerprint(f)}
}

// TrashedKey addresses the trashed listing for a role. actorID is set only
// when the role sees a restricted subset.
func TrashedKey(role, actorID string, f task.Filter) Key {
	return Key{Kind: KindTrashed, ActorID: actorID, Role: role, Filter: Fingerprint(f)}
}

// ReportKey addresses the daily report for the UTC day of day.
func ReportKey(day time.Time) Key {
	return Key{Kind: KindReport, Filter: day.UTC().Format(time.DateOnly)}
}
