package store

import (
	"context"

	"github.com/google/uuid"

	"taskgraph/pkg/audit"
)

type memAudit struct{ st *memState }

func (s memAudit) EnsureTable(context.Context) error { return nil }

func (s memAudit) Append(_ context.Context, r *audit.Record) (*audit.Record, error) {
	prev := ""
	if n := len(s.st.records); n > 0 {
		prev = s.st.records[n-1].Hash
	}
	out := *r
	audit.Seal(&out, uuid.Must(uuid.NewV7()).String(), now(), prev)
	out.Seq = int64(len(s.st.records) + 1)
	s.st.records = append(s.st.records, out)
	return &out, nil
}

func (s memAudit) ByTask(_ context.Context, taskID int64, limit int) ([]audit.Record, error) {
	var out []audit.Record
	for i := len(s.st.records) - 1; i >= 0 && len(out) < limit; i-- {
		if s.st.records[i].TaskID == taskID {
			out = append(out, s.st.records[i])
		}
	}
	return out, nil
}

func (s memAudit) ByRun(_ context.Context, runID string) ([]audit.Record, error) {
	var out []audit.Record
	for _, r := range s.st.records {
		if r.RunID == runID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s memAudit) Recent(_ context.Context, limit int) ([]audit.Record, error) {
	var out []audit.Record
	for i := len(s.st.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.st.records[i])
	}
	return out, nil
}

func (s memAudit) Count(context.Context) (int, error) {
	return len(s.st.records), nil
}

func (s memAudit) VerifyChain(context.Context) error {
	var v audit.Verifier
	for i := range s.st.records {
		if err := v.Next(&s.st.records[i]); err != nil {
			return err
		}
	}
	return nil
}
