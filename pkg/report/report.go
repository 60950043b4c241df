// Package report builds the daily task snapshot.
package report

import (
	"context"
	"fmt"
	"time"

	"taskgraph/pkg/cache"
	"taskgraph/pkg/store"
	"taskgraph/pkg/task"
)

// Daily summarizes the live tasks created on one UTC day.
type Daily struct {
	Date       string              `json:"date"`
	Total      int                 `json:"total"`
	ByStatus   map[task.Status]int `json:"by_status"`
	ByType     map[task.Type]int   `json:"by_type"`
	Unassigned int                 `json:"unassigned"`
	Tasks      []task.Task         `json:"tasks"`
}

// Reporter reads reports through the cache.
type Reporter struct {
	runner store.Runner
	cache  *cache.Coordinator
}

// New creates a Reporter.
func New(r store.Runner, c *cache.Coordinator) *Reporter {
	return &Reporter{runner: r, cache: c}
}

// Daily returns the report for the UTC day containing day.
func (r *Reporter) Daily(ctx context.Context, day time.Time) (*Daily, error) {
	day = day.UTC()
	return cache.GetOrCompute(ctx, r.cache, cache.ReportKey(day), func(ctx context.Context) (*Daily, error) {
		var tasks []task.Task
		err := r.runner.View(ctx, func(tx store.Tx) error {
			var err error
			tasks, err = tx.Tasks().CreatedOn(ctx, day)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("daily report %s: %w", day.Format(time.DateOnly), err)
		}
		return summarize(day, tasks), nil
	})
}

func summarize(day time.Time, tasks []task.Task) *Daily {
	d := &Daily{
		Date:     day.Format(time.DateOnly),
		Total:    len(tasks),
		ByStatus: make(map[task.Status]int),
		ByType:   make(map[task.Type]int),
		Tasks:    tasks,
	}
	if d.Tasks == nil {
		d.Tasks = []task.Task{}
	}
	for _, t := range tasks {
		d.ByStatus[t.Status]++
		d.ByType[t.Type]++
		if t.AssignedTo == "" {
			d.Unassigned++
		}
	}
	return d
}

// ParseDay parses a YYYY-MM-DD date. An empty string means today.
func ParseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", task.ErrInvalid)
	}
	return d, nil
}
