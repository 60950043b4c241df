package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a task id does not resolve to a row
	// visible to the query (live rows only unless stated otherwise).
	ErrNotFound = errors.New("task not found")
	// ErrInvalid wraps validation failures on task fields.
	ErrInvalid = errors.New("invalid task")
	// ErrStale is returned by SetStatus when the row version moved underneath the caller.
	ErrStale = errors.New("task version is stale")
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusOpen       Status = "Open"
	StatusInProgress Status = "In_Progress"
	StatusCompleted  Status = "Completed"
	StatusBlocked    Status = "Blocked"
)

// Statuses returns the four valid statuses in display order.
func Statuses() []Status {
	return []Status{StatusOpen, StatusInProgress, StatusCompleted, StatusBlocked}
}

// Valid reports whether s is one of the four statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusCompleted, StatusBlocked:
		return true
	}
	return false
}

// Type classifies the work.
type Type string

const (
	TypeBug         Type = "Bug"
	TypeFeature     Type = "Feature"
	TypeImprovement Type = "Improvement"
)

func (t Type) Valid() bool {
	return t == TypeBug || t == TypeFeature || t == TypeImprovement
}

// Priority is optional; the zero value means unset.
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

func (p Priority) Valid() bool {
	return p == "" || p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// MaxTitleLen bounds Task.Title.
const MaxTitleLen = 100

// Task is a unit of tracked work. Status is owned by the status state
// machine; callers outside the engine must not write it directly.
type Task struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Type        Type       `json:"type"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CreatedBy   string     `json:"created_by"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// Trashed reports whether the task is soft-deleted.
func (t *Task) Trashed() bool { return t.DeletedAt != nil }

// Validate checks the fields required at creation time.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if len(t.Title) > MaxTitleLen {
		return fmt.Errorf("%w: title may not be longer than %d characters", ErrInvalid, MaxTitleLen)
	}
	if strings.TrimSpace(t.Description) == "" {
		return fmt.Errorf("%w: description is required", ErrInvalid)
	}
	if !t.Type.Valid() {
		return fmt.Errorf("%w: type must be one of Bug, Feature, Improvement", ErrInvalid)
	}
	if t.Status != "" && !t.Status.Valid() {
		return fmt.Errorf("%w: status must be one of Open, In_Progress, Completed, Blocked", ErrInvalid)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("%w: priority must be one of Low, Medium, High", ErrInvalid)
	}
	if t.DueDate == nil {
		return fmt.Errorf("%w: due date is required", ErrInvalid)
	}
	return nil
}

// ValidateUpdates checks a partial update map. Supported keys: title,
// description, type, priority, due_date, assigned_to, status.
func ValidateUpdates(updates map[string]any) error {
	for k, v := range updates {
		switch k {
		case "title":
			s, ok := v.(string)
			if !ok || strings.TrimSpace(s) == "" || len(s) > MaxTitleLen {
				return fmt.Errorf("%w: title must be a non-empty string of at most %d characters", ErrInvalid, MaxTitleLen)
			}
		case "description", "assigned_to":
			if _, ok := v.(string); !ok {
				return fmt.Errorf("%w: %s must be a string", ErrInvalid, k)
			}
		case "type":
			if !asType(v).Valid() {
				return fmt.Errorf("%w: type must be one of Bug, Feature, Improvement", ErrInvalid)
			}
		case "priority":
			if !asPriority(v).Valid() {
				return fmt.Errorf("%w: priority must be one of Low, Medium, High", ErrInvalid)
			}
		case "status":
			if !asStatus(v).Valid() {
				return fmt.Errorf("%w: status must be one of Open, In_Progress, Completed, Blocked", ErrInvalid)
			}
		case "due_date":
			switch v.(type) {
			case time.Time, *time.Time:
			default:
				return fmt.Errorf("%w: due_date must be a time", ErrInvalid)
			}
		default:
			return fmt.Errorf("%w: unsupported field %q", ErrInvalid, k)
		}
	}
	return nil
}

func asType(v any) Type {
	switch x := v.(type) {
	case Type:
		return x
	case string:
		return Type(x)
	}
	return ""
}

func asPriority(v any) Priority {
	switch x := v.(type) {
	case Priority:
		return x
	case string:
		return Priority(x)
	}
	return "invalid"
}

func asStatus(v any) Status {
	switch x := v.(type) {
	case Status:
		return x
	case string:
		return Status(x)
	}
	return ""
}

// Filter narrows List and Trashed. Zero fields do not filter.
type Filter struct {
	Status     Status     `json:"status,omitempty"`
	Priority   Priority   `json:"priority,omitempty"`
	Type       Type       `json:"type,omitempty"`
	AssignedTo string     `json:"assigned_to,omitempty"`
	CreatedBy  string     `json:"created_by,omitempty"`
	DueDate    *time.Time `json:"due_date,omitempty"`
	// DependsOn selects tasks that depend on the given task id.
	DependsOn *int64 `json:"depends_on,omitempty"`
	// NoDependents selects tasks nothing depends on.
	NoDependents bool `json:"no_dependents,omitempty"`
	Page         int  `json:"page,omitempty"`
	PerPage      int  `json:"per_page,omitempty"`
}

// DefaultPerPage applies when Filter.PerPage is zero.
const DefaultPerPage = 15

// MaxPerPage caps Filter.PerPage.
const MaxPerPage = 100

// Normalize clamps paging to sane values.
func (f Filter) Normalize() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = DefaultPerPage
	}
	if f.PerPage > MaxPerPage {
		f.PerPage = MaxPerPage
	}
	return f
}

// Offset returns the row offset of the normalized page.
func (f Filter) Offset() int {
	n := f.Normalize()
	return (n.Page - 1) * n.PerPage
}

// Canonical renders the filter as sorted key=value pairs joined by '&'.
// Two filters that select the same rows render identically.
func (f Filter) Canonical() string {
	f = f.Normalize()
	pairs := []string{
		"page=" + strconv.Itoa(f.Page),
		"per_page=" + strconv.Itoa(f.PerPage),
	}
	if f.Status != "" {
		pairs = append(pairs, "status="+string(f.Status))
	}
	if f.Priority != "" {
		pairs = append(pairs, "priority="+string(f.Priority))
	}
	if f.Type != "" {
		pairs = append(pairs, "type="+string(f.Type))
	}
	if f.AssignedTo != "" {
		pairs = append(pairs, "assigned_to="+f.AssignedTo)
	}
	if f.CreatedBy != "" {
		pairs = append(pairs, "created_by="+f.CreatedBy)
	}
	if f.DueDate != nil {
		pairs = append(pairs, "due_date="+f.DueDate.UTC().Format(time.DateOnly))
	}
	if f.DependsOn != nil {
		pairs = append(pairs, "depends_on="+strconv.FormatInt(*f.DependsOn, 10))
	}
	if f.NoDependents {
		pairs = append(pairs, "no_dependents=true")
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "&")
}

// Page is one page of a filtered listing.
type Page struct {
	Tasks   []Task `json:"tasks"`
	Total   int    `json:"total"`
	Page    int    `json:"page"`
	PerPage int    `json:"per_page"`
}

// SameDay reports whether a and b fall on the same UTC calendar day.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// Store is the contract for task persistence. Get, Statuses, List and
// CreatedOn see live rows only; GetAny, Lock and Trashed see trashed rows too.
type Store interface {
	Create(ctx context.Context, t *Task) (*Task, error)
	Get(ctx context.Context, id int64) (*Task, error)
	GetAny(ctx context.Context, id int64) (*Task, error)

	// Lock returns the requested rows and holds a write lock on them until
	// the surrounding transaction ends. Missing ids are absent from the map.
	Lock(ctx context.Context, ids []int64) (map[int64]*Task, error)

	// Statuses returns the status of each live task in ids.
	Statuses(ctx context.Context, ids []int64) (map[int64]Status, error)

	// Update applies non-status field changes. Supported keys: title,
	// description, type, priority, due_date, assigned_to.
	Update(ctx context.Context, id int64, updates map[string]any) (*Task, error)

	// SetStatus writes status if the row is still at version, bumping it.
	SetStatus(ctx context.Context, id int64, status Status, version int64) (*Task, error)

	List(ctx context.Context, f Filter) (*Page, error)
	Trashed(ctx context.Context, f Filter) (*Page, error)
	CreatedOn(ctx context.Context, day time.Time) ([]Task, error)

	SoftDelete(ctx context.Context, id int64) (*Task, error)
	Restore(ctx context.Context, id int64) (*Task, error)
	Delete(ctx context.Context, id int64) error

	Count(ctx context.Context) (int, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
	EnsureTable(ctx context.Context) error
}
