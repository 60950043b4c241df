package task

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validTask() *Task {
	due := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	return &Task{
		Title:       "Fix login",
		Description: "500 on empty password",
		Type:        TypeBug,
		Priority:    PriorityHigh,
		DueDate:     &due,
	}
}

func TestValidate(t *testing.T) {
	if err := validTask().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := map[string]func(*Task){
		"empty title":      func(t *Task) { t.Title = "  " },
		"long title":       func(t *Task) { t.Title = strings.Repeat("x", MaxTitleLen+1) },
		"no description":   func(t *Task) { t.Description = "" },
		"bad type":         func(t *Task) { t.Type = "Chore" },
		"bad status":       func(t *Task) { t.Status = "Done" },
		"bad priority":     func(t *Task) { t.Priority = "Urgent" },
		"missing due date": func(t *Task) { t.DueDate = nil },
	}
	for name, mutate := range cases {
		tk := validTask()
		mutate(tk)
		err := tk.Validate()
		if !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: expected ErrInvalid, got %v", name, err)
		}
	}
}

func TestValidateUpdates(t *testing.T) {
	ok := map[string]any{
		"title":    "New title",
		"type":     "Feature",
		"priority": PriorityLow,
		"status":   "In_Progress",
		"due_date": time.Now(),
	}
	if err := ValidateUpdates(ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := []map[string]any{
		{"title": ""},
		{"type": "Epic"},
		{"priority": 3},
		{"status": "Done"},
		{"due_date": "tomorrow"},
		{"created_by": "someone"},
	}
	for _, u := range bad {
		if err := ValidateUpdates(u); !errors.Is(err, ErrInvalid) {
			t.Errorf("%v: expected ErrInvalid, got %v", u, err)
		}
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range Statuses() {
		if !s.Valid() {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if Status("Done").Valid() {
		t.Error("expected Done to be invalid")
	}
}

func TestFilterCanonical(t *testing.T) {
	dep := int64(7)
	a := Filter{Status: StatusOpen, Type: TypeBug, DependsOn: &dep}
	b := Filter{DependsOn: &dep, Type: TypeBug, Status: StatusOpen, Page: 1, PerPage: DefaultPerPage}
	if a.Canonical() != b.Canonical() {
		t.Fatalf("equivalent filters should render the same: %q != %q", a.Canonical(), b.Canonical())
	}

	c := Filter{Status: StatusOpen, Type: TypeBug}
	if a.Canonical() == c.Canonical() {
		t.Fatalf("different filters should render differently: %q", a.Canonical())
	}

	d := Filter{AssignedTo: "u1"}
	e := Filter{CreatedBy: "u1"}
	if d.Canonical() == e.Canonical() {
		t.Fatalf("assignee and creator filters collided: %q", d.Canonical())
	}
}

func TestFilterNormalize(t *testing.T) {
	f := Filter{Page: -2, PerPage: 1000}.Normalize()
	if f.Page != 1 || f.PerPage != MaxPerPage {
		t.Errorf("expected page=1 per_page=%d, got page=%d per_page=%d", MaxPerPage, f.Page, f.PerPage)
	}
	if off := (Filter{Page: 3, PerPage: 10}).Offset(); off != 20 {
		t.Errorf("expected offset 20, got %d", off)
	}
}

func TestBuildWhere(t *testing.T) {
	dep := int64(3)
	where, args := buildWhere("deleted_at IS NULL", Filter{Status: StatusBlocked, DependsOn: &dep, NoDependents: true})
	if len(args) != 2 {
		t.Fatalf("expected 2 args, got %d", len(args))
	}
	for _, want := range []string{"deleted_at IS NULL", "status = $1", "depends_on_id = $2", "NOT EXISTS"} {
		if !strings.Contains(where, want) {
			t.Errorf("expected %q in %q", want, where)
		}
	}
}

func TestSameDay(t *testing.T) {
	a := time.Date(2026, 3, 4, 23, 59, 0, 0, time.UTC)
	b := time.Date(2026, 3, 4, 0, 1, 0, 0, time.UTC)
	if !SameDay(a, b) {
		t.Error("expected same day")
	}
	if SameDay(a, b.AddDate(0, 0, 1)) {
		t.Error("expected different days")
	}
}
