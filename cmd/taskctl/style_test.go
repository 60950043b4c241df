package main

import (
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestStatusColor(t *testing.T) {
	color.NoColor = true
	for _, s := range []string{"Open", "In_Progress", "Completed", "Blocked"} {
		if got := StatusColor(s); !strings.Contains(got, s) {
			t.Errorf("expected %q in %q", s, got)
		}
	}
}
