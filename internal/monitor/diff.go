package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/state"
)

// portsViewKey is the snapshot slot holding the last rendered port list.
const portsViewKey = "ports-view"

// PortsDiff is the change between the last saved port list and the
// current one.
type PortsDiff struct {
	Previous time.Time `json:"previous,omitempty"`
	Current  time.Time `json:"current"`
	Changed  bool      `json:"changed"`
	Unified  string    `json:"unified,omitempty"`
}

// RenderPorts writes one line per entry in a stable order, suitable for
// diffing.
func RenderPorts(entries []firewall.Entry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%-13s %-24s", e.Key(), strings.Join(e.Zones, ","))
		for _, z := range e.Zones {
			fmt.Fprintf(&b, " %s=%s", z, e.Permanence[z])
		}
		if len(e.Services) > 0 {
			fmt.Fprintf(&b, " services=%s", strings.Join(e.Services, ","))
		}
		fmt.Fprintf(&b, " name=%q\n", e.DisplayName())
	}
	return b.String()
}

// DiffPorts compares the current port list with the one saved by the
// previous call and saves the current list.
func (s *Service) DiffPorts(ctx context.Context) (*PortsDiff, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	view, err := s.Ports(ctx)
	if err != nil {
		return nil, err
	}
	current := RenderPorts(view.Entries)

	out := &PortsDiff{Current: view.CollectedAt}
	prevAt, prev, err := s.store.LoadSnapshot(portsViewKey)
	switch {
	case errors.Is(err, state.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load previous port list: %w", err)
	default:
		out.Previous = prevAt
	}

	if string(prev) != current {
		out.Changed = true
		diff := difflib.UnifiedDiff{
			A:        difflib.SplitLines(string(prev)),
			B:        difflib.SplitLines(current),
			FromFile: "previous",
			ToFile:   "current",
			Context:  3,
		}
		if !out.Previous.IsZero() {
			diff.FromDate = out.Previous.Format(time.RFC3339)
		}
		diff.ToDate = out.Current.Format(time.RFC3339)
		out.Unified, err = difflib.GetUnifiedDiffString(diff)
		if err != nil {
			return nil, fmt.Errorf("diff port lists: %w", err)
		}
	}

	if err := s.store.SaveSnapshot(portsViewKey, view.CollectedAt, []byte(current)); err != nil {
		return nil, fmt.Errorf("save port list: %w", err)
	}
	return out, nil
}
