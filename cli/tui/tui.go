package tui

import (
	"fmt"
	"slices"
	"strings"
)

// Views with a static TUI rendering.
const (
	ViewInspectFile = "inspect_file"
	ViewState       = "state"
)

// Run shows data in the static TUI for view.
func Run(view string, data any) error {
	if !IsTUISupported(view) {
		return fmt.Errorf("TUI mode is not supported for %s", view)
	}
	return RunInspectTUI(view, data)
}

// IsTUISupported reports whether view has a TUI rendering. Case is ignored.
func IsTUISupported(view string) bool {
	return slices.Contains(SupportedTUIViews(), strings.ToLower(view))
}

// SupportedTUIViews lists the views accepted by Run.
func SupportedTUIViews() []string {
	return []string{ViewInspectFile, ViewState}
}
