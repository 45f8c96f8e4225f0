package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Atif-27/AutoChain/internal/workflow"
)

// CatalogEntry is one available trigger or action.
type CatalogEntry struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// CatalogView lists the trigger and action types zaps may use.
type CatalogView struct {
	Triggers []CatalogEntry `json:"triggers"`
	Actions  []CatalogEntry `json:"actions"`
}

func (v CatalogView) String() string {
	var b strings.Builder
	b.WriteString("Triggers:\n")
	for _, t := range v.Triggers {
		fmt.Fprintf(&b, "  %-10s %s\n", t.ID, t.Name)
	}
	b.WriteString("Actions:")
	for _, a := range v.Actions {
		fmt.Fprintf(&b, "\n  %-10s %s", a.ID, a.Name)
	}
	return b.String()
}

// NewCatalogCommand creates the catalog command.
func NewCatalogCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List available trigger and action types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(opts, cmd)
			ctx := cmd.Context()
			a, err := newApp(ctx, opts, cmd, nil)
			if err != nil {
				return formatter.Fail(GetExitCode(err), ErrCodeConfig, err.Error(), nil)
			}
			defer a.Close(ctx)

			triggers, err := a.store.AvailableTriggers(ctx)
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read catalog", err)
			}
			actions, err := a.store.AvailableActions(ctx)
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read catalog", err)
			}
			return formatter.Success(newCatalogView(triggers, actions))
		},
	}
}

func newCatalogView(triggers []workflow.AvailableTrigger, actions []workflow.AvailableAction) CatalogView {
	v := CatalogView{
		Triggers: make([]CatalogEntry, 0, len(triggers)),
		Actions:  make([]CatalogEntry, 0, len(actions)),
	}
	for _, t := range triggers {
		v.Triggers = append(v.Triggers, CatalogEntry{ID: t.ID, Name: t.Name, Image: t.Image})
	}
	for _, a := range actions {
		v.Actions = append(v.Actions, CatalogEntry{ID: a.ID, Name: a.Name, Image: a.Image})
	}
	return v
}
