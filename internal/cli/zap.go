package cli

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Atif-27/AutoChain/internal/ids"
	"github.com/Atif-27/AutoChain/internal/store"
	"github.com/Atif-27/AutoChain/internal/workflow"
	"github.com/Atif-27/AutoChain/internal/zapdef"
)

// ZapView is the output form of a zap.
type ZapView struct {
	ID       string       `json:"id"`
	UserID   string       `json:"userId"`
	Name     string       `json:"name"`
	Trigger  string       `json:"trigger"`
	Actions  []ActionView `json:"actions"`
	HookPath string       `json:"hookPath"`
}

// ActionView is the output form of one action.
type ActionView struct {
	Stage    int               `json:"stage"`
	Type     string            `json:"type"`
	Metadata map[string]string `json:"metadata"`
}

func newZapView(zap workflow.Zap) ZapView {
	v := ZapView{
		ID:       zap.ID,
		UserID:   zap.UserID,
		Name:     zap.Name,
		Trigger:  zap.Trigger.TypeID,
		Actions:  make([]ActionView, 0, len(zap.Actions)),
		HookPath: fmt.Sprintf("/hooks/catch/%s/%s", zap.UserID, zap.ID),
	}
	for _, a := range zap.Actions {
		v.Actions = append(v.Actions, ActionView{Stage: a.SortingOrder, Type: a.TypeID, Metadata: a.Metadata})
	}
	return v
}

func (v ZapView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Zap %s", v.ID)
	if v.Name != "" {
		fmt.Fprintf(&b, " (%s)", v.Name)
	}
	fmt.Fprintf(&b, "\n  user:    %s\n  trigger: %s\n  hook:    POST %s\n", v.UserID, v.Trigger, v.HookPath)
	for _, a := range v.Actions {
		fmt.Fprintf(&b, "  stage %d: %s", a.Stage, a.Type)
		for _, k := range slices.Sorted(maps.Keys(a.Metadata)) {
			fmt.Fprintf(&b, " %s=%q", k, a.Metadata[k])
		}
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewZapCommand creates the zap command group.
func NewZapCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zap",
		Short: "Create, validate and inspect zaps",
	}
	cmd.AddCommand(newZapCreateCommand(rootOpts))
	cmd.AddCommand(newZapValidateCommand(rootOpts))
	cmd.AddCommand(newZapShowCommand(rootOpts))
	return cmd
}

func newZapCreateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <file.cue|file.yaml>",
		Short: "Create a zap from a definition file",
		Long: `Create a zap from a CUE or YAML definition file.

The definition is checked against the zap schema and every trigger and
action type must exist in the catalog.

Examples:
  autochain zap create ./examples/welcome.cue
  autochain zap create ./examples/welcome.yaml --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runZapCreate(opts, args[0], cmd)
		},
	}
}

func runZapCreate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	def, err := zapdef.LoadFile(path)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeDefinition, "invalid zap definition", err)
	}
	formatter.VerboseLog("Loaded definition with %d action(s) from %s", len(def.Actions), path)

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
	if err := def.CheckCatalog(triggers, actions); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeUnknownType, "zap uses unknown types", err)
	}

	zap, err := a.store.CreateZap(ctx, def.ToZap(ids.UUIDv7Generator{}))
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to create zap", err)
	}
	return formatter.Success(newZapView(zap))
}

// ValidationResult is the output of zap validate.
type ValidationResult struct {
	Valid   bool   `json:"valid"`
	Actions int    `json:"actions"`
	File    string `json:"file"`
}

func (r ValidationResult) String() string {
	return fmt.Sprintf("✓ %s is valid (%d action(s))", r.File, r.Actions)
}

func newZapValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file.cue|file.yaml>",
		Short: "Validate a definition file without touching the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(opts, cmd)
			def, err := zapdef.LoadFile(args[0])
			if err != nil {
				return formatter.Fail(ExitFailure, ErrCodeDefinition, "invalid zap definition", err)
			}
			return formatter.Success(ValidationResult{Valid: true, Actions: len(def.Actions), File: args[0]})
		},
	}
}

func newZapShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <zap-id>",
		Short: "Show a zap with its trigger and actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(opts, cmd)
			ctx := cmd.Context()
			a, err := newApp(ctx, opts, cmd, nil)
			if err != nil {
				return formatter.Fail(GetExitCode(err), ErrCodeConfig, err.Error(), nil)
			}
			defer a.Close(ctx)

			zap, err := a.store.GetZap(ctx, args[0])
			if errors.Is(err, store.ErrNotFound) {
				return formatter.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("zap %s not found", args[0]), nil)
			}
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read zap", err)
			}
			return formatter.Success(newZapView(zap))
		},
	}
}
