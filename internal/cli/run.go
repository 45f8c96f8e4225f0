package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Atif-27/AutoChain/internal/store"
	"github.com/Atif-27/AutoChain/internal/workflow"
)

// RunView is the output form of a run.
type RunView struct {
	ID        string         `json:"id"`
	ZapID     string         `json:"zapId"`
	CreatedAt time.Time      `json:"createdAt"`
	Relayed   bool           `json:"relayed"`
	Payload   map[string]any `json:"payload"`
}

func (v RunView) String() string {
	payload, err := workflow.EncodePayload(v.Payload)
	if err != nil {
		payload = []byte(fmt.Sprint(v.Payload))
	}
	status := "pending relay"
	if v.Relayed {
		status = "relayed"
	}
	return fmt.Sprintf("Run %s of zap %s\n  created: %s\n  status:  %s\n  payload: %s",
		v.ID, v.ZapID, v.CreatedAt.Format(time.RFC3339), status, payload)
}

// RunList is the output of run list.
type RunList []RunView

func (l RunList) String() string {
	if len(l) == 0 {
		return "No runs."
	}
	var b strings.Builder
	for i, v := range l {
		if i > 0 {
			b.WriteString("\n")
		}
		status := "pending"
		if v.Relayed {
			status = "relayed"
		}
		fmt.Fprintf(&b, "%s  %s  %s", v.ID, v.CreatedAt.Format(time.RFC3339), status)
	}
	return b.String()
}

// NewRunCommand creates the run command group.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Inspect zap runs",
	}
	cmd.AddCommand(newRunShowCommand(rootOpts))
	cmd.AddCommand(newRunListCommand(rootOpts))
	return cmd
}

func newRunShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run's payload snapshot and relay status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(opts, cmd)
			ctx := cmd.Context()
			a, err := newApp(ctx, opts, cmd, nil)
			if err != nil {
				return formatter.Fail(GetExitCode(err), ErrCodeConfig, err.Error(), nil)
			}
			defer a.Close(ctx)

			run, err := a.store.GetRun(ctx, args[0])
			if errors.Is(err, store.ErrNotFound) {
				return formatter.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("run %s not found", args[0]), nil)
			}
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read run", err)
			}
			view, err := newRunView(cmd, a.store, run)
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read relay status", err)
			}
			return formatter.Success(view)
		},
	}
}

func newRunListCommand(opts *RootOptions) *cobra.Command {
	var zapID string
	cmd := &cobra.Command{
		Use:   "list --zap <zap-id>",
		Short: "List the runs of a zap, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(opts, cmd)
			ctx := cmd.Context()
			a, err := newApp(ctx, opts, cmd, nil)
			if err != nil {
				return formatter.Fail(GetExitCode(err), ErrCodeConfig, err.Error(), nil)
			}
			defer a.Close(ctx)

			runs, err := a.store.ListRuns(ctx, zapID)
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to list runs", err)
			}
			list := make(RunList, 0, len(runs))
			for _, run := range runs {
				view, err := newRunView(cmd, a.store, run)
				if err != nil {
					return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read relay status", err)
				}
				list = append(list, view)
			}
			return formatter.Success(list)
		},
	}
	cmd.Flags().StringVar(&zapID, "zap", "", "zap id (required)")
	_ = cmd.MarkFlagRequired("zap")
	return cmd
}

func newRunView(cmd *cobra.Command, s *store.Store, run workflow.Run) (RunView, error) {
	pending, err := s.PendingRelaysForRun(cmd.Context(), run.ID)
	if err != nil {
		return RunView{}, err
	}
	return RunView{
		ID:        run.ID,
		ZapID:     run.ZapID,
		CreatedAt: run.CreatedAt,
		Relayed:   len(pending) == 0,
		Payload:   run.Metadata,
	}, nil
}
