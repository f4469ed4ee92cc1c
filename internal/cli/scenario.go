package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/paywatch/internal/harness"
)

// ScenarioOptions holds flags for the scenario command.
type ScenarioOptions struct {
	*RootOptions
	Filter string // scenario filter (glob pattern)
	Golden string // directory of golden traces to compare against
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Events int      `json:"events"`
	Errors []string `json:"errors,omitempty"`
}

// ScenarioRun holds the overall scenario run.
type ScenarioRun struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

func (r ScenarioRun) String() string {
	var b strings.Builder
	for _, s := range r.Scenarios {
		mark := "PASS"
		if !s.Pass {
			mark = "FAIL"
		}
		fmt.Fprintf(&b, "%s  %s (%d events)\n", mark, s.Name, s.Events)
		for _, e := range s.Errors {
			fmt.Fprintf(&b, "      %s\n", strings.ReplaceAll(strings.TrimSpace(e), "\n", "\n      "))
		}
	}
	fmt.Fprintf(&b, "\n%d passed, %d failed, %d total", r.Passed, r.Failed, r.Total)
	return b.String()
}

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scenario <scenarios-dir>",
		Short: "Run payment scenarios end to end",
		Long: `Run YAML payment scenarios against a fresh database each, with an
in-memory ledger and a fake clock.

With --golden, each scenario's event trace must also equal
<golden-dir>/<name>.golden byte for byte.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, malformed scenario, etc.)

Examples:
  paywatch scenario ./internal/harness/testdata/scenarios
  paywatch scenario ./scenarios --filter "restart_*"
  paywatch scenario ./scenarios --golden ./golden --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.Golden, "golden", "", "directory of golden traces")

	return cmd
}

func runScenarios(opts *ScenarioOptions, dir string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir))
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list scenarios", err)
	}
	if len(paths) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("no scenario files found in %s", dir))
	}

	run := ScenarioRun{Scenarios: []ScenarioResult{}}
	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		if opts.Filter != "" {
			matched, err := filepath.Match(opts.Filter, name)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --filter pattern", err)
			}
			if !matched {
				continue
			}
		}

		out.VerboseLog("running %s", path)
		res, err := runScenario(ctx, path, opts.Golden)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("scenario %s", name), err)
		}
		run.Scenarios = append(run.Scenarios, res)
		run.Total++
		if res.Pass {
			run.Passed++
		} else {
			run.Failed++
		}
	}

	if err := out.Success(run); err != nil {
		return err
	}
	if run.Failed > 0 {
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d of %d scenarios failed", run.Failed, run.Total)}
	}
	return nil
}

func runScenario(ctx context.Context, path, goldenDir string) (ScenarioResult, error) {
	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return ScenarioResult{}, err
	}
	result, err := harness.Run(ctx, scenario)
	if err != nil {
		return ScenarioResult{}, err
	}

	res := ScenarioResult{
		Name:   scenario.Name,
		Pass:   result.Pass,
		Events: len(result.Trace),
		Errors: result.Errors,
	}
	if goldenDir == "" {
		return res, nil
	}

	got, err := harness.MarshalTrace(scenario.Name, result)
	if err != nil {
		return ScenarioResult{}, err
	}
	want, err := os.ReadFile(filepath.Join(goldenDir, scenario.Name+".golden"))
	if err != nil {
		res.Pass = false
		res.Errors = append(res.Errors, fmt.Sprintf("golden trace: %v", err))
		return res, nil
	}
	if !bytes.Equal(bytes.TrimSpace(want), got) {
		res.Pass = false
		res.Errors = append(res.Errors, fmt.Sprintf("trace differs from golden file\n  want: %s\n  got:  %s", bytes.TrimSpace(want), got))
	}
	return res, nil
}
