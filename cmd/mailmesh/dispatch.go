package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/hupe1980/mailmesh"
	"github.com/hupe1980/mailmesh/agent"
	"github.com/hupe1980/mailmesh/config"
)

type dispatchOptions struct {
	instructions []string
	contexts     []string
	replicas     int
	explode      bool
	mapping      bool
	failFast     bool
	jsonOutput   bool
	timeout      time.Duration
}

var dispatchCmd = newDispatchCmd()

func newDispatchCmd() *cobra.Command {
	opts := &dispatchOptions{}

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Fan instructions and contexts out to parallel branches",
		Long: `Dispatch sends every instruction/context combination to its own
branch and prints the answers in plan order.

Contexts that parse as JSON are passed as structured values, anything
else is passed as a string.

Examples:
  mailmesh dispatch -i "Summarize" -c "first text" -c "second text"
  mailmesh dispatch -i "Translate to German" -i "Translate to French" -c "Hello"
  mailmesh dispatch -i "Tell a joke" --replicas 3 --mapping`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringArrayVarP(&opts.instructions, "instruction", "i", nil, "Instruction (repeatable)")
	f.StringArrayVarP(&opts.contexts, "context", "c", nil, "Context (repeatable, JSON or text)")
	f.IntVar(&opts.replicas, "replicas", 1, "Branches per instruction/context combination")
	f.BoolVar(&opts.explode, "explode", false, "Cross every instruction with every context")
	f.BoolVar(&opts.mapping, "mapping", true, "Include instruction, context and branch id per result (--mapping prints JSON)")
	f.BoolVar(&opts.failFast, "fail-fast", false, "Abort the dispatch on the first branch failure")
	f.BoolVar(&opts.jsonOutput, "json", false, "Print results as JSON")
	f.DurationVar(&opts.timeout, "timeout", 0, "Overall dispatch timeout (0 disables it)")

	return cmd
}

func runDispatch(cmd *cobra.Command, opts *dispatchOptions) error {
	if len(opts.instructions) == 0 {
		return errors.New("at least one --instruction is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	mesh, err := mailmesh.New(ctx, func(o *mailmesh.Options) {
		o.Config = cfg
		o.LogOutput = cmd.ErrOrStderr()
	})
	if err != nil {
		return err
	}
	defer mesh.Close()

	req := mesh.NewRequest(instructionInput(opts.instructions), contextInput(opts.contexts))
	flags := cmd.Flags()
	if flags.Changed("replicas") {
		req.Replicas = opts.replicas
	}
	if flags.Changed("explode") {
		req.Explode = opts.explode
	}
	if flags.Changed("mapping") {
		req.IncludeMapping = opts.mapping
	}

	unit := mesh.NewParallelUnit(func(o *agent.ParallelOptions) {
		if flags.Changed("fail-fast") {
			o.FailFast = opts.failFast
		}
	})

	results, err := unit.Dispatch(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.jsonOutput || (flags.Changed("mapping") && opts.mapping) {
		return printJSON(out, unit.Records(results))
	}
	printResults(out, results)
	return nil
}

func instructionInput(ss []string) agent.Input {
	if len(ss) == 1 {
		return agent.One(ss[0])
	}
	return agent.Strings(ss...)
}

func contextInput(ss []string) agent.Input {
	switch len(ss) {
	case 0:
		return agent.Input{}
	case 1:
		return agent.One(parseContext(ss[0]))
	}
	vs := make([]any, len(ss))
	for i, s := range ss {
		vs[i] = parseContext(s)
	}
	return agent.Many(vs...)
}

// parseContext decodes JSON objects and arrays; everything else stays text.
func parseContext(s string) any {
	r := gjson.Parse(s)
	if (r.IsObject() || r.IsArray()) && gjson.Valid(s) {
		return r.Value()
	}
	return s
}

func printResults(w io.Writer, results []agent.Result) {
	failed := 0
	for _, r := range results {
		label := color.CyanString("[%d]", r.Slot)
		if r.Err != nil {
			failed++
			fmt.Fprintf(w, "%s %s %v\n", label, color.RedString("✗"), r.Err)
			continue
		}
		if r.Mapping != nil {
			fmt.Fprintf(w, "%s %v %s\n", label, r.Value, color.New(color.Faint).Sprintf("(branch %s)", r.Mapping.BranchID))
			continue
		}
		fmt.Fprintf(w, "%s %v\n", label, r.Value)
	}
	if failed > 0 {
		fmt.Fprintf(w, "\n%s %d of %d branches failed\n", color.YellowString("⚠"), failed, len(results))
	}
}

func printJSON(w io.Writer, records []map[string]any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
