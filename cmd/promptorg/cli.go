package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/promptorg/internal/errors"
	"github.com/hpungsan/promptorg/internal/mcp"
	"github.com/hpungsan/promptorg/internal/ops"
	"github.com/hpungsan/promptorg/internal/organizer"
	"github.com/hpungsan/promptorg/internal/settings"
)

// exitCancelled is the conventional exit status after SIGINT.
const exitCancelled = 130

// newCLIApp creates the CLI application with all commands.
// d is nil when only help or version output is needed.
func newCLIApp(d *ops.Deps) *cli.App {
	app := &cli.App{
		Name:    "promptorg",
		Usage:   "Turn frequently used prompts into reusable templates",
		Version: Version,
		Commands: []*cli.Command{
			promptCmd(d),
			categoryCmd(d),
			settingsCmd(d),
			estimateCmd(d),
			organizeCmd(d),
			pendingCmd(d),
			reviewCmd(d),
			templateCmd(d),
			mcpCmd(d),
		},
		// Titles and use cases may contain commas.
		DisableSliceFlagSeparator: true,
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// promptCmd groups prompt library commands.
func promptCmd(d *ops.Deps) *cli.Command {
	return &cli.Command{
		Name:  "prompt",
		Usage: "Manage the prompt library",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Add a prompt (content from args or stdin)",
				ArgsUsage: "[content...]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Display name (defaults to the first line)"},
					&cli.IntFlag{Name: "count", Aliases: []string{"c"}, Usage: "Initial execution count"},
				},
				Action: func(c *cli.Context) error {
					content, err := readContent(c)
					if err != nil {
						return outputError(err)
					}
					output, err := ops.AddPrompt(c.Context, d, ops.AddPromptInput{
						Name:           c.String("name"),
						Content:        content,
						ExecutionCount: c.Int("count"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, output)
				},
			},
			{
				Name:  "list",
				Usage: "List prompts, most executed first",
				Flags: append([]cli.Flag{
					&cli.BoolFlag{Name: "eligible", Usage: "Only prompts not yet used by an organizer run"},
				}, pageFlags()...),
				Action: func(c *cli.Context) error {
					output, err := ops.ListPrompts(c.Context, d, ops.ListPromptsInput{
						EligibleOnly: c.Bool("eligible"),
						Limit:        c.Int("limit"),
						Offset:       c.Int("offset"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, output)
				},
			},
			{
				Name:      "exec",
				Usage:     "Record one execution of a prompt",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					output, err := ops.RecordExecution(c.Context, d, ops.RecordExecutionInput{ID: c.Args().First()})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, output)
				},
			},
		},
	}
}

// categoryCmd lists categories.
func categoryCmd(d *ops.Deps) *cli.Command {
	return &cli.Command{
		Name:  "category",
		Usage: "Template categories",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List categories",
				Action: func(c *cli.Context) error {
					output, err := ops.ListCategories(c.Context, d)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, output)
				},
			},
		},
	}
}

// settingsCmd shows and edits organizer settings.
func settingsCmd(d *ops.Deps) *cli.Command {
	return &cli.Command{
		Name:  "settings",
		Usage: "Organizer settings",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Show stored settings",
				Action: func(c *cli.Context) error {
					output, err := ops.GetSettings(d)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, output)
				},
			},
			{
				Name:  "set",
				Usage: "Update stored settings",
				Flags: append(overrideFlags(),
					&cli.StringFlag{Name: "prompt", Usage: "Organization prompt text"},
					&cli.PathFlag{Name: "prompt-file", Usage: "Read the organization prompt from a file"},
				),
				Action: func(c *cli.Context) error {
					patch, err := settingsPatch(c)
					if err != nil {
						return outputError(err)
					}
					output, err := ops.UpdateSettings(d, patch)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, output)
				},
			},
		},
	}
}

// estimateCmd prints a cost estimate, optionally re-estimating whenever
// the settings file changes.
func estimateCmd(d *ops.Deps) *cli.Command {
	return &cli.Command{
		Name:  "estimate",
		Usage: "Estimate tokens and cost of an organizer run",
		Flags: append(overrideFlags(),
			&cli.BoolFlag{Name: "watch", Aliases: []string{"w"}, Usage: "Re-estimate when the settings file changes"},
		),
		Action: func(c *cli.Context) error {
			overrides := overridesFrom(c)
			if !c.Bool("watch") {
				output, err := ops.Estimate(c.Context, d, ops.EstimateInput{Overrides: overrides})
				if err != nil {
					return outputError(err)
				}
				return outputJSON(c, output)
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := watchEstimates(ctx, c, d, overrides); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// watchEstimates prints one estimate now and another after every settled
// settings change until ctx is done. Estimates run one at a time, so a
// slow token count never races a newer one.
func watchEstimates(ctx context.Context, c *cli.Context, d *ops.Deps, overrides settings.Patch) error {
	debounce := time.Duration(d.Config.EstimateDebounceMS) * time.Millisecond
	w, err := d.Settings.NewWatcher(debounce, d.Log)
	if err != nil {
		return errors.NewInternal(err)
	}

	first, err := ops.Estimate(ctx, d, ops.EstimateInput{Overrides: overrides})
	if err == nil {
		err = outputJSON(c, first)
	}
	if err != nil {
		w.Close()
		return err
	}

	// Holds at most the newest settings not yet estimated.
	latest := make(chan organizer.Settings, 1)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(ctx, func(s organizer.Settings) {
			select {
			case <-latest:
			default:
			}
			latest <- s
		})
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case s := <-latest:
				s = overrides.Apply(s)
				if err := s.Validate(); err != nil {
					d.Log.Warn("skipping estimate", "error", err)
					continue
				}
				output, err := ops.EstimateWith(ctx, d, s)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					fmt.Fprintf(c.App.ErrWriter, "estimate failed: %v\n", err)
					continue
				}
				if err := outputJSON(c, output); err != nil {
					return err
				}
			}
		}
	})
	return g.Wait()
}

// organizeCmd runs the organizer and stores the result for review.
func organizeCmd(d *ops.Deps) *cli.Command {
	return &cli.Command{
		Name:  "organize",
		Usage: "Generate templates from frequently used prompts (Ctrl-C cancels)",
		Flags: append(overrideFlags(),
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Do not print progress"},
		),
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			input := ops.RunInput{Overrides: overridesFrom(c)}
			if !c.Bool("quiet") {
				input.OnProgress = progressPrinter(c.App.ErrWriter)
			}

			output, err := ops.Run(ctx, d, input)
			if !c.Bool("quiet") {
				fmt.Fprintln(c.App.ErrWriter)
			}
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// progressPrinter renders progress on one updating line of w.
func progressPrinter(w io.Writer) organizer.ProgressFunc {
	last := organizer.Progress{EstimatedProgress: -1}
	return func(p organizer.Progress) {
		if p.EstimatedProgress == last.EstimatedProgress && p.Status == last.Status {
			return
		}
		last = p
		fmt.Fprintf(w, "\r[%3d%%] %-10s thoughts=%d output=%d", p.EstimatedProgress, p.Status, p.ThoughtsTokens, p.OutputTokens)
	}
}

// pendingCmd inspects the pending batch.
func pendingCmd(d *ops.Deps) *cli.Command {
	return &cli.Command{
		Name:  "pending",
		Usage: "Inspect generated templates awaiting review",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Show the pending batch as JSON",
				Action: func(c *cli.Context) error {
					output, err := ops.GetPending(c.Context, d)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, output)
				},
			},
			{
				Name:      "preview",
				Usage:     "Render pending candidates as markdown",
				ArgsUsage: "[candidate-id]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "html", Usage: "Render HTML instead of markdown"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.PreviewPending(c.Context, d, ops.PreviewPendingInput{CandidateID: c.Args().First()})
					if err != nil {
						return outputError(err)
					}
					for i, item := range output.Items {
						if i > 0 {
							fmt.Fprintln(c.App.Writer)
						}
						if c.Bool("html") {
							fmt.Fprint(c.App.Writer, item.HTML)
						} else {
							fmt.Fprint(c.App.Writer, item.Markdown)
						}
					}
					return nil
				},
			},
		},
	}
}

// reviewCmd records decisions on pending candidates.
func reviewCmd(d *ops.Deps) *cli.Command {
	return &cli.Command{
		Name:  "review",
		Usage: "Decide on pending candidates (interactive without decision flags)",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "save", Usage: "Candidate id to save"},
			&cli.StringSliceFlag{Name: "pin", Usage: "Candidate id to save and pin"},
			&cli.StringSliceFlag{Name: "discard", Usage: "Candidate id to discard"},
			&cli.StringSliceFlag{Name: "title", Usage: "Edit a title: <id>=<title>"},
			&cli.StringSliceFlag{Name: "use-case", Usage: "Edit a use case: <id>=<text>"},
			&cli.StringSliceFlag{Name: "category", Usage: "Edit a category: <id>=<category-id>"},
		},
		Action: func(c *cli.Context) error {
			input, err := reviewInput(c)
			if err != nil {
				return outputError(err)
			}
			if len(input.Decisions) == 0 && len(input.Edits) == 0 {
				result, err := interactiveReview(c, d)
				if err != nil {
					return outputError(err)
				}
				return outputJSON(c, result)
			}

			output, err := ops.Review(c.Context, d, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// reviewInput collects decision and edit flags.
func reviewInput(c *cli.Context) (ops.ReviewInput, error) {
	input := ops.ReviewInput{
		Decisions: map[string]string{},
		Edits:     map[string]ops.CandidateEditInput{},
	}
	for flag, action := range map[string]organizer.UserAction{
		"save":    organizer.ActionSave,
		"pin":     organizer.ActionSaveAndPin,
		"discard": organizer.ActionDiscard,
	} {
		for _, id := range c.StringSlice(flag) {
			if prev, ok := input.Decisions[id]; ok && prev != string(action) {
				return input, errors.NewInvalidRequest(fmt.Sprintf("candidate %s has conflicting decisions", id))
			}
			input.Decisions[id] = string(action)
		}
	}

	for _, flag := range []string{"title", "use-case", "category"} {
		for _, raw := range c.StringSlice(flag) {
			id, value, ok := strings.Cut(raw, "=")
			if !ok || id == "" {
				return input, errors.NewInvalidRequest(fmt.Sprintf("--%s expects <id>=<value>, got %q", flag, raw))
			}
			e := input.Edits[id]
			v := value
			switch flag {
			case "title":
				e.Title = &v
			case "use-case":
				e.UseCase = &v
			case "category":
				e.CategoryID = &v
			}
			input.Edits[id] = e
		}
	}
	return input, nil
}

// interactiveReview walks pending candidates on the terminal, reading one
// command per line, and commits when the batch is done or on quit.
func interactiveReview(c *cli.Context, d *ops.Deps) (*ops.ReviewOutput, error) {
	r := d.Reconciler()
	batch, err := r.Load(c.Context)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, errors.NewNotFound("pending batch", "")
	}

	s := organizer.NewSessionFromBatch(batch)
	out := c.App.ErrWriter
	in := bufio.NewScanner(c.App.Reader)

loop:
	for s.State() == organizer.SessionReviewing && s.Selected() != organizer.NoPending {
		i := s.Selected()
		cand, err := s.Candidate(i)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(out, "\n(%d/%d)\n%s\n[s]ave  [p]in  [d]iscard  [n]ext  [q]uit > ", i+1, s.Len(), ops.CandidateMarkdown(cand))
		if !in.Scan() {
			break
		}

		var action organizer.UserAction
		switch strings.ToLower(strings.TrimSpace(in.Text())) {
		case "s", "save":
			action = organizer.ActionSave
		case "p", "pin":
			action = organizer.ActionSaveAndPin
		case "d", "discard":
			action = organizer.ActionDiscard
		case "n", "next", "":
			if next := s.NextPendingIndex(i); next != organizer.NoPending {
				_ = s.Select(next)
			}
			continue
		case "q", "quit":
			break loop
		default:
			fmt.Fprintln(out, "unknown command")
			continue
		}
		if err := s.Decide(action); err != nil {
			return nil, err
		}
	}

	result, err := s.Commit(c.Context, r)
	if err != nil {
		return nil, err
	}
	return &ops.ReviewOutput{CommitResult: *result, Undecided: result.Residual}, nil
}

// templateCmd lists saved templates.
func templateCmd(d *ops.Deps) *cli.Command {
	return &cli.Command{
		Name:  "template",
		Usage: "Saved templates",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List saved templates, pinned first",
				Flags: append([]cli.Flag{
					&cli.BoolFlag{Name: "pinned", Usage: "Only pinned templates"},
				}, pageFlags()...),
				Action: func(c *cli.Context) error {
					output, err := ops.ListTemplates(c.Context, d, ops.ListTemplatesInput{
						PinnedOnly: c.Bool("pinned"),
						Limit:      c.Int("limit"),
						Offset:     c.Int("offset"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, output)
				},
			},
		},
	}
}

// mcpCmd serves MCP over stdio explicitly.
func mcpCmd(d *ops.Deps) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve MCP tools over stdio",
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return mcp.Run(ctx, d, Version)
		},
	}
}

// Helper functions

func overrideFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "period-days", Aliases: []string{"p"}, Usage: "Only prompts executed within N days"},
		&cli.IntFlag{Name: "min-exec", Aliases: []string{"m"}, Usage: "Minimum execution count"},
		&cli.IntFlag{Name: "max-prompts", Usage: "Maximum prompts sent to the model"},
	}
}

func pageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Page size (default 20, max 100)"},
		&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Usage: "Items to skip"},
	}
}

// overridesFrom reads only the override flags the user actually set.
func overridesFrom(c *cli.Context) settings.Patch {
	var p settings.Patch
	if c.IsSet("period-days") {
		v := c.Int("period-days")
		p.PeriodDays = &v
	}
	if c.IsSet("min-exec") {
		v := c.Int("min-exec")
		p.MinExecutionCount = &v
	}
	if c.IsSet("max-prompts") {
		v := c.Int("max-prompts")
		p.MaxPrompts = &v
	}
	return p
}

// settingsPatch adds the organization prompt flags to the overrides.
func settingsPatch(c *cli.Context) (settings.Patch, error) {
	p := overridesFrom(c)
	if c.IsSet("prompt") && c.IsSet("prompt-file") {
		return p, errors.NewInvalidRequest("use either --prompt or --prompt-file")
	}
	if c.IsSet("prompt") {
		v := c.String("prompt")
		p.OrganizationPrompt = &v
	}
	if path := c.Path("prompt-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return p, errors.NewInvalidRequest(fmt.Sprintf("read prompt file: %v", err))
		}
		v := string(data)
		p.OrganizationPrompt = &v
	}
	return p, nil
}

// outputJSON marshals result to the app writer as JSON.
func outputJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI. A cancelled run exits with 130.
func outputError(err error) error {
	if oErr, ok := errors.As(err); ok {
		code := 1
		if oErr.Code == errors.ErrCancelled {
			code = exitCancelled
		}
		return cli.Exit(fmt.Sprintf("[%s] %s", oErr.Code, oErr.Message), code)
	}
	return cli.Exit(err.Error(), 1)
}

// exitCode extracts the process exit status from an app error.
func exitCode(err error) int {
	if coder, ok := err.(cli.ExitCoder); ok {
		return coder.ExitCode()
	}
	return 1
}

// readContent takes prompt text from positional args, else from stdin
// when it is piped.
func readContent(c *cli.Context) (string, error) {
	if c.NArg() > 0 {
		return strings.Join(c.Args().Slice(), " "), nil
	}
	if c.App.Reader == os.Stdin && !stdinHasData() {
		return "", errors.NewInvalidRequest("content must be given as arguments or piped via stdin")
	}
	data, err := io.ReadAll(c.App.Reader)
	if err != nil {
		return "", errors.NewInternal(err)
	}
	return strings.TrimSpace(string(data)), nil
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}
