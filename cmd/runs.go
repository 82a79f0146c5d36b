package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/witx/internal/formatter"
	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/repositories"
	"github.com/desertthunder/witx/internal/tasks"
)

type runView struct {
	ID         string     `json:"id"`
	Sequence   int        `json:"sequence"`
	Mode       string     `json:"mode"`
	Status     string     `json:"status"`
	Total      int        `json:"total"`
	Created    int        `json:"created"`
	Updated    int        `json:"updated"`
	Failed     int        `json:"failed"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func newRunView(r *models.Run) runView {
	return runView{
		ID:         r.ID(),
		Sequence:   r.Sequence(),
		Mode:       r.Mode(),
		Status:     r.Status(),
		Total:      r.Total(),
		Created:    r.Created(),
		Updated:    r.Updated(),
		Failed:     r.Failed(),
		Error:      r.ErrorMessage(),
		StartedAt:  r.StartedAt(),
		FinishedAt: r.FinishedAt(),
	}
}

// RunsList prints the recorded runs, newest first.
func (r *Runner) RunsList(ctx context.Context, cmd *cli.Command) error {
	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := repositories.NewRunRepository(db).List(map[string]any{
		"status": cmd.String("status"),
		"mode":   cmd.String("mode"),
		"limit":  cmd.Int("limit"),
	})
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		views := make([]runView, 0, len(runs))
		for _, run := range runs {
			views = append(views, newRunView(run))
		}
		return r.writeJSON(views, true)
	}

	if len(runs) == 0 {
		r.writePlain("No runs recorded in %s\n", r.config.Database.Path)
		return nil
	}

	r.writePlainHeader(fmt.Sprintf("Runs (%d)", len(runs)))
	for _, run := range runs {
		r.writePlain("#%-4d %-9s %-9s total=%-6d created=%-6d updated=%-6d failed=%-6d %s  %s\n",
			run.Sequence(), run.Mode(), run.Status(), run.Total(), run.Created(), run.Updated(), run.Failed(),
			run.StartedAt().Local().Format(time.DateTime), run.ID())
	}
	return nil
}

// RunsShow prints the summary of one run, rebuilt from the ledger.
func (r *Runner) RunsShow(ctx context.Context, cmd *cli.Command) error {
	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	run, err := resolveRun(repositories.NewRunRepository(db), cmd.Args().First())
	if err != nil {
		return err
	}

	summary, err := repositories.NewLedgerRepository(db).Summary(run.ID())
	if err != nil {
		return err
	}

	format, err := reportFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	if format == "" {
		format = formatter.FormatText
	}

	out, err := formatter.Render(summary, format)
	if err != nil {
		return err
	}
	_, err = r.output.Write(out)
	return err
}

// RunsAudits prints the batch audits of one run, optionally as curl reproductions.
func (r *Runner) RunsAudits(ctx context.Context, cmd *cli.Command) error {
	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	run, err := resolveRun(repositories.NewRunRepository(db), cmd.Args().First())
	if err != nil {
		return err
	}

	audits, err := repositories.NewAuditRepository(db).ListAudits(run.ID())
	if err != nil {
		return err
	}

	if !cmd.Bool("curl") {
		return r.writeJSON(audits, true)
	}

	if len(audits) == 0 {
		r.writePlain("Run #%d has no batch audits\n", run.Sequence())
		return nil
	}
	for _, a := range audits {
		r.writePlain("# %s batch %d: %d failed of %d, sources %v\n", a.Phase, a.Batch, a.Failed, len(a.Requests), a.SourceIDs)
		r.writePlain("%s\n\n", tasks.BatchCurl(r.config.Target.Account, a.Requests))
	}
	return nil
}

// resolveRun looks up a run by id; an empty id or "latest" selects the most recent run.
func resolveRun(runs *repositories.RunRepository, id string) (*models.Run, error) {
	if id == "" || id == "latest" {
		return runs.Latest()
	}
	return runs.Get(id)
}

func runsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "Inspect recorded validate and migrate runs",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List runs, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "status",
						Usage: "Only runs with this status (running, completed, failed)",
					},
					&cli.StringFlag{
						Name:  "mode",
						Usage: "Only runs of this mode (validate, migrate)",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of runs to return",
						Value: 20,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output JSON",
					},
				},
				Action: r.RunsList,
			},
			{
				Name:      "show",
				Usage:     "Show the summary of a run",
				ArgsUsage: "[run-id|latest]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "md, text, csv or json",
						Value:   formatter.FormatText,
					},
				},
				Action: r.RunsShow,
			},
			{
				Name:      "audits",
				Usage:     "Show the batch audits recorded for failed batches of a run",
				ArgsUsage: "[run-id|latest]",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "curl",
						Usage: "Print each batch as a curl command instead of JSON",
					},
				},
				Action: r.RunsAudits,
			},
		},
	}
}
