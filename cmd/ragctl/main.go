// Command ragctl is the operator CLI: schema migration, job inspection and
// requeueing, quota administration and query-cache maintenance.
//
// Usage:
//
//	ragctl [--config configs/development.yaml] migrate
//	ragctl jobs status <job-id>
//	ragctl jobs reprocess <document-id>
//	ragctl jobs queue
//	ragctl quota show <user-id>
//	ragctl quota set --plan pro --max-cost 100 <user-id>
//	ragctl cache flush
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/media"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/usage"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/logger"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

// jobStore is the part of the job store the CLI uses.
type jobStore interface {
	GetDocument(ctx context.Context, id string) (media.Document, error)
	Reprocess(ctx context.Context, job media.ProcessingJob) error
	GetJob(ctx context.Context, id string) (media.JobView, error)
	QueueDepth(ctx context.Context) (media.QueueDepth, error)
}

type quotaAdmin interface {
	Quota(ctx context.Context, userID string) (usage.Quota, error)
	SetLimits(ctx context.Context, userID, plan string, max usage.Usage) (usage.Quota, error)
}

type cacheFlusher interface {
	Invalidate(ctx context.Context) (int64, error)
}

// env holds the connections a command needs. cache is nil when redis is
// not reachable.
type env struct {
	store   jobStore
	quota   quotaAdmin
	cache   cacheFlusher
	migrate func(ctx context.Context) error
	close   func()
}

// opener builds an env from the parsed global flags.
type opener func(c *cli.Context) (*env, error)

func main() {
	if err := newApp(openEnv, os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp(open opener, out io.Writer) *cli.App {
	var e *env
	withEnv := func(action func(c *cli.Context, e *env) error) cli.ActionFunc {
		return func(c *cli.Context) error {
			if e == nil {
				var err error
				if e, err = open(c); err != nil {
					return err
				}
			}
			return action(c, e)
		}
	}

	return &cli.App{
		Name:      "ragctl",
		Usage:     "Operate the media RAG platform",
		Writer:    out,
		ErrWriter: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   "configs/development.yaml",
				EnvVars: []string{"MR_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "warn",
			},
		},
		Before: func(c *cli.Context) error {
			logger.Setup(c.String("log-level"), "text")
			return nil
		},
		After: func(c *cli.Context) error {
			if e != nil && e.close != nil {
				e.close()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Apply the database schema",
				Action: withEnv(migrateCommand),
			},
			{
				Name:  "jobs",
				Usage: "Inspect and requeue processing jobs",
				Subcommands: []*cli.Command{
					{
						Name:      "status",
						Usage:     "Show a job's status and progress",
						ArgsUsage: "<job-id>",
						Action:    withEnv(jobStatusCommand),
					},
					{
						Name:      "reprocess",
						Usage:     "Queue a new job for a document",
						ArgsUsage: "<document-id>",
						Action:    withEnv(reprocessCommand),
					},
					{
						Name:   "queue",
						Usage:  "Show queue depth",
						Action: withEnv(queueCommand),
					},
				},
			},
			{
				Name:  "quota",
				Usage: "Show or change a user's monthly quota",
				Subcommands: []*cli.Command{
					{
						Name:      "show",
						Usage:     "Show a user's usage for the current period",
						ArgsUsage: "<user-id>",
						Action:    withEnv(quotaShowCommand),
					},
					{
						Name:      "set",
						Usage:     "Change a user's plan and maxima",
						ArgsUsage: "<user-id>",
						Action:    withEnv(quotaSetCommand),
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "plan", Usage: "Plan name to record"},
							&cli.Int64Flag{Name: "max-api-calls", Usage: "Monthly API call ceiling (0 = unlimited)"},
							&cli.Int64Flag{Name: "max-tokens", Usage: "Monthly token ceiling (0 = unlimited)"},
							&cli.Float64Flag{Name: "max-cost", Usage: "Monthly cost ceiling in USD (0 = unlimited)"},
						},
					},
				},
			},
			{
				Name:  "cache",
				Usage: "Maintain the query-embedding cache",
				Subcommands: []*cli.Command{
					{
						Name:   "flush",
						Usage:  "Drop every cached query embedding",
						Action: withEnv(cacheFlushCommand),
					},
				},
			},
		},
	}
}

func migrateCommand(c *cli.Context, e *env) error {
	if err := e.migrate(c.Context); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "schema up to date")
	return nil
}

func jobStatusCommand(c *cli.Context, e *env) error {
	id, err := requireArg(c, "job id")
	if err != nil {
		return err
	}
	job, err := e.store.GetJob(c.Context, id)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, job)
}

func reprocessCommand(c *cli.Context, e *env) error {
	id, err := requireArg(c, "document id")
	if err != nil {
		return err
	}
	doc, err := e.store.GetDocument(c.Context, id)
	if err != nil {
		return err
	}
	job := media.ProcessingJob{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		OwnerID:    doc.OwnerID,
		State:      media.Queued{},
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.store.Reprocess(c.Context, job); err != nil {
		return err
	}
	slog.Info("document requeued", "document_id", doc.ID, "job_id", job.ID)
	return printJSON(c.App.Writer, map[string]string{"documentId": doc.ID, "jobId": job.ID})
}

func queueCommand(c *cli.Context, e *env) error {
	depth, err := e.store.QueueDepth(c.Context)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, depth)
}

func quotaShowCommand(c *cli.Context, e *env) error {
	userID, err := requireArg(c, "user id")
	if err != nil {
		return err
	}
	q, err := e.quota.Quota(c.Context, userID)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, map[string]any{"quota": q, "usedPercent": q.UsedPercent()})
}

// quotaSetCommand changes only the maxima given on the command line.
func quotaSetCommand(c *cli.Context, e *env) error {
	userID, err := requireArg(c, "user id")
	if err != nil {
		return err
	}
	current, err := e.quota.Quota(c.Context, userID)
	if err != nil {
		return err
	}
	plan, max := current.Plan, current.Max
	if c.IsSet("plan") {
		plan = c.String("plan")
	}
	if c.IsSet("max-api-calls") {
		max.APICalls = c.Int64("max-api-calls")
	}
	if c.IsSet("max-tokens") {
		max.Tokens = c.Int64("max-tokens")
	}
	if c.IsSet("max-cost") {
		max.Cost = c.Float64("max-cost")
	}
	if max.APICalls < 0 || max.Tokens < 0 || max.Cost < 0 {
		return errors.New("maxima must not be negative")
	}
	q, err := e.quota.SetLimits(c.Context, userID, plan, max)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, q)
}

func cacheFlushCommand(c *cli.Context, e *env) error {
	if e.cache == nil {
		return errors.New("query cache is not available: redis is not reachable")
	}
	n, err := e.cache.Invalidate(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "removed %d cached query embeddings\n", n)
	return nil
}

func requireArg(c *cli.Context, name string) (string, error) {
	if c.NArg() != 1 || c.Args().First() == "" {
		return "", fmt.Errorf("exactly one %s is required", name)
	}
	return c.Args().First(), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
