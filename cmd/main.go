package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"regional-stats-chatbot/internal/app"
	"regional-stats-chatbot/models"
	"regional-stats-chatbot/services"
)

var (
	askYears    string
	askDocument string
	askStream   bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// withApp builds the application graph for one command invocation and
// tears it down afterwards.
func withApp(fn func(ctx context.Context, a *app.App) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := app.New(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd.Context(), a)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "statsctl",
		Short:         "Control CLI for the regional statistics chatbot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(ingestCmd(), reconstructCmd(), askCmd(), statusCmd(), stopCmd(),
		jobsCmd(), documentsCmd(), deleteCmd(), feedbackCmd(), credentialsCmd())
	return root
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Start a background ingestion sweep over the input directory",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app.App) error {
			result, err := a.Ingestion.Start(ctx)
			if err != nil {
				return err
			}
			fmt.Println(result)
			return nil
		}),
	}
}

func reconstructCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconstruct <document-id>",
		Short: "Start a background table rewrite for one document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid document id %q: %w", args[0], err)
			}
			return withApp(func(ctx context.Context, a *app.App) error {
				result, err := a.Reconstruction.Start(ctx, docID)
				if err != nil {
					return err
				}
				fmt.Println(result)
				return nil
			})(cmd, args)
		},
	}
}

func askCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the ingested corpora",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			years, err := parseYears(askYears)
			if err != nil {
				return err
			}
			req := services.AnswerRequest{
				Prompt:         args[0],
				Years:          years,
				TargetDocument: askDocument,
			}

			return withApp(func(ctx context.Context, a *app.App) error {
				if askStream {
					sources, err := a.Answers.RetrieveAndStream(ctx, req, func(chunk string) error {
						_, err := fmt.Print(chunk)
						return err
					})
					if err != nil {
						return err
					}
					fmt.Println()
					return printSources(sources)
				}

				answer, err := a.Answers.RetrieveAndAnswer(ctx, req)
				if err != nil {
					return err
				}
				fmt.Println(answer.Text)
				return printSources(answer.Sources)
			})(cmd, args)
		},
	}
	cmd.Flags().StringVar(&askYears, "years", "", "comma-separated years to pin, e.g. 2023,2024")
	cmd.Flags().StringVar(&askDocument, "document", "", "lock retrieval to documents whose name contains this text")
	cmd.Flags().BoolVar(&askStream, "stream", false, "stream the answer as it is generated")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-name>",
		Short: "Show one job's state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				info, err := a.Jobs.Status(ctx, args[0])
				if err != nil {
					return err
				}
				out, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			})(cmd, args)
		},
	}
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <job-name>",
		Short: "Request a cooperative stop of a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				err := a.Jobs.RequestStop(ctx, args[0])
				if errors.Is(err, services.ErrJobNotRunning) {
					fmt.Println("not_running")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Println("accepted")
				return nil
			})(cmd, args)
		},
	}
}

func jobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List currently running jobs",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app.App) error {
			running, err := a.Jobs.Running(ctx)
			if err != nil {
				return err
			}
			if len(running) == 0 {
				fmt.Println("no running jobs")
				return nil
			}
			for _, job := range running {
				fmt.Printf("%s\t%s\t%d/%d\t%s\n", job.Name, job.Status, job.ProcessedItems, job.TotalItems, job.Message)
			}
			return nil
		}),
	}
}

func documentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "documents",
		Short: "List ingested documents",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app.App) error {
			docs, err := a.Documents.List(ctx)
			if err != nil {
				return err
			}
			for _, doc := range docs {
				fmt.Printf("%s\t%s\t%d/%d pages\n", doc.ID, doc.DisplayName, doc.IngestedPages, doc.TotalPages)
			}
			return nil
		}),
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Delete a document, its fragments and its page screenshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid document id %q: %w", args[0], err)
			}
			return withApp(func(ctx context.Context, a *app.App) error {
				doc, err := a.Documents.Get(ctx, docID)
				if err != nil {
					return err
				}
				if doc == nil {
					return fmt.Errorf("document %s not found", docID)
				}
				if err := a.Documents.Delete(ctx, docID); err != nil {
					return err
				}

				base := strings.TrimSuffix(doc.DisplayName, filepath.Ext(doc.DisplayName))
				if base != "" {
					if err := os.RemoveAll(filepath.Join(a.Cfg.PageImageDir, base)); err != nil {
						return fmt.Errorf("remove screenshots for %s: %w", doc.DisplayName, err)
					}
				}
				fmt.Println("deleted", doc.DisplayName)
				return nil
			})(cmd, args)
		},
	}
}

func feedbackCmd() *cobra.Command {
	var negative bool
	cmd := &cobra.Command{
		Use:   "feedback <kind> <id>",
		Short: "Record relevance feedback for a source printed by ask",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := args[0]
			if kind != models.EntityNews && kind != models.EntityFragment {
				return fmt.Errorf("unknown source kind %q", kind)
			}
			return withApp(func(ctx context.Context, a *app.App) error {
				ref := models.SourceRef{Kind: kind, ID: args[1]}
				if err := a.Feedback.Record(ctx, ref, !negative); err != nil {
					return err
				}
				fmt.Println("recorded")
				return nil
			})(cmd, args)
		},
	}
	cmd.Flags().BoolVar(&negative, "negative", false, "record the vote as not relevant")
	return cmd
}

func credentialsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "credentials",
		Short: "Show rotation pool health",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app.App) error {
			for _, cred := range a.KeyPool.Snapshot() {
				state := "available"
				if !cred.Active {
					state = "inactive"
				} else if cred.QuotaExceeded {
					state = "exhausted"
				}
				fmt.Printf("%s\t%s\t%d requests\t%.1f%% ok\n",
					cred.Alias, state, cred.TotalRequests, cred.SuccessRate())
			}
			return nil
		}),
	}
}

func printSources(sources []models.SourceRef) error {
	if len(sources) == 0 {
		return nil
	}
	keys := make([]string, len(sources))
	for i, ref := range sources {
		keys[i] = ref.Key()
	}
	fmt.Println("sources:", strings.Join(keys, ", "))
	return nil
}

func parseYears(value string) ([]int, error) {
	if value == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	years := make([]int, 0, len(parts))
	for _, part := range parts {
		year, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid year %q", part)
		}
		years = append(years, year)
	}
	return years, nil
}
