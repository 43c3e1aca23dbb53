package main

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/moises-m-limon/mangalytics/internal/domain"
	"github.com/moises-m-limon/mangalytics/internal/services"
)

var (
	flagEmail      string
	flagTopic      string
	flagDate       string
	flagMaxFiles   int
	flagPaperTitle string
	search         domain.SearchParams
)

func addSearchFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&search.Terms, "terms", "", "search terms (defaults to the topic)")
	f.StringVar(&search.Field, "field", "", "search field (default title)")
	f.StringVar(&search.Operator, "operator", "", "term operator (default AND)")
	f.StringVar(&search.Abstracts, "abstracts", "", "show or hide abstracts (default show)")
	f.IntVar(&search.Size, "size", 0, "results per page (default 50)")
	f.StringVar(&search.Order, "order", "", "sort order (default -submitted_date)")
}

func addTargetFlags(cmd *cobra.Command, withDate bool) {
	f := cmd.Flags()
	f.StringVar(&flagEmail, "email", "", "subscriber email (required)")
	f.StringVar(&flagTopic, "topic", "", "research topic (required)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("topic")
	if withDate {
		f.StringVar(&flagDate, "date", "", "date folder, MM_DD_YYYY (required)")
		f.IntVar(&flagMaxFiles, "max-files", 1, "documents to process")
		_ = cmd.MarkFlagRequired("date")
	}
}

func init() {
	previewCmd := &cobra.Command{
		Use:   "preview",
		Short: "Show the PDFs a search would upload, without uploading",
		RunE: withPipeline(func(ctx context.Context, p services.Pipeline) (any, error) {
			return p.Preview(ctx, search.WithDefaults(strings.TrimSpace(flagTopic)))
		}),
	}
	previewCmd.Flags().StringVar(&flagTopic, "topic", "", "research topic (required)")
	_ = previewCmd.MarkFlagRequired("topic")
	addSearchFlags(previewCmd)

	scrapeCmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape arXiv and upload up to five PDFs",
		RunE: withPipeline(func(ctx context.Context, p services.Pipeline) (any, error) {
			return p.Scrape(ctx, services.ScrapeInput{Email: flagEmail, Topic: flagTopic, Params: search, Date: flagDate})
		}),
	}
	addTargetFlags(scrapeCmd, false)
	scrapeCmd.Flags().StringVar(&flagDate, "date", "", "date folder, MM_DD_YYYY (default today)")
	addSearchFlags(scrapeCmd)

	recommendCmd := &cobra.Command{
		Use:   "recommend",
		Short: "Extract figures from uploaded PDFs and store the pairings",
		RunE: withPipeline(func(ctx context.Context, p services.Pipeline) (any, error) {
			return p.Extract(ctx, services.ExtractInput{Email: flagEmail, Topic: flagTopic, Date: flagDate, MaxFiles: flagMaxFiles})
		}),
	}
	addTargetFlags(recommendCmd, true)

	mangaCmd := &cobra.Command{
		Use:   "manga",
		Short: "Generate the manga digest for stored figures and email it",
		RunE: withPipeline(func(ctx context.Context, p services.Pipeline) (any, error) {
			in := services.NarrateInput{Email: flagEmail, Topic: flagTopic, Date: flagDate, MaxFiles: flagMaxFiles}
			if t := strings.TrimSpace(flagPaperTitle); t != "" {
				in.PaperTitle = &t
			}
			return p.Narrate(ctx, in)
		}),
	}
	addTargetFlags(mangaCmd, true)
	mangaCmd.Flags().StringVar(&flagPaperTitle, "paper-title", "", "title shown in the story")

	subscribeCmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Run scrape, recommend and manga for today",
		RunE: withPipeline(func(ctx context.Context, p services.Pipeline) (any, error) {
			return p.Subscribe(ctx, flagEmail, flagTopic)
		}),
	}
	addTargetFlags(subscribeCmd, false)

	rootCmd.AddCommand(previewCmd, scrapeCmd, recommendCmd, mangaCmd, subscribeCmd)
}

// withPipeline wires the app, runs fn and prints its result as JSON.
func withPipeline(fn func(ctx context.Context, p services.Pipeline) (any, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		out, err := fn(cmd.Context(), a.Services.Pipeline)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
}
