package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/renderinc/helpdesk-search/internal/document"
	"github.com/renderinc/helpdesk-search/internal/ingest"
	"github.com/renderinc/helpdesk-search/internal/lock"
	"github.com/renderinc/helpdesk-search/internal/retrieval"
	"github.com/renderinc/helpdesk-search/internal/storage"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the documents table, recreating a legacy layout",
		Long: `Create the documents table when it is missing. A table without the url
uniqueness constraint is dropped and recreated, which removes every stored document.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.migrate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Schema: %s\n", result)
			return nil
		},
	}
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Fetch every article of the upstream help center and upsert it",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			coordinator, err := a.coordinator()
			if err != nil {
				return err
			}
			result, err := coordinator.Run(cmd.Context())
			if err != nil && result == nil {
				return err
			}

			fmt.Println()
			fmt.Println("=== Ingestion Complete ===")
			fmt.Printf("Categories:    %d (%d empty)\n", result.CategoriesFound, result.EmptyCategories)
			fmt.Printf("Documents:     %d found, %d processed\n", result.DocumentsFound, result.DocumentsProcessed)
			fmt.Printf("Inserted:      %d\n", result.Inserted)
			fmt.Printf("Updated:       %d\n", result.Updated)
			fmt.Printf("Errors:        %d\n", len(result.Errors))
			fmt.Printf("Duration:      %v\n", result.Duration.Round(time.Millisecond))
			for _, e := range result.Errors {
				fmt.Printf("  %s: %s\n", e.URL, e.Message)
			}
			return err
		},
	}
}

func rewriteURLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rewrite-urls",
		Short: "Move stored documents from legacy domains to the public base url",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			release, err := a.locker.TryLock(cmd.Context(), lock.Maintenance, maintenanceTTL)
			if err != nil {
				return err
			}
			defer release()

			result, err := ingest.RewriteURLs(cmd.Context(), a.store, a.cfg.Upstream.LegacyDomains, a.cfg.PublicBaseURL, a.log)
			if err != nil {
				return err
			}
			fmt.Printf("Examined: %d\nUpdated:  %d\nSkipped:  %d\nErrors:   %d\n",
				result.Examined, result.Updated, result.Skipped, result.Errors)
			return nil
		},
	}
}

func searchCmd() *cobra.Command {
	var limit int

	command := &cobra.Command{
		Use:   "search <query>",
		Short: "Search stored documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.retrieval().Search(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("No results found")
				return nil
			}

			fmt.Printf("\nFound %d results:\n\n", len(results))
			for i, r := range results {
				fmt.Printf("%d. %s\n", i+1, r.Document.Title)
				if c := document.Deref(r.Document.Category); c != "" {
					fmt.Printf("   Category: %s\n", c)
				}
				fmt.Printf("   URL: %s\n", r.Document.URL)
				fmt.Printf("   Score: %.3f\n", r.Score)
				if d := document.Deref(r.Document.Description); d != "" {
					fmt.Printf("   Preview: %s\n", document.Truncate(d, 160))
				}
				fmt.Println()
			}
			return nil
		},
	}

	command.Flags().IntVarP(&limit, "limit", "n", retrieval.SuggestLimit, "Maximum number of results")
	return command
}

func askCmd() *cobra.Command {
	var contextDocs int

	command := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the stored documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			answers, err := a.answers(a.retrieval())
			if err != nil {
				return err
			}
			ans, err := answers.Answer(cmd.Context(), strings.Join(args, " "), contextDocs)
			if err != nil {
				return err
			}

			fmt.Println(ans.Text)
			if len(ans.Sources) > 0 {
				fmt.Println()
				fmt.Println("Sources:")
				for _, s := range ans.Sources {
					fmt.Printf("  - %s\n", s)
				}
			}
			return nil
		},
	}

	command.Flags().IntVar(&contextDocs, "context", 3, "Number of documents given to the model (at most 3)")
	return command
}

func getDocCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-doc <id>",
		Short: "Print the HTML content of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid document id %q", args[0])
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			doc, err := a.store.Get(cmd.Context(), id)
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("document not found: %d", id)
			}
			if err != nil {
				return err
			}

			fmt.Printf("# %s\n%s\n\n", doc.Title, doc.URL)
			fmt.Println(document.Deref(doc.Content))
			return nil
		},
	}
}

func reindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the search index from the SQLite database",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if a.sqlite == nil {
				fmt.Println("PostgreSQL ranks with its own full-text index, nothing to rebuild")
				return nil
			}

			start := time.Now()
			err = a.sqlite.Reindex(cmd.Context(), func(current, total int) {
				fmt.Printf("\rIndexing: %d/%d (%.1f%%)  ", current, total, float64(current)/float64(total)*100)
			})
			if err != nil {
				return err
			}

			count, err := a.sqlite.IndexCount()
			if err != nil {
				return err
			}
			fmt.Println()
			fmt.Println()
			fmt.Println("=== Reindex Complete ===")
			fmt.Printf("Documents indexed: %d\n", count)
			fmt.Printf("Duration:          %v\n", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			count, err := a.store.Count(cmd.Context())
			if err != nil {
				return err
			}
			cats, err := a.store.Categories(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Println("=== Store Statistics ===")
			fmt.Printf("Documents in database: %d\n", count)
			if a.sqlite != nil {
				indexed, err := a.sqlite.IndexCount()
				if err != nil {
					return err
				}
				fmt.Printf("Documents in index:    %d\n", indexed)
			}
			fmt.Println()
			fmt.Println("Categories:")
			for _, c := range cats {
				name := c.Name
				if name == "" {
					name = "(none)"
				}
				fmt.Printf("  %-30s %d\n", name, c.Count)
			}
			return nil
		},
	}
}
