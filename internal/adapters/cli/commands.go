package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

func (a *app) ingestCommand() *cobra.Command {
	var policy domain.ChunkPolicy
	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Parse, chunk and index papers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, files []string) error {
			if !cmd.Flags().Changed("chunk-size") {
				policy.TargetSize = a.svc.Policy.TargetSize
			}
			if !cmd.Flags().Changed("chunk-overlap") {
				policy.Overlap = a.svc.Policy.Overlap
			}

			bar := progressbar.NewOptions(len(files),
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionSetDescription("Ingesting papers"),
				progressbar.OptionShowCount(),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "=",
					SaucerHead:    ">",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
			)

			var (
				ingested []*domain.Document
				failures []string
			)
			for _, path := range files {
				if err := cmd.Context().Err(); err != nil {
					return err
				}
				doc, err := a.svc.Ingest.IngestFile(cmd.Context(), a.userID, path, policy)
				_ = bar.Add(1)
				if err != nil {
					failures = append(failures, fmt.Sprintf("%s: %v", path, err))
					continue
				}
				ingested = append(ingested, doc)
			}
			_ = bar.Finish()
			cmd.PrintErrln()

			if a.asJSON {
				if err := a.printJSON(cmd, ingested); err != nil {
					return err
				}
			} else {
				for _, doc := range ingested {
					cmd.Printf("%s  %s  (%d chunks, %d citations)\n", doc.ID, doc.Metadata.Title, doc.ChunkCount, len(doc.Citations))
				}
			}
			if len(failures) > 0 {
				return fmt.Errorf("%d of %d files failed:\n  %s", len(failures), len(files), strings.Join(failures, "\n  "))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&policy.TargetSize, "chunk-size", domain.DefaultChunkSize, "target chunk size in characters")
	cmd.Flags().IntVar(&policy.Overlap, "chunk-overlap", domain.DefaultChunkOverlap, "characters shared by adjacent chunks")
	return cmd
}

func (a *app) askCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Answer a question from the ingested papers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := a.svc.Chat.ProcessMessage(cmd.Context(), domain.ChatRequest{
				UserID:  a.userID,
				Message: strings.Join(args, " "),
			})
			if err != nil {
				return err
			}
			if a.asJSON {
				return a.printJSON(cmd, reply)
			}
			cmd.Println(reply.Message)
			if len(reply.Sources) > 0 {
				cmd.Println()
				cmd.Println("Sources:")
				for _, src := range reply.Sources {
					cmd.Printf("  - %s (%s, %s)\n", src.Title, strings.Join(src.Authors, ", "), orUnknown(src.Year))
				}
			}
			return nil
		},
	}
}

func (a *app) searchCommand() *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Show the passages most similar to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hits, err := a.svc.Retriever.Query(cmd.Context(), a.userID, strings.Join(args, " "), k)
			if err != nil {
				return err
			}
			if a.asJSON {
				return a.printJSON(cmd, hits)
			}
			if len(hits) == 0 {
				cmd.Println("No results found.")
				return nil
			}
			for i, hit := range hits {
				cmd.Printf("[%d] %.3f  %s #%d\n    %s\n", i+1, hit.Score, hit.Chunk.Metadata.Title, hit.Chunk.Index, snippet(hit.Chunk.Text, 160))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", domain.DefaultTopK, "number of passages")
	return cmd
}

func (a *app) historyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Print the stored conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			turns, err := a.svc.Chat.History(cmd.Context(), a.userID)
			if err != nil {
				return err
			}
			if a.asJSON {
				if turns == nil {
					turns = []domain.ChatTurn{}
				}
				return a.printJSON(cmd, turns)
			}
			if len(turns) == 0 {
				cmd.Println("No conversation yet.")
				return nil
			}
			for _, turn := range turns {
				cmd.Printf("%s: %s\n", turn.Role, turn.Content)
			}
			return nil
		},
	}
}

func (a *app) docsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "List ingested papers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			docs, err := a.svc.Library.ListDocuments(cmd.Context(), a.userID)
			if err != nil {
				return err
			}
			if a.asJSON {
				if docs == nil {
					docs = []domain.Document{}
				}
				return a.printJSON(cmd, docs)
			}
			if len(docs) == 0 {
				cmd.Println("No documents ingested.")
				return nil
			}
			for _, doc := range docs {
				cmd.Printf("%s  %s  %s  %s\n", doc.ID, doc.Metadata.Title, strings.Join(doc.Metadata.Authors, ", "), orUnknown(doc.Metadata.Year()))
			}
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "rm DOCUMENT_ID",
		Short: "Delete a paper and its passages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.svc.Library.DeleteDocument(cmd.Context(), a.userID, args[0]); err != nil {
				if errors.Is(err, domain.ErrDocumentNotFound) {
					return fmt.Errorf("document %s not found", args[0])
				}
				return err
			}
			cmd.Printf("deleted %s\n", args[0])
			return nil
		},
	})
	return cmd
}

func orUnknown(s string) string {
	if s == "" {
		return "n.d."
	}
	return s
}

func snippet(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
