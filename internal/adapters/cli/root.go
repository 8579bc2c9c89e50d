// Package cli implements paperctl, a command line front end for local
// research corpora.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/core/ports"
)

type Services struct {
	Ingest    ports.DocumentIngestor
	Library   ports.DocumentLibrary
	Chat      ports.ChatService
	Retriever ports.Retriever
	Policy    domain.ChunkPolicy
}

// Opener builds the services lazily so that help and flag errors never
// touch the backends.
type Opener func(ctx context.Context) (Services, error)

type app struct {
	open Opener
	svc  Services

	userID string
	asJSON bool
}

func NewRootCommand(open Opener) *cobra.Command {
	a := &app{open: open}
	root := &cobra.Command{
		Use:           "paperctl",
		Short:         "Ingest research papers and ask questions about them",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if a.userID == "" {
				return errors.New("--user must not be empty")
			}
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			a.svc = svc
			return nil
		},
	}
	// cobra's Print helpers default to stderr.
	root.SetOut(os.Stdout)
	root.PersistentFlags().StringVarP(&a.userID, "user", "u", "local", "owner of the corpus")
	root.PersistentFlags().BoolVar(&a.asJSON, "json", false, "print results as JSON")

	root.AddCommand(
		a.ingestCommand(),
		a.askCommand(),
		a.searchCommand(),
		a.historyCommand(),
		a.docsCommand(),
	)
	return root
}

func (a *app) printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
