package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDocsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "List and delete stored documents",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the documents stored for --user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context(), features{})
			if err != nil {
				return err
			}
			defer a.Close()

			sources, err := a.documents.ListSources(cmd.Context(), userID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(sources) == 0 {
				fmt.Fprintf(out, "No documents stored for %s.\n", userID)
				return nil
			}
			for _, s := range sources {
				fmt.Fprintln(out, s)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Delete every chunk of a document stored for --user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), features{})
			if err != nil {
				return err
			}
			defer a.Close()

			source, err := a.documents.DeleteSource(cmd.Context(), userID, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s.\n", source)
			return nil
		},
	})
	return cmd
}
