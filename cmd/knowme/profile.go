package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage the profile of --user",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set key=value...",
		Short: "Replace the profile with the given fields",
		Long: `Replace the profile of --user. Fields not given are dropped.

Example:
  knowme profile set --user alice name=Alice "goal=retire at 55"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseFields(args)
			if err != nil {
				return err
			}

			a, err := loadApp(cmd.Context(), features{})
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.profiles.Save(cmd.Context(), userID, fields); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Profile saved for %s.\n", userID)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the stored profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context(), features{})
			if err != nil {
				return err
			}
			defer a.Close()

			text, err := a.profiles.Get(cmd.Context(), userID)
			if err != nil {
				return err
			}
			if text == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "No profile stored for %s.\n", userID)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	})
	return cmd
}

// parseFields turns key=value arguments into profile fields.
func parseFields(args []string) (map[string]string, error) {
	fields := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field %q, expected key=value", arg)
		}
		fields[key] = value
	}
	return fields, nil
}
