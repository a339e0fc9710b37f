package main

import (
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/Enkidu/internal/flow"
	"github.com/BTreeMap/Enkidu/internal/messaging"
	"github.com/BTreeMap/Enkidu/internal/store"
	"github.com/spf13/cobra"
)

func newInspectCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "inspect <phone>",
		Short:   "Print the stored conversation context of a user as JSON",
		Example: "  enkidu inspect +15551234567",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			userID, err := messaging.ValidateAndCanonicalizeRecipient(args[0])
			if err != nil {
				return err
			}

			st, err := store.Open(cfg.StoreDSN())
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer st.Close()

			s := cfg.FlowSettings()
			contexts := flow.NewContextStore(st, s.MinDepth, s.MaxDepth)
			uc, found, err := contexts.Lookup(cmd.Context(), userID)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("no stored context for %s", userID)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(uc)
		},
	}
}
