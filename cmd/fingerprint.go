// File: cmd/fingerprint.go
package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/ghostwire/internal/browser/fingerprint"
)

func newFingerprintCmd(v *viper.Viper) *cobra.Command {
	fpCmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Generate and inspect browser fingerprint profiles",
	}

	var count int
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Print newly generated profiles without launching a browser",
		Long:  "Print newly generated profiles without launching a browser. Profiles are also\nrecorded in fingerprint.history_dir when it is set.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			if count < 1 {
				return fmt.Errorf("--count must be at least 1")
			}
			var opts []fingerprint.Option
			if cfg.Fingerprint.HistoryDir != "" {
				h, err := fingerprint.NewHistory(cfg.Fingerprint.HistoryDir)
				if err != nil {
					return err
				}
				opts = append(opts, fingerprint.WithHistory(h))
			}
			engine, err := fingerprint.New(cfg.Fingerprint, opts...)
			if err != nil {
				return err
			}
			profiles := make([]fingerprint.Profile, 0, count)
			for range count {
				p, err := engine.Generate("")
				if err != nil {
					return err
				}
				profiles = append(profiles, p)
			}
			return writeJSON(cmd, profiles)
		},
	}
	generate.Flags().IntVarP(&count, "count", "n", 1, "number of profiles to generate")
	generate.Flags().String("policy", "random", "generation policy: random, consistent or custom")
	generate.Flags().Int64("seed", 0, "seed for repeatable random profiles")
	_ = v.BindPFlag("fingerprint.policy", generate.Flags().Lookup("policy"))
	_ = v.BindPFlag("fingerprint.seed", generate.Flags().Lookup("seed"))

	history := &cobra.Command{
		Use:   "history",
		Short: "List the profiles recorded in fingerprint.history_dir",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.Fingerprint.HistoryDir == "" {
				return errors.New("fingerprint.history_dir is not set")
			}
			h, err := fingerprint.NewHistory(cfg.Fingerprint.HistoryDir)
			if err != nil {
				return err
			}
			profiles, err := h.List()
			if err != nil {
				return err
			}
			return writeJSON(cmd, profiles)
		},
	}

	fpCmd.AddCommand(generate, history)
	return fpCmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
