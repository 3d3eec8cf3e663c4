// Command impcgctl inspects a clinical engine data directory: it verifies
// the audit chain, exports saved encounters and shows the PPH session.
// Every command opens the directory read-only and runs none of the engine's
// startup protocols.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/impcg-clinical-engine/internal/app"
	"github.com/impcg-clinical-engine/internal/config"
	"github.com/impcg-clinical-engine/internal/report"
)

func main() {
	var configFile string

	rootCmd := &cobra.Command{
		Use:          "impcgctl",
		Short:        "Operator tooling for the IMPCG clinical engine",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a config file (default: search ./config and /etc/impcg-engine)")

	open := func(ctx context.Context) (*app.Inspector, error) {
		var (
			m   *config.Manager
			err error
		)
		if configFile != "" {
			m, err = config.NewManagerFromFile(configFile)
		} else {
			m, err = config.NewManager()
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
		cfg := m.GetConfig()
		return app.Inspect(ctx, cfg, app.NewLogger(cfg.Logging))
	}

	rootCmd.AddCommand(auditCmd(open))
	rootCmd.AddCommand(recordsCmd(open))
	rootCmd.AddCommand(pphCmd(open))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type opener func(ctx context.Context) (*app.Inspector, error)

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func auditCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit trail",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Verify the audit hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.Audit.Verify(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(cmd, rep); err != nil {
				return err
			}
			if !rep.Valid {
				return fmt.Errorf("audit chain is broken")
			}
			return nil
		},
	})

	var limit int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.Audit.Entries(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, entries)
		},
	}
	tail.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	cmd.AddCommand(tail)

	return cmd
}

func recordsCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Work with saved encounters",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print the high-risk and low-risk tallies",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return printJSON(cmd, a.Patients.Stats(cmd.Context()))
		},
	})

	var out string
	export := &cobra.Command{
		Use:   "export",
		Short: "Export every saved encounter to an XLSX workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			records := a.Patients.All(cmd.Context())
			data, err := report.RenderRecordsXLSX(records, a.Location)
			if err != nil {
				return err
			}
			if out == "" {
				out = filepath.Join(a.Config.Storage.DataDir, "encounters.xlsx")
			}
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d records to %s\n", len(records), out)
			return nil
		},
	}
	export.Flags().StringVarP(&out, "out", "o", "", "output path (default: <data_dir>/encounters.xlsx)")
	cmd.AddCommand(export)

	return cmd
}

func pphCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pph",
		Short: "Inspect the PPH emergency session",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the persisted PPH session without resuming or clearing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			snap, err := a.PPH(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, snap)
		},
	})

	return cmd
}
