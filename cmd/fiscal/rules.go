package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/fiscal/internal/config"
	"github.com/opensource-finance/fiscal/internal/domain"
	"github.com/opensource-finance/fiscal/internal/rulefile"
	"github.com/opensource-finance/fiscal/internal/rules"
)

func newRulesCommand(rootOpts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Validate, import and export rule files",
	}

	cmd.AddCommand(newRulesValidateCommand())
	cmd.AddCommand(newRulesImportCommand(rootOpts))
	cmd.AddCommand(newRulesExportCommand(rootOpts))

	return cmd
}

func newRulesValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a rule file, including its CEL expressions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := rulefile.Load(args[0])
			if err != nil {
				return err
			}

			engine, err := rules.NewEngine()
			if err != nil {
				return err
			}
			var errs []error
			for i, def := range defs {
				if err := engine.ValidateRule(def); err != nil {
					errs = append(errs, fmt.Errorf("rule %d (%q): %w", i+1, def.Name, err))
				}
			}
			if err := errors.Join(errs...); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rules OK\n", args[0], len(defs))
			return nil
		},
	}
}

func newRulesImportCommand(rootOpts *rootOptions) *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Store every rule of a rule file for a tenant, or none on error",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := rulefile.Load(args[0])
			if err != nil {
				return err
			}

			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.svc.ImportRules(cmd.Context(), tenantID, defs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d rules for tenant %s\n", n, tenantID)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.MarkFlagRequired("tenant")

	return cmd
}

func newRulesExportCommand(rootOpts *rootOptions) *cobra.Command {
	var tenantID, ruleType string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print a tenant's rules as a rule file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			defs, err := a.repo.ListRules(cmd.Context(), tenantID, domain.RuleFilter{RuleType: ruleType})
			if err != nil {
				return err
			}
			data, err := rulefile.Marshal(defs)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&ruleType, "type", "", "only export rules of this type")
	cmd.MarkFlagRequired("tenant")

	return cmd
}

func openApp(rootOpts *rootOptions) (*app, error) {
	cfg, err := config.Load(rootOpts.ConfigPath)
	if err != nil {
		return nil, err
	}
	setupLogger(cfg.Logging)
	return newApp(cfg)
}
