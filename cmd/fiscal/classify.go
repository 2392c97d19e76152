package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/fiscal/internal/classifier"
	"github.com/opensource-finance/fiscal/internal/compliance"
	"github.com/opensource-finance/fiscal/internal/config"
	"github.com/opensource-finance/fiscal/internal/domain"
	"github.com/opensource-finance/fiscal/internal/rulefile"
	"github.com/opensource-finance/fiscal/internal/rules"
)

type classifyOptions struct {
	*rootOptions
	RulesPath string
	TxPath    string
}

// newClassifyCommand classifies transactions against a rule file without a
// database. Nothing is stored.
func newClassifyCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &classifyOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify transactions offline against a rule file",
		Long: `Classify one transaction, or a JSON array of them, against the rules of a
YAML rule file and print the evaluations as JSON.

Example:
  fiscal classify --rules rules.yaml --tx tx.json
  echo '{"description":"Gasolina","amount":"500"}' | fiscal classify --rules rules.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassify(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.RulesPath, "rules", "", "YAML rule file")
	cmd.Flags().StringVar(&opts.TxPath, "tx", "-", "transaction JSON file, - for stdin")
	cmd.MarkFlagRequired("rules")

	return cmd
}

func runClassify(cmd *cobra.Command, opts *classifyOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	defs, err := rulefile.Load(opts.RulesPath)
	if err != nil {
		return err
	}

	var r io.Reader = cmd.InOrStdin()
	if opts.TxPath != "-" {
		f, err := os.Open(opts.TxPath)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	reqs, err := readTransactions(r)
	if err != nil {
		return err
	}

	engine, err := rules.NewEngine()
	if err != nil {
		return err
	}
	for _, def := range defs {
		if err := engine.ValidateRule(def); err != nil {
			return fmt.Errorf("rule %q: %w", def.Name, err)
		}
	}
	generator, err := compliance.NewDefaultGenerator(cfg.Compliance)
	if err != nil {
		return err
	}
	svc := classifier.NewService(nil, nil, nil, engine, generator, nil, classifier.Config{})

	evals := make([]*domain.Evaluation, 0, len(reqs))
	for i, req := range reqs {
		if err := req.Validate(); err != nil {
			return fmt.Errorf("transaction %d: %w", i+1, err)
		}
		tx := req.ToTransaction("local")
		if tx.ID == "" {
			tx.ID = fmt.Sprintf("tx-%d", i+1)
		}
		eval, err := svc.Preview(cmd.Context(), tx, defs)
		if err != nil {
			return fmt.Errorf("transaction %d: %w", i+1, err)
		}
		evals = append(evals, eval)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if len(evals) == 1 {
		return enc.Encode(evals[0])
	}
	return enc.Encode(evals)
}

// readTransactions accepts a single object or an array.
func readTransactions(r io.Reader) ([]domain.TransactionRequest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("no transaction given")
	}

	if data[0] == '[' {
		var reqs []domain.TransactionRequest
		if err := json.Unmarshal(data, &reqs); err != nil {
			return nil, fmt.Errorf("invalid transaction JSON: %w", err)
		}
		return reqs, nil
	}

	var req domain.TransactionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("invalid transaction JSON: %w", err)
	}
	return []domain.TransactionRequest{req}, nil
}
