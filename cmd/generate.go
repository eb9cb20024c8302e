package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brightpath-advice/advicegen/internal/model"
)

var (
	genCaseID     string
	genDocType    string
	genReference  string
	genClientA    string
	genClientB    string
	genTranscript string
	genQuote      string
	genNotes      string
	genDeviation  string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run the document pipeline for a case",
	Long:  "Generates a document for an existing case (--case) or creates a case from local files first. Prints the run result as JSON.",
	RunE: func(cmd *cobra.Command, args []string) error {
		docType := model.DocumentType(genDocType)
		if !docType.Valid() {
			return fmt.Errorf("unknown document type %q", genDocType)
		}

		env, err := initPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		caseID := genCaseID
		if caseID == "" {
			if genReference == "" {
				return eris.New("cmd: either --case or --reference is required")
			}
			c, err := createCaseFromFiles(cmd, env)
			if err != nil {
				return err
			}
			caseID = c.ID
			zap.L().Info("case created", zap.String("case_id", caseID), zap.String("reference", c.Reference))
		}

		result, err := env.orchestrator.Generate(cmd.Context(), caseID, docType)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func createCaseFromFiles(cmd *cobra.Command, env *env) (*model.Case, error) {
	readOptional := func(path string) (string, error) {
		if path == "" {
			return "", nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", eris.Wrapf(err, "cmd: read %s", path)
		}
		return string(data), nil
	}

	transcript, err := readOptional(genTranscript)
	if err != nil {
		return nil, err
	}
	quote, err := readOptional(genQuote)
	if err != nil {
		return nil, err
	}
	notes, err := readOptional(genNotes)
	if err != nil {
		return nil, err
	}
	deviation, err := readOptional(genDeviation)
	if err != nil {
		return nil, err
	}

	return env.store.CreateCase(cmd.Context(), model.Case{
		Reference:      genReference,
		ClientAName:    genClientA,
		ClientBName:    genClientB,
		Transcript:     transcript,
		QuoteText:      quote,
		AdviserNotes:   notes,
		DeviationNotes: deviation,
	})
}

func init() {
	generateCmd.Flags().StringVar(&genCaseID, "case", "", "existing case ID")
	generateCmd.Flags().StringVar(&genDocType, "doc-type", "soa", "document type: soa, roa, soe, kiwisaver")
	generateCmd.Flags().StringVar(&genReference, "reference", "", "reference for a new case")
	generateCmd.Flags().StringVar(&genClientA, "client-a", "", "primary client name")
	generateCmd.Flags().StringVar(&genClientB, "client-b", "", "partner client name")
	generateCmd.Flags().StringVar(&genTranscript, "transcript", "", "path to call transcript")
	generateCmd.Flags().StringVar(&genQuote, "quote", "", "path to quote text")
	generateCmd.Flags().StringVar(&genNotes, "notes", "", "path to adviser notes")
	generateCmd.Flags().StringVar(&genDeviation, "deviation", "", "path to deviation notes")
	rootCmd.AddCommand(generateCmd)
}
