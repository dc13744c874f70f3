// Copyright 2026 The PoiMatch Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bufio"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2" // register duckdb driver
	"github.com/jcodagnone/poimatch/dedupe"
	"github.com/spf13/cobra"
)

var dedupeOptions = dedupe.DefaultOptions()

var (
	dedupeYes    bool
	dedupeDbPath string
)

var dedupeCmd = &cobra.Command{
	Use:   "dedupe <input.csv> <output.csv>",
	Short: "Annotates a dataset with an is_similar flag per record",
	Long: `
Reads a delimited dataset with name, latitude and longitude columns,
compares every pair of records, and writes the dataset back with an
is_similar column set to 1 for each record that matched at least one
sibling. Row order is preserved.
`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		input, output := args[0], args[1]

		if _, err := os.Stat(input); err != nil {
			return fmt.Errorf("input dataset: %w", err)
		}

		records, err := dedupe.LoadRecords(input)
		if err != nil {
			return err
		}

		if !dedupeYes {
			ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(), len(records))
			if err != nil {
				return err
			}

			if !ok {
				log.Printf("Aborted, nothing was processed")

				return nil
			}
		}

		matcher := dedupe.NewMatcher(records, dedupeOptions)
		if err := matcher.Run(cmd.Context()); err != nil {
			return err
		}

		log.Printf(
			"Matching pass complete - %d records, %d flagged, %d pairs in %d batches, %d rows pruned",
			matcher.Metrics.Rows,
			matcher.Metrics.Similar,
			matcher.Metrics.Pairs,
			matcher.Metrics.Batches,
			matcher.Metrics.RowsPruned,
		)

		if err := dedupe.SaveRecords(output, records); err != nil {
			// matching results are complete at this point, only
			// persistence failed
			return fmt.Errorf("writing %s: %w", output, err)
		}

		log.Printf("Annotated dataset written to %s", output)

		if dedupeDbPath != "" {
			if err := persistRecords(dedupeDbPath, records); err != nil {
				return fmt.Errorf("storing records in %s: %w", dedupeDbPath, err)
			}

			log.Printf("%d records stored in %s", len(records), dedupeDbPath)
		}

		return nil
	},
}

// confirm prompts until the user answers y or n, case-insensitive.
func confirm(in io.Reader, out io.Writer, n int) (bool, error) {
	fmt.Fprintf(out, "%d records will be processed\n", n)
	fmt.Fprint(out, "Start processing? [Y/N]: ")

	reader := bufio.NewReader(in)

	for {
		line, err := reader.ReadString('\n')

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y":
			return true, nil
		case "n":
			return false, nil
		}

		if err != nil {
			// no answer is coming, treat end of input as a refusal
			if errors.Is(err, io.EOF) {
				return false, nil
			}

			return false, fmt.Errorf("reading confirmation: %w", err)
		}

		fmt.Fprint(out, "Please enter valid input [Y/N]: ")
	}
}

func persistRecords(path string, records []*dedupe.Record) error {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	repo := dedupe.NewRecordRepository(db)
	if err := repo.CreateSchema(); err != nil {
		return fmt.Errorf("creating table: %w", err)
	}

	return repo.BulkInsertRecords(records)
}

func init() {
	rootCmd.AddCommand(dedupeCmd)
	dedupeCmd.PersistentFlags().Float64Var(
		&dedupeOptions.MaxDistance,
		"max-distance",
		dedupeOptions.MaxDistance,
		"Distance threshold in meters; farther pairs never match",
	)
	dedupeCmd.PersistentFlags().IntVar(
		&dedupeOptions.MaxEdits,
		"max-edits",
		dedupeOptions.MaxEdits,
		"Names must be strictly fewer than this many edits apart",
	)
	dedupeCmd.PersistentFlags().IntVar(
		&dedupeOptions.BatchSize,
		"batch-size",
		dedupeOptions.BatchSize,
		"Pending comparisons dispatched before waiting for the batch",
	)
	dedupeCmd.PersistentFlags().IntVar(
		&dedupeOptions.MaxProcs,
		"max-procs",
		0,
		"Max concurrent comparisons per batch. Defaults to the number of CPUs",
	)
	dedupeCmd.PersistentFlags().BoolVar(
		&dedupeOptions.Exact,
		"exact",
		false,
		"Evaluate every pair instead of pruning rows already flagged",
	)
	dedupeCmd.PersistentFlags().BoolVar(
		&dedupeOptions.Prefilter,
		"prefilter",
		false,
		"Skip pairs in non-adjacent H3 cells; same results, fewer comparisons",
	)
	dedupeCmd.PersistentFlags().BoolVar(
		&dedupeOptions.FoldNames,
		"fold-names",
		false,
		"Compare accent-folded, lowercased names",
	)
	dedupeCmd.PersistentFlags().BoolVarP(
		&dedupeYes,
		"yes",
		"y",
		false,
		"Skip the confirmation prompt",
	)
	dedupeCmd.PersistentFlags().StringVar(
		&dedupeDbPath,
		"db",
		"",
		"Also store the annotated records in a duckdb database at this path",
	)
}
