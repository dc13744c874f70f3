// Copyright 2026 The PoiMatch Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/duckdb/duckdb-go/v2" // register duckdb driver
	"github.com/jcodagnone/poimatch/dedupe"
	"github.com/spf13/cobra"
)

var serveOptions = dedupe.DefaultOptions()

var (
	serveDbPath string
	serveListen string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves a stored annotated dataset over HTTP",
	Long: `
Exposes a dataset previously stored with 'dedupe --db' as a JSON API:
stored records, dataset statistics and an ad-hoc pair check endpoint
that applies the same distance and edit thresholds as the matcher.
`,
	RunE: func(_ *cobra.Command, _ []string) error {
		db, err := sql.Open("duckdb", serveDbPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()

		repo := dedupe.NewRecordRepository(db)

		server := dedupe.NewServer(repo, serveOptions)

		log.Printf("Serving %s on %s", serveDbPath, serveListen)

		return server.Run(serveListen)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.PersistentFlags().StringVar(
		&serveDbPath,
		"db",
		"poimatch.duckdb",
		"Database produced by 'dedupe --db'",
	)
	serveCmd.PersistentFlags().StringVar(
		&serveListen,
		"listen",
		":8080",
		"Address to listen on",
	)
	serveCmd.PersistentFlags().Float64Var(
		&serveOptions.MaxDistance,
		"max-distance",
		serveOptions.MaxDistance,
		"Distance threshold in meters for the pair check endpoint",
	)
	serveCmd.PersistentFlags().IntVar(
		&serveOptions.MaxEdits,
		"max-edits",
		serveOptions.MaxEdits,
		"Edit distance threshold for the pair check endpoint",
	)
	serveCmd.PersistentFlags().BoolVar(
		&serveOptions.FoldNames,
		"fold-names",
		false,
		"Compare accent-folded, lowercased names in the pair check endpoint",
	)
}
