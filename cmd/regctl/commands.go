package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"regulatory-rag-core/internal/httpapi"
	"regulatory-rag-core/internal/ingest"
	"regulatory-rag-core/internal/observability/tracing"
	"regulatory-rag-core/internal/validation"
)

var ingestFamiliesFlag string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run a full (or scoped) ingestion across enabled families",
	Long:  `run_ingestion(families): fetches, chunks, embeds, and upserts every unit in the selected families, resuming from each family's checkpoint.`,
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFamiliesFlag, "families", "", "comma-separated subset of federal,state,county,municipal (default: all enabled in config)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	d, err := buildDeps(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfig)
	}
	defer d.close()

	families := d.cfg.EnabledSources
	if ingestFamiliesFlag != "" {
		families = strings.Split(ingestFamiliesFlag, ",")
	}

	svc := &ingestService{d: d}
	result, err := svc.RunBatch(ctx, families)
	if err != nil {
		d.logger.Error("ingestion run failed", zap.Error(err))
		os.Exit(exitFatal)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(result)

	if anyUnitFailed(result) {
		os.Exit(exitPartial)
	}
	return nil
}

func anyUnitFailed(result ingest.BatchPipelineResult) bool {
	for _, family := range result.Families {
		if family.Aborted {
			return true
		}
		for _, unit := range family.Units {
			if unit.Error != "" {
				return true
			}
		}
	}
	return false
}

var ingestUnitCmd = &cobra.Command{
	Use:   "ingest-unit <family> <identifier>",
	Short: "Run ingestion for a single unit",
	Long:  `run_ingestion_unit(family, identifier): fetches and processes one CFR title, statute code, TAC title, county, or city.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runIngestUnit,
}

func runIngestUnit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	d, err := buildDeps(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfig)
	}
	defer d.close()

	svc := &ingestService{d: d}
	result, err := svc.RunUnit(ctx, args[0], args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitFatal)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(result)

	if result.Error != "" {
		os.Exit(exitPartial)
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the query/retrieval and operator HTTP API",
	Long:  `Starts the gin HTTP server exposing process_query, conversation history, ingestion triggers, and validation reports (spec.md §6.8).`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	d, err := buildDeps(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfig)
	}
	defer d.close()

	shutdown, err := tracing.Init(ctx, "regulatory-rag-core")
	if err != nil {
		d.logger.Warn("tracing init failed, continuing without export", zap.Error(err))
	} else {
		defer shutdown(ctx)
	}

	svc := &ingestService{d: d}
	server := httpapi.New(svc, d.pipeline, d.validator, d.db, d.logger).WithPrometheusRegistry(d.promReg)

	d.logger.Info("starting regctl serve", zap.String("addr", d.cfg.HTTPAddr))
	srv := &http.Server{Addr: d.cfg.HTTPAddr, Handler: server.Router()}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		d.logger.Error("server exited", zap.Error(err))
		os.Exit(exitFatal)
	}
	return nil
}

var validateFormatFlag string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run coverage, quality, and storage validation checks",
	Long:  `check_coverage() / validate_quality() / format_report(markdown|json) against the live vector index and object store (spec.md §4.10).`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateFormatFlag, "format", "json", "output format: json or markdown")
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	d, err := buildDeps(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfig)
	}
	defer d.close()

	report, err := d.validator.GenerateFullValidationReport(ctx)
	if err != nil {
		d.logger.Error("validation run failed", zap.Error(err))
		os.Exit(exitFatal)
	}

	if validateFormatFlag == "markdown" {
		fmt.Println(validation.RenderHumanReadable(report))
	} else {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(report)
	}

	if len(report.Coverage.Gaps) > 0 || len(report.Storage.MissingFolders) > 0 {
		os.Exit(exitPartial)
	}
	return nil
}
