package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/adverant/nexus/pnrfill-worker/internal/capture"
	"github.com/adverant/nexus/pnrfill-worker/internal/clients"
	"github.com/adverant/nexus/pnrfill-worker/internal/config"
	"github.com/adverant/nexus/pnrfill-worker/internal/executor"
	"github.com/adverant/nexus/pnrfill-worker/internal/extractor"
	"github.com/adverant/nexus/pnrfill-worker/internal/fillplan"
	"github.com/adverant/nexus/pnrfill-worker/internal/pipeline"
	"github.com/adverant/nexus/pnrfill-worker/internal/ruledata"
	"github.com/adverant/nexus/pnrfill-worker/internal/rules"
)

// app holds the components every command shares.
type app struct {
	cfg       *config.Config
	tables    *ruledata.Tables
	loader    *capture.Loader
	extractor *extractor.Extractor
	matrix    *rules.Matrix
	planner   *fillplan.Builder
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	tables, err := ruledata.LoadTables(cfg.RulesFile, cfg.MappingFile, cfg.LayoutFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule tables: %w", err)
	}
	ext, err := extractor.New(tables.Layout)
	if err != nil {
		return nil, fmt.Errorf("failed to compile screen layout: %w", err)
	}

	planner := fillplan.NewBuilder(tables.Mapping)
	planner.Retries = cfg.FillRetries

	recognizer := capture.NewTesseractRecognizer(&capture.TesseractConfig{Languages: cfg.TesseractLanguages})
	return &app{
		cfg:       cfg,
		tables:    tables,
		loader:    capture.NewLoader(recognizer, cfg.MaxCaptureSize),
		extractor: ext,
		matrix:    rules.NewMatrix(tables.Rules),
		planner:   planner,
	}, nil
}

// driver returns the form agent client, or an in-memory form for dry runs.
func (a *app) driver(ctx context.Context, dryRun bool) (executor.FormDriver, error) {
	if dryRun {
		return a.dryRunDriver(), nil
	}
	client := clients.NewFormAgentClient(a.cfg.FormAgentURL)
	if err := client.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("form agent unavailable at %s: %w", a.cfg.FormAgentURL, err)
	}
	return client, nil
}

// dryRunDriver mirrors each populating field into the fields it fills, the
// way the live form does.
func (a *app) dryRunDriver() *executor.MemoryDriver {
	d := executor.NewMemoryDriver()
	for _, m := range a.tables.Mapping.Fields {
		for _, target := range m.Populates {
			if t, ok := a.tables.Mapping.For(target); ok {
				d.Link(m.Selector, t.Selector, func(v string) string { return v })
			}
		}
	}
	return d
}

func (a *app) controller(cfg pipeline.Config) (*pipeline.Controller, error) {
	cfg.Extractor = a.extractor
	cfg.Decider = a.matrix
	cfg.Planner = a.planner
	if cfg.RunTimeout == 0 {
		cfg.RunTimeout = a.cfg.RunTimeout
	}
	return pipeline.NewController(&cfg)
}

// correctionFlags registers the name-correction flags on cmd.
func correctionFlags(cmd *cobra.Command) {
	cmd.Flags().String("new-name", "", "Corrected passenger name (SURNAME/GIVEN)")
	cmd.Flags().String("old-name", "", "Name to correct (defaults to the passenger on screen)")
	cmd.Flags().Bool("legal-change", false, "Change follows a legal, gender or marital status change")
	cmd.Flags().Int("documents", 0, "Supporting documents attached")
}

func correctionFrom(cmd *cobra.Command) *rules.CorrectionRequest {
	newName, _ := cmd.Flags().GetString("new-name")
	if newName == "" {
		return nil
	}
	oldName, _ := cmd.Flags().GetString("old-name")
	legal, _ := cmd.Flags().GetBool("legal-change")
	docs, _ := cmd.Flags().GetInt("documents")
	return &rules.CorrectionRequest{
		OldName:           oldName,
		NewName:           newName,
		LegalChange:       legal,
		DocumentsAttached: docs,
	}
}

func jsonOutput(cmd *cobra.Command) bool {
	out, _ := cmd.Flags().GetBool("json")
	return out
}

func writeJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
