package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"Go2NetGuard/internal/classifier"
	"Go2NetGuard/internal/config"
	"Go2NetGuard/internal/extract"
	"Go2NetGuard/internal/flowdata"
	"Go2NetGuard/internal/triage"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	var configPath, csvOut string
	var all bool

	cmd := &cobra.Command{
		Use:   "ng-extract <path_to_pcap_file>",
		Short: "Classify the flows of a pcap file without enforcing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return analyze(cmd.Context(), configPath, args[0], csvOut, all)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to the configuration file")
	cmd.Flags().StringVar(&csvOut, "csv", "", "keep the extracted dataset at this path")
	cmd.Flags().BoolVar(&all, "all", false, "print benign flows too")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		log.Fatalf("ng-extract failed: %v", err)
	}
}

func analyze(ctx context.Context, configPath, pcapPath, csvOut string, all bool) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log.Println("Configuration loaded successfully.")

	csvPath := csvOut
	if csvPath == "" {
		dir, err := os.MkdirTemp("", "ng-extract")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		csvPath = filepath.Join(dir, "flows.csv")
	}

	extractor, err := extract.New(cfg)
	if err != nil {
		return err
	}
	log.Printf("Extracting flows from '%s'...", pcapPath)
	if err := extractor.Extract(ctx, pcapPath, csvPath); err != nil {
		return err
	}

	ds, err := flowdata.ParseFile(csvPath, cfg.Parser.MinRows)
	if err != nil {
		return err
	}

	clf, err := classifier.Load(cfg.ModelType, cfg.ModelPath)
	if err != nil {
		return err
	}
	results, err := classifier.NewAdapter(clf).Classify(ds)
	if err != nil {
		return err
	}

	if all {
		for _, r := range results {
			fmt.Printf("%-9s %s\n", r.Label, triage.FormatLine(r.Flow, r.Probability))
		}
	}
	sources, lines := triage.Results(results)
	if !all {
		fmt.Println(strings.Join(lines, "\n"))
	}

	suspects := make([]string, 0, sources.Len())
	for _, s := range sources.Slice() {
		suspects = append(suspects, s.String())
	}
	log.Printf("%d flows, %d malicious, suspect sources: [%s]", len(results), len(lines), strings.Join(suspects, ", "))
	return nil
}
