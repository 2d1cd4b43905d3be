package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"tokenforge/pkg/metrics"
	"tokenforge/pkg/token"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show pipeline and extractor metrics from Prometheus",
	Long: `Queries a Prometheus server that scrapes the ops /metrics endpoint and
prints batch throughput plus per-extractor request and error totals.`,
	Run: func(cmd *cobra.Command, _ []string) {
		runStats(cmd)
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().String("prometheus", "", "Prometheus base URL (default: ops.prometheus_url)")
	statsCmd.Flags().String("extractor", "", "Limit extractor stats to one extractor name")
}

func runStats(cmd *cobra.Command) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	url, _ := cmd.Flags().GetString("prometheus")
	if url == "" {
		url = cfg.Ops.PrometheusURL
	}
	if url == "" {
		url = "http://localhost:9090"
	}

	svc, err := metrics.NewQueryService(url)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pm, err := svc.GetPipelineMetrics(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to query %s: %v\n", url, err)
		os.Exit(1)
	}

	fmt.Printf("Pipeline: %d images done, %d failed\n", pm.ImagesDone, pm.ImagesFailed)
	for _, typ := range token.AllTypes() {
		if n, ok := pm.TokensAggregated[string(typ)]; ok {
			fmt.Printf("  %s tokens aggregated: %d\n", typ, n)
		}
	}

	var names []string
	if name, _ := cmd.Flags().GetString("extractor"); name != "" {
		names = []string{name}
	} else {
		names, err = svc.ListExtractors(ctx)
		if err != nil {
			fmt.Printf("❌ %v\n", err)
			os.Exit(1)
		}
		sort.Strings(names)
	}
	if len(names) == 0 {
		fmt.Println("No extractor metrics recorded yet.")
		return
	}

	fmt.Println("Extractors:")
	for _, name := range names {
		em, err := svc.GetExtractorMetrics(ctx, name)
		if err != nil {
			fmt.Printf("❌ %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("  %s: %d requests, %d errors (%.1f%%), %d circuit opens\n",
			em.Extractor, em.Requests, em.Errors, em.ErrorRate*100, em.CircuitOpens)
	}
}
