// Command scenario replays random event sequences against the game tables
// and prints how prices and building returns would move.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ivelashvili/royal-exchange/internal/config"
	"github.com/ivelashvili/royal-exchange/internal/scenario"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("ROYAL_CONFIG"), "Game tables YAML (embedded defaults when empty)")
		scenarios  = flag.Int("scenarios", 10, "Number of scenarios")
		rounds     = flag.Int("rounds", 10, "Rounds per scenario")
		seed       = flag.Int64("seed", 0, "Random seed (0 picks one from the clock)")
		asJSON     = flag.Bool("json", false, "Print results as JSON")
	)
	flag.Parse()

	var (
		tables config.Config
		err    error
	)
	if *configPath == "" {
		tables, err = config.Default()
	} else {
		tables, err = config.Load(*configPath)
	}
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	results, err := scenario.Run(tables, scenario.Options{Scenarios: *scenarios, Rounds: *rounds, Seed: *seed})
	if err != nil {
		log.Fatalf("Run scenarios: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			log.Fatal(err)
		}
		return
	}

	fmt.Printf("%d scenarios x %d rounds, seed %d\n", *scenarios, *rounds, *seed)
	for _, res := range results {
		printResult(res)
	}
}

func printResult(res scenario.Result) {
	fmt.Printf("\n=== Scenario %d ===\n", res.Scenario)
	fmt.Println("Events:")
	for i, e := range res.Events {
		fmt.Printf("  %2d. %s\n", i+1, e)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\nRESOURCE\tSTART\tEND\tCHANGE")
	for _, p := range res.Prices {
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%+.2f%%\n", p.Resource, p.Start, p.End, p.ChangePercent)
	}
	tw.Flush()

	tw = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\nBUILDING\tCOST\tCOINS\tRESOURCES\tVALUE\tROI")
	for _, b := range res.Buildings {
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%s\t%.2f\t%.2f%%\n",
			b.Type, b.Cost, b.IncomeCoins, formatResources(b.IncomeResources), b.IncomeValue, b.ROIPercent)
	}
	tw.Flush()
}

func formatResources(m map[string]float64) string {
	if len(m) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(m))
	for name, amount := range m {
		parts = append(parts, fmt.Sprintf("%s %.2f", name, amount))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}
