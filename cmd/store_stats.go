package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mapi-to-maildir/backend"
	"github.com/dhcgn/mapi-to-maildir/config"
	"github.com/dhcgn/mapi-to-maildir/convert"
	"github.com/dhcgn/mapi-to-maildir/filter"
	"github.com/dhcgn/mapi-to-maildir/model"
	"github.com/dhcgn/mapi-to-maildir/source"
	"github.com/dhcgn/mapi-to-maildir/stats"
)

// Tracked report categories, in print order.
var tracked = []string{"Folder", "Class", "From", "To", "Subject"}

// storeReport counts message attributes of a store walk.
type storeReport struct {
	counter  map[string]map[string]int
	messages int
	skipped  int
	ndr      int
	failed   int
}

func newStoreReport() *storeReport {
	r := &storeReport{counter: make(map[string]map[string]int)}
	for _, name := range tracked {
		r.counter[name] = make(map[string]int)
	}
	return r
}

func (r *storeReport) add(folder string, msg *model.Message) {
	r.messages++
	r.counter["Folder"][folder]++
	r.counter["Class"][msg.Class]++
	if msg.From != nil {
		r.counter["From"][msg.From.Email]++
	}
	for _, rcpt := range msg.Recipients {
		if rcpt.Kind == model.To {
			r.counter["To"][rcpt.Email]++
		}
	}
	if msg.Subject != "" {
		r.counter["Subject"][msg.Subject]++
	}
}

// NewStoreStatsCommand returns the store-stats subcommand.
func NewStoreStatsCommand() *cobra.Command {
	var (
		reportDir     string
		topN          int
		includeHeader []string
		includeBody   []string
		excludeHeader []string
		excludeBody   []string
	)

	cmd := &cobra.Command{
		Use:   "store-stats",
		Short: "Analyse a message store and show statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadSourceConfig(cmd)
			if err != nil {
				return err
			}

			includeActive := len(includeHeader) > 0 || len(includeBody) > 0
			excludeActive := len(excludeHeader) > 0 || len(excludeBody) > 0
			if includeActive && excludeActive {
				return fmt.Errorf("include and exclude flags are mutually exclusive")
			}

			f, err := filter.New(filter.Options{
				IncludeHeader: includeHeader,
				IncludeBody:   includeBody,
				ExcludeHeader: excludeHeader,
				ExcludeBody:   excludeBody,
			})
			if err != nil {
				return fmt.Errorf("create filter: %w", err)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			logger := slog.Default()

			store, err := backend.Open(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			fmt.Println("Analyzing message store:", store.Name())

			report := newStoreReport()
			printStats := func() {
				// ANSI escape code to clear screen and move cursor to top-left
				fmt.Print("\033[H\033[2J")
				printReport(report, f, topN)
			}

			err = walkStore(ctx, store, f, logger, report, func() {
				if report.messages%250 == 0 {
					printStats()
				}
			})
			if err != nil {
				return fmt.Errorf("error reading message store: %w", err)
			}

			printStats()

			if err := saveCSVReports(report.counter, tracked, reportDir, 1000); err != nil {
				return fmt.Errorf("error saving CSV reports: %w", err)
			}

			fmt.Printf("\nReports saved to directory: %s\n", reportDir)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("config", "", "YAML file with flag values; flags given on the command line take precedence")
	config.RegisterSourceFlags(flags)
	flags.StringVarP(&reportDir, "output", "o", ".", "Output directory for CSV reports")
	flags.IntVarP(&topN, "top", "t", 10, "Number of top items to display in statistics")
	flags.StringArrayVar(&includeHeader, "include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArrayVar(&includeBody, "include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArrayVar(&excludeHeader, "exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArrayVar(&excludeBody, "exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
	return cmd
}

// walkStore translates every message below the store root into report.
// Unreadable folders and messages are logged and counted, not fatal.
func walkStore(ctx context.Context, store source.Store, f *filter.Filter, logger *slog.Logger, report *storeReport, progress func()) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	root, err := store.Root(ctx)
	if err != nil {
		return fmt.Errorf("open root folder: %w", err)
	}
	translator := &convert.Translator{Logger: logger}
	return walkFolder(ctx, root, "", translator, f, logger, report, progress)
}

func walkFolder(ctx context.Context, folder source.Folder, path string, tr *convert.Translator, f *filter.Filter, logger *slog.Logger, report *storeReport, progress func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ids, err := folder.Contents(ctx)
	if err != nil {
		logger.Warn("folder contents unreadable", "folder", path, "err", err)
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := folder.OpenMessage(ctx, id)
		if err != nil {
			report.failed++
			logger.Warn("message unreadable", "folder", path, "entryID", string(id), "err", err)
			continue
		}
		res, err := tr.Translate(ctx, msg)
		if err != nil {
			report.failed++
			logger.Warn("message not translated", "folder", path, "entryID", string(id), "err", err)
			continue
		}
		if res.Message == nil {
			report.ndr++
			continue
		}
		if f != nil && !f.AllowsMessage(res.Message) {
			report.skipped++
			continue
		}
		report.add(path, res.Message)
		if progress != nil {
			progress()
		}
	}

	children, err := folder.Subfolders(ctx)
	if err != nil {
		logger.Warn("subfolders unreadable", "folder", path, "err", err)
		return nil
	}
	for _, child := range children {
		childPath := child.Name()
		if path != "" {
			childPath = path + "/" + childPath
		}
		if err := walkFolder(ctx, child, childPath, tr, f, logger, report, progress); err != nil {
			return err
		}
	}
	return nil
}

func printReport(report *storeReport, f *filter.Filter, topN int) {
	total := report.messages + report.skipped
	var filterPercent float64
	if total > 0 {
		filterPercent = float64(report.skipped) / float64(total) * 100
	}
	fmt.Printf("Processed %d messages (skipped %d by filters, %.2f%%)...\n", report.messages, report.skipped, filterPercent)
	fmt.Printf("Non-delivery reports: %d, unreadable: %d\n\n", report.ndr, report.failed)

	filterStats := f.GetStats()
	sections := []struct {
		title    string
		patterns []string
		hits     map[string]int
	}{
		{"Include Header Filters:", filterStats.IncludeHeaderPatterns, filterStats.IncludeHeaderHits},
		{"Include Body Filters:", filterStats.IncludeBodyPatterns, filterStats.IncludeBodyHits},
		{"Exclude Header Filters:", filterStats.ExcludeHeaderPatterns, filterStats.ExcludeHeaderHits},
		{"Exclude Body Filters:", filterStats.ExcludeBodyPatterns, filterStats.ExcludeBodyHits},
	}
	hasFilterStats := false
	for _, s := range sections {
		if len(s.patterns) == 0 {
			continue
		}
		hasFilterStats = true
		fmt.Println(s.title)
		printFilterHits(s.patterns, s.hits)
		fmt.Println()
	}
	if hasFilterStats {
		fmt.Println("---")
		fmt.Println()
	}

	for _, name := range tracked {
		fmt.Printf("Top %d %s:\n", topN, name)
		stats.PrettyPrintTop(report.counter[name], topN)
		fmt.Println()
	}
}

func saveCSVReports(counter map[string]map[string]int, names []string, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, name := range names {
		filePath := filepath.Join(dir, fmt.Sprintf("report_%s.csv", normalizeReportName(name)))
		file, err := os.Create(filePath)
		if err != nil {
			return err
		}

		writer := csv.NewWriter(file)
		if err := writer.Write([]string{"Value", "Count"}); err != nil {
			file.Close()
			return err
		}
		for _, p := range stats.TopN(counter[name], limit) {
			if err := writer.Write([]string{p.Key, strconv.Itoa(p.Value)}); err != nil {
				file.Close()
				return err
			}
		}

		writer.Flush()
		if err := writer.Error(); err != nil {
			file.Close()
			return err
		}
		if err := file.Close(); err != nil {
			return err
		}
	}

	return nil
}

func normalizeReportName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}

func printFilterHits(patterns []string, hits map[string]int) {
	type pair struct {
		Pattern string
		Count   int
	}
	pairs := make([]pair, 0, len(patterns))
	for _, pattern := range patterns {
		pairs = append(pairs, pair{pattern, hits[pattern]})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Count != pairs[j].Count {
			return pairs[i].Count > pairs[j].Count
		}
		return pairs[i].Pattern < pairs[j].Pattern
	})

	for _, p := range pairs {
		if p.Count > 0 {
			fmt.Printf("  ✓ %s: %d hits\n", p.Pattern, p.Count)
		} else {
			fmt.Printf("  ✗ %s: 0 hits\n", p.Pattern)
		}
	}
}
