package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/visiscope/visiscope/internal/utils"
	"github.com/visiscope/visiscope/pkg/probe"
	"github.com/visiscope/visiscope/pkg/storage"
)

var quickscanCmd = &cobra.Command{
	Use:   "quickscan [sites...]",
	Short: "Quick-scan prospect sites and rank them as outreach leads",
	Long: `Quick-scan prospect sites for robots.txt, sitemap, schema markup, llms.txt
and a canonical link.

The quick score is inverted: each passing signal adds 20, so LOWER scores mean
more gaps and a hotter lead. Sites that refuse the probe (HTTP 403/503) are
"undetermined", which is not the same as 0.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sites := args
		if file, _ := cmd.Flags().GetString("file"); file != "" {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			fromFile, err := utils.ReadLines(f)
			f.Close()
			if err != nil {
				return fmt.Errorf("reading %s: %w", file, err)
			}
			sites = append(sites, fromFile...)
		}
		if len(sites) == 0 {
			return fmt.Errorf("no sites given (pass them as arguments or with --file)")
		}

		prober, err := newProber(cmd)
		if err != nil {
			return err
		}

		batch, _ := cmd.Flags().GetInt("batch")
		if batch <= 0 {
			batch = viper.GetInt("probe.batch")
		}

		utils.Log.Infof("Scanning %d sites in batches of %d", len(sites), batch)
		results := prober.ScanMany(context.Background(), sites, batch)

		if save, _ := cmd.Flags().GetBool("save"); save {
			if err := saveLeads(cmd, results); err != nil {
				return err
			}
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}
		printScanTable(results)
		return nil
	},
}

func saveLeads(cmd *cobra.Command, results []probe.Result) error {
	db, release, err := openDBForWrite(cmd)
	if err != nil {
		return err
	}
	defer release()

	saved := 0
	for _, r := range results {
		if _, bad := r.Errors["site"]; bad {
			continue
		}
		lead, err := storage.LeadFromScan(r)
		if err != nil {
			utils.Log.Warnf("Skipping %s: %v", r.Site, err)
			continue
		}
		if err := db.UpsertLead(context.Background(), lead); err != nil {
			return fmt.Errorf("saving %s: %w", lead.Domain, err)
		}
		saved++
	}
	utils.Log.Infof("Saved %d leads", saved)
	return nil
}

func printScanTable(results []probe.Result) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "SITE\tQUICK SCORE\tMISSING\t")
	for _, r := range results {
		missing := strings.Join(r.Signals.Missing(), ", ")
		if msg, bad := r.Errors["site"]; bad {
			missing = "error: " + msg
		} else if r.Signals.BotBlocked {
			missing = "probe refused (bot-blocked)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t\n", r.Site, r.Score, missing)
	}
	w.Flush()
}

func init() {
	rootCmd.AddCommand(quickscanCmd)
	quickscanCmd.Flags().StringP("file", "f", "", "File with one site per line")
	quickscanCmd.Flags().IntP("batch", "b", 0, "Sites scanned concurrently per batch (default probe.batch)")
	quickscanCmd.Flags().Bool("save", false, "Store results as leads in the database")
	quickscanCmd.Flags().Bool("json", false, "Print results as JSON")
}
