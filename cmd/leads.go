package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/visiscope/visiscope/internal/utils"
	"github.com/visiscope/visiscope/pkg/storage"
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "List stored leads, hottest first",
	Long: `List stored leads, hottest first.

Leads are ordered by quick score ascending (fewest passing signals first).
Undetermined leads (bot-blocked sites) are hidden unless --undetermined is set,
and are then listed after every scored lead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		hot, _ := cmd.Flags().GetBool("hot")
		undetermined, _ := cmd.Flags().GetBool("undetermined")
		limit, _ := cmd.Flags().GetInt("limit")

		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		leads, err := db.ListLeads(context.Background(), storage.LeadListOptions{
			HotOnly:             hot,
			IncludeUndetermined: undetermined,
			Limit:               limit,
		})
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(leads)
		}

		if len(leads) == 0 {
			fmt.Println("No leads in the database. Run quickscan --save first.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "DOMAIN\tQUICK SCORE\tMISSING\tSCANNED\t")
		for _, l := range leads {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", l.Domain, l.Score, strings.Join(l.Missing, ", "), l.ScannedAt.Format("2006-01-02"))
		}
		w.Flush()
		return nil
	},
}

var leadsDeleteCmd = &cobra.Command{
	Use:   "delete <domain>...",
	Short: "Remove leads from the database",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, release, err := openDBForWrite(cmd)
		if err != nil {
			return err
		}
		defer release()

		for _, domain := range args {
			if err := db.DeleteLead(context.Background(), domain); err != nil {
				return fmt.Errorf("%s: %w", domain, err)
			}
			utils.Log.Infof("Deleted lead %s", domain)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(leadsCmd)
	leadsCmd.AddCommand(leadsDeleteCmd)
	leadsCmd.Flags().Bool("hot", false, fmt.Sprintf("Only show leads scoring %d or less", storage.HotLeadMaxScore))
	leadsCmd.Flags().Bool("undetermined", false, "Include bot-blocked sites with no quick score")
	leadsCmd.Flags().IntP("limit", "n", 0, "Maximum number of leads to show (0 = all)")
	leadsCmd.Flags().Bool("json", false, "Print leads as JSON")
}
