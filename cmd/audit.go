package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/visiscope/visiscope/internal/utils"
	"github.com/visiscope/visiscope/pkg/audit"
	"github.com/visiscope/visiscope/pkg/storage"
	"github.com/visiscope/visiscope/pkg/visibility"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Run a full AI visibility audit for one brand",
	Long: `Run a full AI visibility audit for one brand.

Every question is put to every configured engine (see "engines" in the config
file). The site is quick-scanned for the on-site technical checks unless
--no-scan is set. The content and reputation scores (0-10) come from flags.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		site, _ := cmd.Flags().GetString("site")
		brand, _ := cmd.Flags().GetString("brand")
		domain, _ := cmd.Flags().GetString("domain")
		competitorList, _ := cmd.Flags().GetString("competitors")
		questions, _ := cmd.Flags().GetStringArray("question")
		noScan, _ := cmd.Flags().GetBool("no-scan")
		save, _ := cmd.Flags().GetBool("save")

		if file, _ := cmd.Flags().GetString("questions-file"); file != "" {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			fromFile, err := utils.ReadLines(f)
			f.Close()
			if err != nil {
				return fmt.Errorf("reading %s: %w", file, err)
			}
			questions = append(questions, fromFile...)
		}

		engs, err := loadEngines(cmd)
		if err != nil {
			return err
		}

		cfg := audit.Config{
			Site:        site,
			Brand:       brand,
			Domain:      domain,
			Competitors: utils.SplitList(competitorList),
			Questions:   questions,
			Engines:     engs,
			OnSite:      onSiteFromFlags(cmd),
			OffSite:     offSiteFromFlags(cmd),
			Concurrency: viper.GetInt("audit.concurrency"),
			Log:         utils.Log,
			OnQueryDone: func(q audit.QueryReport) {
				utils.Log.Infof("[%s] %q", q.BestResult.Bucket, q.QueryText)
			},
		}
		if !noScan && site != "" {
			if cfg.Prober, err = newProber(cmd); err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		report, err := audit.Run(ctx, cfg)
		if err != nil {
			return err
		}

		if save {
			db, release, err := openDBForWrite(cmd)
			if err != nil {
				return err
			}
			id, err := db.SaveAudit(context.Background(), report)
			release()
			if err != nil {
				return err
			}
			utils.Log.Infof("Saved audit #%d", id)
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		printQueries(report.Queries)
		fmt.Println()
		printScore(report.Score)
		return nil
	},
}

func onSiteFromFlags(cmd *cobra.Command) visibility.OnSiteSignals {
	answerBox, _ := cmd.Flags().GetInt("answer-box")
	structure, _ := cmd.Flags().GetInt("structure")
	authority, _ := cmd.Flags().GetInt("authority")
	return visibility.OnSiteSignals{
		AnswerBoxScore: answerBox,
		StructureScore: structure,
		AuthorityScore: authority,
	}
}

func offSiteFromFlags(cmd *cobra.Command) visibility.OffSiteQualitative {
	entity, _ := cmd.Flags().GetInt("entity-consistency")
	reputation, _ := cmd.Flags().GetInt("reputation")
	canonical, _ := cmd.Flags().GetBool("canonical-sources")
	return visibility.OffSiteQualitative{
		EntityConsistencyScore:  entity,
		CanonicalSourcesPresent: canonical,
		ReputationScore:         reputation,
	}
}

func printQueries(queries []audit.QueryReport) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "QUESTION\tBEST\tENGINE\tSENTIMENT\tCOMPETITORS\t")
	for _, q := range queries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t\n",
			q.QueryText, q.BestResult.Bucket, q.BestResult.Engine, q.BestResult.Sentiment,
			strings.Join(q.AllCompetitors, ", "))
	}
	w.Flush()
}

func printScore(s visibility.Score) {
	fmt.Printf("On-site:   %2d/%d\n", s.OnSite, visibility.HalfMax)
	fmt.Printf("Off-site:  %2d/%d (share of voice %d%%)\n", s.OffSite, visibility.HalfMax, s.ShareOfVoice)
	fmt.Printf("Total:     %2d/%d\n", s.Total, visibility.Max)
}

var auditsCmd = &cobra.Command{
	Use:   "audits",
	Short: "List stored audits, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		site, _ := cmd.Flags().GetString("site")
		limit, _ := cmd.Flags().GetInt("limit")

		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		audits, err := db.ListAudits(context.Background(), site, limit)
		if err != nil {
			return err
		}
		if len(audits) == 0 {
			fmt.Println("No audits in the database. Run audit --save first.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tDOMAIN\tBRAND\tON-SITE\tOFF-SITE\tTOTAL\tQUESTIONS\tDATE\t")
		for _, a := range audits {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%d\t%s\t\n",
				a.ID, a.Domain, a.Brand, a.Score.OnSite, a.Score.OffSite, a.Score.Total,
				a.QueryCount, a.CreatedAt.Format("2006-01-02 15:04"))
		}
		w.Flush()
		return nil
	},
}

var auditsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one stored audit with its per-question results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("audit id must be an integer: %q", args[0])
		}

		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		rec, err := db.GetAudit(context.Background(), id)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("no audit #%d in the database", id)
		}
		if err != nil {
			return err
		}
		queries, err := db.GetAuditQueries(context.Background(), id)
		if err != nil {
			return err
		}

		fmt.Printf("Audit #%d: %s (%s), %s\n\n", rec.ID, rec.Brand, rec.Domain, rec.CreatedAt.Format("2006-01-02 15:04"))
		printQueries(queries)
		fmt.Println()
		printScore(rec.Score)
		return nil
	},
}

var auditsRescoreCmd = &cobra.Command{
	Use:   "rescore <id>",
	Short: "Recompute a stored audit's score from its stored engine results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("audit id must be an integer: %q", args[0])
		}

		db, release, err := openDBForWrite(cmd)
		if err != nil {
			return err
		}
		defer release()

		score, err := db.RescoreAudit(context.Background(), id)
		if err != nil {
			return err
		}
		printScore(score)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().StringP("site", "s", "", "Site to scan for the on-site technical checks")
	auditCmd.Flags().StringP("brand", "b", "", "Brand name to look for in answers (required)")
	auditCmd.Flags().String("domain", "", "Domain counted as a citation (defaults to --site)")
	auditCmd.Flags().StringP("competitors", "c", "", "Competitor names, comma separated")
	auditCmd.Flags().StringArrayP("question", "q", nil, "Question to ask (repeatable)")
	auditCmd.Flags().String("questions-file", "", "File with one question per line")
	auditCmd.Flags().Bool("no-scan", false, "Skip the site scan")
	auditCmd.Flags().Int("answer-box", 0, "Answer-box readiness score (0-10)")
	auditCmd.Flags().Int("structure", 0, "Content structure score (0-10)")
	auditCmd.Flags().Int("authority", 0, "Authority score (0-10)")
	auditCmd.Flags().Int("entity-consistency", 0, "Entity consistency score (0-10)")
	auditCmd.Flags().Int("reputation", 0, "Reputation score (0-10)")
	auditCmd.Flags().Bool("canonical-sources", false, "Brand has canonical third-party sources (e.g. Wikipedia, Crunchbase)")
	auditCmd.Flags().Bool("save", false, "Store the audit in the database")
	auditCmd.Flags().Bool("json", false, "Print the full report as JSON")
	auditCmd.MarkFlagRequired("brand")

	rootCmd.AddCommand(auditsCmd)
	auditsCmd.AddCommand(auditsShowCmd)
	auditsCmd.AddCommand(auditsRescoreCmd)
	auditsCmd.Flags().String("site", "", "Only show audits for this site or domain")
	auditsCmd.Flags().IntP("limit", "n", 0, "Maximum number of audits to show (0 = all)")
}
