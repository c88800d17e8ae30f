package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/visiscope/visiscope/internal/server"
	"github.com/visiscope/visiscope/internal/utils"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the JSON API and Prometheus metrics endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		listenAddr, _ := cmd.Flags().GetString("listen")
		noScan, _ := cmd.Flags().GetBool("no-scan")

		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		srv := server.New(db, nil, viper.GetString("server.username"), viper.GetString("server.password"))
		if !noScan {
			prober, err := newProber(cmd)
			if err != nil {
				return err
			}
			srv.Prober = prober
		}
		if srv.Username == "" {
			utils.Log.Warn("server.username is not set, the API is served without authentication")
		}
		return srv.Start(listenAddr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	serveCmd.Flags().Bool("no-scan", false, "Disable POST /api/scan")
}
