package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/visiscope/visiscope/internal/utils"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

const (
	LOGO = `        _      _
 __   _(_)___ (_)___  ___ ___  _ __   ___
 \ \ / / / __|| / __|/ __/ _ \| '_ \ / _ \
  \ V /| \__ \| \__ \ (_| (_) | |_) |  __/
   \_/ |_|___/|_|___/\___\___/| .__/ \___|
                              |_|

`
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "visiscope",
	Short: "AI search visibility scoring for brands and outreach prospects.",
	Long: LOGO + `visiscope measures how visible a website is to AI answer engines.

Quick scans rank prospects by how many basic signals they are missing (lower
quick score = hotter lead). Full audits ask configured engines real questions
and compute a 0-100 visibility score (higher = more visible).`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.visiscope.yaml)")

	// Global flags
	rootCmd.PersistentFlags().StringP("proxy", "", "", "HTTP Proxy (Useful for debugging. Example: http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
	rootCmd.PersistentFlags().String("dbpath", "", "Path to SQLite DB file (default is db.path or ~/.config/visiscope/visiscope.sqlite)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".visiscope")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("visiscope")
	viper.AutomaticEnv()

	// Defaults must be registered before a fresh config file is written.
	viper.SetDefault("probe.timeout", "10s")
	viper.SetDefault("probe.batch", 10)
	viper.SetDefault("probe.retries", 1)
	viper.SetDefault("probe.user_agent", "")
	viper.SetDefault("audit.concurrency", 3)
	viper.SetDefault("db.path", "")
	viper.SetDefault("server.username", "")
	viper.SetDefault("server.password", "")
	viper.SetDefault("engines", []map[string]interface{}{})

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := home + "/.visiscope.yaml"
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s", err)
			}
		}
	}

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)
}
