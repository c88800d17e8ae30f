package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/visiscope/visiscope/internal/utils"
	"github.com/visiscope/visiscope/pkg/engines"
	"github.com/visiscope/visiscope/pkg/probe"
	"github.com/visiscope/visiscope/pkg/storage"
)

// resolveDBPath prefers --dbpath, then db.path, then the default location.
func resolveDBPath(cmd *cobra.Command) (string, error) {
	path, _ := cmd.Flags().GetString("dbpath")
	if path == "" {
		path = viper.GetString("db.path")
	}
	return utils.GetAbsDBPath(path)
}

func openDB(cmd *cobra.Command) (*storage.DB, error) {
	path, err := resolveDBPath(cmd)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("could not create database directory: %w", err)
	}
	utils.Log.Debugf("Using database %s", path)
	return storage.Open(path)
}

// openDBForWrite opens the database and takes the cross-process writer lock.
// The returned release func closes both.
func openDBForWrite(cmd *cobra.Command) (*storage.DB, func(), error) {
	path, err := resolveDBPath(cmd)
	if err != nil {
		return nil, nil, err
	}
	lock, err := utils.NewDBLock(path)
	if err != nil {
		return nil, nil, err
	}
	db, err := openDB(cmd)
	if err != nil {
		return nil, nil, err
	}
	if err := lock.Lock(); err != nil {
		db.Close()
		return nil, nil, err
	}
	release := func() {
		if err := lock.Unlock(); err != nil {
			utils.Log.Warn(err)
		}
		db.Close()
	}
	return db, release, nil
}

func newProber(cmd *cobra.Command) (*probe.Prober, error) {
	proxy, _ := cmd.Flags().GetString("proxy")
	return probe.New(probe.Options{
		Timeout:   viper.GetDuration("probe.timeout"),
		Retries:   viper.GetInt("probe.retries"),
		Proxy:     proxy,
		UserAgent: viper.GetString("probe.user_agent"),
		Log:       utils.Log,
	})
}

// loadEngines builds every engine listed under "engines" in the config.
// Entries without an api_key fall back to <NAME>_API_KEY in the environment.
func loadEngines(cmd *cobra.Command) ([]engines.Engine, error) {
	var cfgs []engines.Config
	if err := viper.UnmarshalKey("engines", &cfgs); err != nil {
		return nil, fmt.Errorf("invalid engines config: %w", err)
	}
	proxy, _ := cmd.Flags().GetString("proxy")

	var out []engines.Engine
	for _, c := range cfgs {
		if c.APIKey == "" && c.Name != "" {
			c.APIKey = os.Getenv(envKey(c.Name))
		}
		if c.Proxy == "" {
			c.Proxy = proxy
		}
		e, err := engines.NewOpenAI(c)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func envKey(name string) string {
	b := []byte(name)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z':
			b[i] = c - 'a' + 'A'
		case (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'):
		default:
			b[i] = '_'
		}
	}
	return string(b) + "_API_KEY"
}
