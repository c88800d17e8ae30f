package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/visiscope/visiscope/pkg/robots"
	"github.com/visiscope/visiscope/pkg/whttp"
)

var robotsCmd = &cobra.Command{
	Use:   "robots <file|url|->",
	Short: "Check whether a robots.txt keeps AI answer-engine crawlers out",
	Long: `Check whether a robots.txt keeps AI answer-engine crawlers out.

The argument is a local file, "-" for stdin, or a site URL whose /robots.txt
is fetched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readRobots(cmd, args[0])
		if err != nil {
			return err
		}
		if robots.Analyze(text).BlocksAIAgents {
			fmt.Println("blocks AI agents: yes")
		} else {
			fmt.Println("blocks AI agents: no")
		}
		return nil
	},
}

func readRobots(cmd *cobra.Command, src string) (string, error) {
	switch {
	case src == "-":
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	case strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://"):
		proxy, _ := cmd.Flags().GetString("proxy")
		client, err := whttp.NewClient(whttp.ClientOptions{Proxy: proxy, RetryMax: 1})
		if err != nil {
			return "", err
		}
		url := strings.TrimSuffix(src, "/")
		if !strings.HasSuffix(url, "/robots.txt") {
			url += "/robots.txt"
		}
		res, err := whttp.SendHTTPRequest(context.Background(), &whttp.WHTTPReq{URL: url}, client)
		if err != nil {
			return "", err
		}
		if res.StatusCode != 200 {
			return "", fmt.Errorf("%s returned HTTP %d", url, res.StatusCode)
		}
		return res.BodyString, nil
	default:
		b, err := os.ReadFile(src)
		return string(b), err
	}
}

func init() {
	rootCmd.AddCommand(robotsCmd)
}
