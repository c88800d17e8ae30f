package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/visiscope/visiscope/pkg/engines"
	"github.com/visiscope/visiscope/pkg/mentions"
	"github.com/visiscope/visiscope/pkg/probe"
)

func main() {
	// Usage: go run *.go -site example.com -brand Example -key "sk-..." -question "best crm for agencies?"

	siteFlag := flag.String("site", "", "Site to quick-scan")
	brandFlag := flag.String("brand", "", "Brand to look for in the engine answer")
	keyFlag := flag.String("key", "", "OpenAI API key")
	questionFlag := flag.String("question", "", "Question to ask")

	flag.Parse()

	if *siteFlag == "" {
		fmt.Println("Site is required. Please provide it using -site flag.")
		return
	}

	prober, err := probe.New(probe.Options{Timeout: 10 * time.Second})
	if err != nil {
		fmt.Println(err)
		return
	}
	result := prober.Scan(context.Background(), *siteFlag)
	fmt.Printf("%s quick score: %s (missing: %s)\n", result.Site, result.Score, strings.Join(result.Signals.Missing(), ", "))

	if *keyFlag == "" || *brandFlag == "" || *questionFlag == "" {
		return
	}

	// Any OpenAI-compatible endpoint works, set Endpoint to switch provider
	engine, err := engines.NewOpenAI(engines.Config{Name: "openai", APIKey: *keyFlag})
	if err != nil {
		fmt.Println(err)
		return
	}
	q := engines.Query{Question: *questionFlag, Brand: *brandFlag, Domain: *siteFlag}
	results := engines.CheckAll(context.Background(), []engines.Engine{engine}, q)

	agg, err := mentions.Aggregate(q.Question, results)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("%q: best bucket %s from %s, competitors: %v\n", agg.QueryText, agg.BestResult.Bucket, agg.BestResult.Engine, agg.AllCompetitors)
}
