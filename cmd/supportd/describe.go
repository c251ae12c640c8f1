package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/nmkr-support-router/internal/catalog"
	"github.com/JakeFAU/nmkr-support-router/internal/crawl"
	collyfetcher "github.com/JakeFAU/nmkr-support-router/internal/fetcher/colly"
	"github.com/JakeFAU/nmkr-support-router/internal/llm"
)

func newDescribeCmd() *cobra.Command {
	var (
		input  string
		output string
		delay  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Generate one-sentence descriptions for a list of catalog URLs",
		Long: `describe reads URLs one per line, fetches each page, asks the language model
for a one-sentence description of the opening text and writes a JSON link
catalog usable as catalog.links_path or catalog.docs_path.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			in, closeIn, err := openInput(input)
			if err != nil {
				return err
			}
			defer closeIn()
			urls, err := catalog.ReadURLs(in)
			if err != nil {
				return err
			}

			model, err := llm.New(e.cfg.LLM)
			if err != nil {
				return fmt.Errorf("llm init failed: %w", err)
			}
			reader := crawl.NewTextReader(collyfetcher.New(collyfetcher.Config{
				UserAgent:     e.cfg.Crawl.UserAgent,
				RespectRobots: true,
				Timeout:       time.Duration(e.cfg.Crawl.TimeoutSeconds) * time.Second,
			}))
			describer := catalog.NewDescriber(reader, model, delay, e.logger.Named("describe"))

			e.logger.Info("describing links", zap.Int("urls", len(urls)), zap.String("model", model.Name()))
			links, err := describer.Describe(cmd.Context(), urls)
			if err != nil {
				return err
			}
			out, closeOut, err := openOutput(output)
			if err != nil {
				return err
			}
			if err := catalog.WriteLinks(out, links); err != nil {
				_ = closeOut()
				return err
			}
			return closeOut()
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "-", "file with one URL per line, - for stdin")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "destination JSON file, - for stdout")
	cmd.Flags().DurationVar(&delay, "delay", 2*time.Second, "pause between URLs")
	return cmd
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	// #nosec G304 -- the operator chooses the input file.
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return f, f.Close, nil
}
