package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/epubify/internal/convert"
	"github.com/jackzampolin/epubify/internal/crawl"
	"github.com/jackzampolin/epubify/internal/task"
)

var (
	convertTitle  string
	convertOutput string
)

var convertCmd = &cobra.Command{
	Use:   "convert <url>",
	Short: "Convert a documentation tree locally",
	Long: `Convert a documentation tree into an EPUB without a server.

The conversion runs in process with the crawl settings from the
configuration and writes the book to --out (default: "<title>.epub" in
the current directory). Progress is logged to stderr.

Examples:
  epubify convert https://docs.aws.amazon.com/lambda/latest/dg/welcome.html
  epubify convert https://docs.aws.amazon.com/s3/ --title "S3 Guide" --out s3.epub`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		h, err := getHome()
		if err != nil {
			return err
		}
		cfgMgr, err := loadConfig(h)
		if err != nil {
			return err
		}
		cfg := cfgMgr.Get()
		logger := newLogger(os.Stderr, cfg.Logging)

		source, err := convert.ParseSourceURL(args[0])
		if err != nil {
			return err
		}
		title := convertTitle
		if title == "" {
			title = convert.DefaultTitle(source)
		}

		workDir, err := os.MkdirTemp("", "epubify-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(workDir)

		recorder := task.NewMemoryRecorder(0)
		converter, err := convert.NewConverter(convert.ConverterConfig{
			Recorder:    recorder,
			Discoverer:  crawl.NewDiscoverer(cfg.CrawlOptions(), logger),
			Fetcher:     crawl.NewFetcher(cfg.CrawlOptions(), logger),
			ArchiveDir:  workDir,
			Concurrency: cfg.Concurrency(),
			Logger:      logger,
		})
		if err != nil {
			return err
		}

		taskID := uuid.NewString()
		if err := recorder.Create(ctx, task.Record{
			TaskID:    taskID,
			SourceURL: source.String(),
			Title:     title,
			Status:    task.StatusPending,
			Message:   convert.QueuedMessage,
		}); err != nil {
			return err
		}

		status := converter.Run(ctx, convert.Request{TaskID: taskID, SourceURL: source.String(), Title: title})
		if status != task.StatusCompleted {
			rec, err := recorder.Read(ctx, taskID)
			if err != nil {
				return err
			}
			return errors.New(rec.Message)
		}

		out := convertOutput
		if out == "" {
			out = convert.FileName(title)
		}
		if err := copyFile(converter.ArchivePath(taskID), out); err != nil {
			return err
		}

		abs, _ := filepath.Abs(out)
		fmt.Printf("Wrote %s\n", abs)
		return nil
	},
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return out.Close()
}

func init() {
	convertCmd.Flags().StringVar(&convertTitle, "title", "", "Book title (defaults to the documentation host)")
	convertCmd.Flags().StringVar(&convertOutput, "out", "", "Output file path")

	rootCmd.AddCommand(convertCmd)
}
