package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/thoscut/tiffpress/internal/jobs"
	"github.com/thoscut/tiffpress/internal/output"
)

var convertCmd = &cobra.Command{
	Use:   "convert <dir>",
	Short: "Convert one document package into a PDF",
	Long: "Convert the TIFF pages of one document package into a searchable PDF. " +
		"The pages are read from <dir>/master_edited, <dir>/master or <dir> itself.",
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().StringP("output", "o", "", "Output PDF path (default: <dir>/service_edited/<id>.pdf)")
	convertCmd.Flags().String("id", "", "Document ID (default: directory name)")
	convertCmd.Flags().StringP("title", "t", "", "Document title")
	convertCmd.Flags().StringP("profile", "p", "", "Conversion profile (default: from config)")
	convertCmd.Flags().String("lang", "", "OCR language, e.g. deu+eng")
	convertCmd.Flags().String("engine", "", "OCR engine (hocr, tesseract, textract)")
	convertCmd.Flags().Bool("ocr", true, "Add a text layer")
	convertCmd.Flags().String("optimizer", "", "PDF optimizer (pdfcpu, qpdf, none)")
	convertCmd.Flags().String("text-dir", "", "Write page text files below this directory")
	convertCmd.Flags().StringSlice("deliver", nil, "Also deliver to these output targets")
	convertCmd.Flags().Bool("quiet", false, "Do not show a progress bar")
	convertCmd.Flags().Bool("json", false, "Output result as JSON")
}

func runConvert(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	root, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolve directory: %w", err)
	}

	if engine, _ := cmd.Flags().GetString("engine"); engine != "" {
		cfg.Processing.OCR.Engine = engine
	}
	if optimizer, _ := cmd.Flags().GetString("optimizer"); optimizer != "" {
		cfg.Processing.Optimize.Engine = optimizer
	}
	if dir, _ := cmd.Flags().GetString("text-dir"); dir != "" {
		cfg.Text.Sink = "filesystem"
		cfg.Text.Directory = dir
	}

	profileName, _ := cmd.Flags().GetString("profile")
	profileName, profile, err := lookupProfile(loadProfiles(), profileName)
	if err != nil {
		return err
	}
	if lang, _ := cmd.Flags().GetString("lang"); lang != "" {
		p := *profile
		p.OCR.Language = lang
		profile = &p
	}

	proc, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}

	id, _ := cmd.Flags().GetString("id")
	if id == "" {
		id = filepath.Base(root)
	}
	out, _ := cmd.Flags().GetString("output")
	if out != "" {
		if out, err = filepath.Abs(out); err != nil {
			return fmt.Errorf("resolve output: %w", err)
		}
	}

	job := jobs.NewJob(id, profileName, jobs.OutputConfig{Path: out})
	job.Root = root
	job.Title, _ = cmd.Flags().GetString("title")
	if cmd.Flags().Changed("ocr") {
		enabled, _ := cmd.Flags().GetBool("ocr")
		job.OcrEnabled = &enabled
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	quiet, _ := cmd.Flags().GetBool("quiet")

	done := make(chan struct{})
	finished := make(chan struct{})
	if quiet || jsonOutput {
		close(finished)
	} else {
		bar := getProgressBar(fmt.Sprintf("Converting %s", id))
		go func() {
			defer close(finished)
			for {
				select {
				case update := <-job.ProgressChan():
					if update.Progress > 0 {
						bar.Set(update.Progress)
					}
				case <-done:
					bar.Finish()
					fmt.Fprintln(os.Stderr)
					return
				}
			}
		}()
	}

	result, err := proc.Process(ctx, job, profile)
	close(done)
	<-finished
	if err != nil {
		color.Red("Conversion failed: %v", err)
		return err
	}

	if targets, _ := cmd.Flags().GetStringSlice("deliver"); len(targets) > 0 {
		outputs, err := output.NewManager(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create outputs: %w", err)
		}
		doc := jobs.Document{ID: id, Filename: filepath.Base(result.Path), Title: job.Title}
		if result.Delivered, err = outputs.Deliver(ctx, targets, result.Path, doc); err != nil {
			return fmt.Errorf("deliver: %w", err)
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s %s\n", color.GreenString("Created"), result.Path)
	fmt.Fprintf(w, "Pages:       %d\n", result.Pages)
	fmt.Fprintf(w, "Size:        %s (assembled %s)\n", humanSize(result.Size), humanSize(result.RawSize))
	if len(result.Text) > 0 {
		fmt.Fprintf(w, "Text pages:  %d\n", len(result.Text))
	}
	if len(result.Delivered) > 0 {
		fmt.Fprintf(w, "Delivered:   %v\n", result.Delivered)
	}
	return nil
}

func getProgressBar(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(100,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
