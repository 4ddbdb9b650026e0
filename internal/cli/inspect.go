package cli

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/thoscut/tiffpress/internal/pdf"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <pdf>",
	Short: "Show the page count and text of a PDF",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().Bool("text", false, "Print the text of every page")
	inspectCmd.Flags().Bool("json", false, "Output as JSON")
}

func runInspect(cmd *cobra.Command, args []string) error {
	report, err := pdf.Inspect(args[0])
	if err != nil {
		return err
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	w := cmd.OutOrStdout()
	searchable := 0
	for _, t := range report.Text {
		if t != "" {
			searchable++
		}
	}
	fmt.Fprintf(w, "File:        %s\n", args[0])
	fmt.Fprintf(w, "Pages:       %d\n", report.Pages)
	fmt.Fprintf(w, "Searchable:  %d of %d pages\n", searchable, report.Pages)

	if showText, _ := cmd.Flags().GetBool("text"); showText {
		for i, t := range report.Text {
			fmt.Fprintf(w, "\n%s\n%s\n", color.CyanString("--- page %d ---", i+1), t)
		}
	}
	return nil
}
