package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/drawmill/internal/config"
	"github.com/3leaps/drawmill/internal/observability"
	"github.com/3leaps/drawmill/pkg/draw"
)

var (
	drawTemplate string
	drawOutput   string
)

var drawCmd = &cobra.Command{
	Use:   "draw <worksheet.json>",
	Short: "Fill a DD Form 2977 from a risk worksheet",
	Long: `Fill the DD Form 2977 (Deliberate Risk Assessment Worksheet) PDF from
a JSON worksheet.

The template must be the fillable DD-Form-2977 PDF. The output defaults
to the worksheet's name with a .pdf extension.

Examples:
  drawmill draw mission.json --template DD-Form-2977.pdf
  drawmill draw mission.json -o mission-draw.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: runDraw,
}

func init() {
	rootCmd.AddCommand(drawCmd)

	drawCmd.Flags().StringVar(&drawTemplate, "template", "", "Blank DD-Form-2977 PDF (overrides config)")
	drawCmd.Flags().StringVarP(&drawOutput, "output", "o", "", "Output PDF path")
}

func runDraw(cmd *cobra.Command, args []string) error {
	worksheetPath := args[0]

	template := drawTemplate
	if template == "" {
		if cfg := config.GetConfig(); cfg != nil {
			template = cfg.Draw.Template
		}
	}
	if template == "" {
		return fmt.Errorf("no form template; pass --template or set draw.template")
	}

	output := drawOutput
	if output == "" {
		base := strings.TrimSuffix(worksheetPath, filepath.Ext(worksheetPath))
		output = base + ".pdf"
	}

	data, err := os.ReadFile(worksheetPath)
	if err != nil {
		return fmt.Errorf("read worksheet: %w", err)
	}

	ws, err := draw.ParseWorksheet(data)
	if err != nil {
		return fmt.Errorf("parse worksheet: %w", err)
	}

	if err := draw.Fill(template, output, ws); err != nil {
		return fmt.Errorf("fill form: %w", err)
	}

	observability.CLILogger.Info("Form filled",
		zap.String("worksheet", worksheetPath),
		zap.String("output", output))
	return nil
}
