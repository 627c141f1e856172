package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/UmanUmair/ScreenGuide/internal/capture"
	"github.com/UmanUmair/ScreenGuide/internal/instruction"
	"github.com/UmanUmair/ScreenGuide/internal/vision"
)

var (
	splitJSON    bool
	analyzeImage string
	analyzeStep  int
)

var splitCmd = &cobra.Command{
	Use:   "split [text]",
	Short: "Split instructions into steps (reads stdin when no text is given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		if text == "" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			text = string(data)
		}

		steps := instruction.NewProcessor(0).Split(text)
		out := cmd.OutOrStdout()
		if splitJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(steps)
		}
		if len(steps) == 0 {
			return fmt.Errorf("no instructions found")
		}
		for _, s := range steps {
			fmt.Fprintf(out, "%d. [%s] %s\n", s.ID, s.Type, s.Description)
		}
		return nil
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <instruction>...",
	Short: "Run one screen analysis against the given instructions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()

		prompts := vision.NewPromptManager(cfg.App.Prompts)
		_, client, err := newVision(cfg, prompts, logger)
		if err != nil {
			return err
		}

		var frame string
		if analyzeImage != "" {
			data, err := os.ReadFile(analyzeImage)
			if err != nil {
				return err
			}
			frame = capture.DataURI(data)
		} else {
			screen := newScreen(cfg)
			defer screen.Close()
			frame, err = screen.Capture(cmd.Context())
			if err != nil {
				return fmt.Errorf("screen capture failed: %w", err)
			}
		}

		analysis, err := client.Analyze(cmd.Context(), vision.Request{
			Screenshot:   frame,
			Instructions: args,
			CurrentStep:  analyzeStep,
		})
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(analysis)
	},
}

func init() {
	splitCmd.Flags().BoolVar(&splitJSON, "json", false, "print steps as JSON")
	analyzeCmd.Flags().StringVarP(&analyzeImage, "image", "i", "", "screenshot file to analyze instead of capturing the screen")
	analyzeCmd.Flags().IntVarP(&analyzeStep, "step", "s", 0, "index of the current step")
}
