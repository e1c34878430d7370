package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/llmgate/llmgate/internal/core"
	"github.com/llmgate/llmgate/internal/core/engine"
	"github.com/llmgate/llmgate/internal/observability"
	"github.com/llmgate/llmgate/internal/output"
)

var (
	completeAgent     string
	completePrompt    string
	completeSystem    string
	completeMaxTokens int
	completeOutput    string
)

var completeCmd = &cobra.Command{
	Use:   "complete",
	Short: "Run one completion through an agent's fallback chain",
	Long: `Run a single completion in-process, using the same admission, rate limiting
and fallback path as the HTTP gateway. Useful for checking provider
credentials and chain order without starting the server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(completeOutput)
		if err != nil {
			return err
		}
		if format != output.FormatJSON && format != output.FormatTable {
			return fmt.Errorf("unsupported output format: %s", format)
		}
		if strings.TrimSpace(completePrompt) == "" {
			return errors.New("--prompt is required")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		stack, err := buildGatewayStack(cfg, observability.CLILogger, nil)
		if err != nil {
			return err
		}

		result, err := stack.Orchestrator.Execute(cmd.Context(), completeAgent, core.CompletionRequest{
			SystemPrompt: completeSystem,
			UserPrompt:   completePrompt,
			MaxTokens:    completeMaxTokens,
		})
		if err != nil {
			var exhausted *engine.ExhaustedError
			if errors.As(err, &exhausted) {
				writeAttempts(cmd.ErrOrStderr(), exhausted.Attempts)
			}
			return err
		}
		return writeCompletion(cmd.OutOrStdout(), format, result)
	},
}

func writeCompletion(w io.Writer, format output.Format, result *core.CompletionResult) error {
	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	header := []string{
		fmt.Sprintf("Agent:    %s", result.Agent),
		fmt.Sprintf("Provider: %s (model %s)", result.ProviderUsed, result.Model),
		fmt.Sprintf("Attempts: %d (fallback: %t)", result.Attempts, result.FallbackUsed),
		fmt.Sprintf("Tokens:   %d in / %d out", result.TokensInput, result.TokensOutput),
		fmt.Sprintf("Latency:  %s", result.Latency.Round(time.Millisecond)),
	}
	_, _ = fmt.Fprint(w, ascii.DrawBox(strings.Join(header, "\n"), 0))
	_, err := fmt.Fprintln(w, result.Content)
	return err
}

func writeAttempts(w io.Writer, attempts []engine.AttemptError) {
	for _, attempt := range attempts {
		_, _ = fmt.Fprintf(w, "  - %s\n", attempt.Error())
	}
}

func init() {
	completeCmd.Flags().StringVar(&completeAgent, "agent", "", "Agent whose provider chain to use")
	_ = completeCmd.MarkFlagRequired("agent")
	completeCmd.Flags().StringVar(&completePrompt, "prompt", "", "User prompt")
	completeCmd.Flags().StringVar(&completeSystem, "system", "", "System prompt")
	completeCmd.Flags().IntVar(&completeMaxTokens, "max-tokens", 0, "Maximum output tokens (0 uses the provider default)")
	completeCmd.Flags().StringVar(&completeOutput, "output-format", string(output.FormatTable), "Output format: table|json")
	rootCmd.AddCommand(completeCmd)
}
