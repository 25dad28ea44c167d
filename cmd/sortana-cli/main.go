package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mikey/sortana/internal/core"
	"github.com/mikey/sortana/internal/di"
	"github.com/mikey/sortana/internal/sorter"
)

func main() {
	flags := &di.CLIFlags{}

	root := &cobra.Command{
		Use:           "sortana-cli",
		Short:         "Ad-hoc tools for sortana rules and data",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.Provider, "provider", "completions", "LLM provider (completions, openai, gemini, bedrock)")
	pf.StringVar(&flags.Endpoint, "endpoint", "", "Classification endpoint for the completions provider")
	pf.StringVar(&flags.Template, "template", "", "Prompt template (openai, qwen, mistral, custom)")
	pf.StringVar(&flags.SystemPrompt, "system-prompt", "", "System prompt appended to the template")
	pf.StringVar(&flags.BedrockRegion, "bedrock-region", "us-east-1", "AWS region for Bedrock")
	pf.StringVar(&flags.BedrockModelID, "bedrock-model", "anthropic.claude-v2", "Bedrock model ID")
	pf.StringVar(&flags.GeminiAPIKey, "gemini-api-key", "", "API key for Google Gemini")
	pf.StringVar(&flags.GeminiModelName, "gemini-model", "gemini-1.5-flash", "Gemini model name")
	pf.StringVar(&flags.OpenAIAPIKey, "openai-api-key", "", "API key for OpenAI")
	pf.StringVar(&flags.OpenAIModelName, "openai-model", "gpt-4o-mini", "OpenAI model name")
	pf.StringVar(&flags.OpenAIBaseURL, "openai-base-url", "", "OpenAI-compatible base URL")
	pf.BoolVar(&flags.HTMLToMarkdown, "markdown", false, "Render HTML bodies as Markdown")
	pf.BoolVar(&flags.StripURLParams, "strip-url-params", false, "Remove query strings from URLs")
	pf.BoolVar(&flags.AltTextImages, "alt-text-images", false, "Replace images with their alt text")
	pf.BoolVar(&flags.CollapseWhitespace, "collapse-whitespace", false, "Collapse runs of whitespace")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "Enable verbose logging")
	pf.BoolVar(&flags.JSONLog, "json-log", false, "Output logs in JSON format")
	pf.StringVarP(&flags.ConfigFile, "config", "c", "", "Path to config file (overrides command line flags)")

	root.AddCommand(
		newExtractCmd(flags),
		newClassifyCmd(flags),
		newExportCmd(flags),
		newImportCmd(flags),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withService builds the CLI container and runs fn against the sorter
func withService(flags *di.CLIFlags, fn func(ctx context.Context, svc *sorter.Service) error) error {
	container, err := di.BuildCLIContainer(flags)
	if err != nil {
		return fmt.Errorf("failed to build dependency container: %w", err)
	}
	return container.Invoke(func(svc *sorter.Service, st core.Store) error {
		ctx := context.Background()
		defer func() {
			_ = svc.Close(ctx)
			if closer, ok := st.(io.Closer); ok {
				_ = closer.Close()
			}
		}()
		if err := svc.Start(ctx); err != nil {
			return err
		}
		return fn(ctx, svc)
	})
}

// readInput reads a file argument or stdin
func readInput(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(args[0])
}

func newExtractCmd(flags *di.CLIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "extract [file]",
		Short: "Print the text a message would be classified on",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(args)
			if err != nil {
				return err
			}
			return withService(flags, func(ctx context.Context, svc *sorter.Service) error {
				text, err := svc.ExtractText(raw)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), text)
				return nil
			})
		},
	}
}

func newClassifyCmd(flags *di.CLIFlags) *cobra.Command {
	var criterion string
	var raw bool

	cmd := &cobra.Command{
		Use:   "classify [file]",
		Short: "Classify a message against a criterion without caching",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(args)
			if err != nil {
				return err
			}
			return withService(flags, func(ctx context.Context, svc *sorter.Service) error {
				text := string(input)
				if !raw {
					if text, err = svc.ExtractText(input); err != nil {
						return err
					}
				}

				v, err := svc.TestClassify(ctx, text, criterion)
				if err != nil {
					return err
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"criterion": criterion,
					"match":     v.Matched,
					"reason":    v.Reason,
				})
			})
		},
	}
	cmd.Flags().StringVar(&criterion, "criterion", "", "Criterion to test")
	cmd.Flags().BoolVar(&raw, "raw", false, "Treat input as plain text instead of an RFC 822 message")
	_ = cmd.MarkFlagRequired("criterion")
	return cmd
}

func newExportCmd(flags *di.CLIFlags) *cobra.Command {
	var groups string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export persisted settings, rules and cache as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.UseStore = true
			return withService(flags, func(ctx context.Context, svc *sorter.Service) error {
				doc, err := svc.Export(ctx, splitGroups(groups))
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(doc)
			})
		},
	}
	cmd.Flags().StringVar(&groups, "groups", "", "Comma-separated groups: "+strings.Join(sorter.Groups(), ", "))
	return cmd
}

func newImportCmd(flags *di.CLIFlags) *cobra.Command {
	var groups string

	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import a document written by export",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(args)
			if err != nil {
				return err
			}
			var doc sorter.Document
			if err := json.Unmarshal(input, &doc); err != nil {
				return fmt.Errorf("failed to parse document: %w", err)
			}

			flags.UseStore = true
			return withService(flags, func(ctx context.Context, svc *sorter.Service) error {
				n, err := svc.Import(ctx, doc, splitGroups(groups))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d keys\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&groups, "groups", "", "Comma-separated groups to import (default all)")
	return cmd
}

func splitGroups(s string) []string {
	var out []string
	for _, g := range strings.Split(s, ",") {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
	}
	return out
}
