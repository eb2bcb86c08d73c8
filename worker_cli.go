package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"assist_worker/adapter/out/provider/gmail"
	"assist_worker/core/domain"
	"assist_worker/internal/bootstrap"
	"assist_worker/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

var (
	runParams domain.Parameters
	runJSON   bool
)

var runCmd = &cobra.Command{
	Use:   "run <operation> [item-id]...",
	Short: "Run one batch operation and print the results",
	Long: `Runs a single batch against the configured sources and inference provider.

Operations: categorize, generate-response, summarize, extract-actions, analyze, convert.
Item ids are email message ids or CAD paths relative to CAD_ROOT_DIR.
CAD operations may name --directory instead of item ids to process every
matching file in that directory.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := domain.ParseOperationKind(args[0])
		if err != nil {
			return apperr.UnknownOperation(args[0])
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		deps, cleanup, err := bootstrap.NewDependencies(ctx, cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		batch, err := deps.Dispatcher.Dispatch(ctx, domain.OperationRequest{
			Operation:  kind,
			ItemIDs:    args[1:],
			Parameters: runParams,
		})
		if err != nil {
			return err
		}

		if runJSON {
			return writeJSON(cmd.OutOrStdout(), batch)
		}
		renderBatch(cmd.OutOrStdout(), batch)
		return nil
	},
}

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List supported CAD import and export formats",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if runJSON {
			return writeJSON(cmd.OutOrStdout(), domain.Catalogue())
		}
		renderCatalogue(cmd.OutOrStdout(), domain.Catalogue())
		return nil
	},
}

var authorizeCmd = &cobra.Command{
	Use:   "authorize",
	Short: "Authorize read-only Gmail access and store the token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		gcfg := gmail.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		}
		if gcfg.ClientID == "" || gcfg.ClientSecret == "" {
			return apperr.ConfigError("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required")
		}
		oauthCfg := gmail.OAuthConfig(gcfg)

		fmt.Fprintf(cmd.OutOrStdout(), "Open this URL and paste the authorization code:\n%s\n> ",
			oauthCfg.AuthCodeURL("assist-worker", oauth2.AccessTypeOffline))
		code, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && code == "" {
			return fmt.Errorf("read authorization code: %w", err)
		}

		token, err := oauthCfg.Exchange(cmd.Context(), strings.TrimSpace(code))
		if err != nil {
			return fmt.Errorf("exchange authorization code: %w", err)
		}
		if err := gmail.SaveToken(cfg.GmailTokenFile, cfg.GmailTokenKey, token); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Token written to %s\n", cfg.GmailTokenFile)
		return nil
	},
}

func init() {
	f := runCmd.Flags()
	f.StringSliceVarP(&runParams.Categories, "category", "c", nil, "Allowed category (repeatable)")
	f.StringVar(&runParams.Tone, "tone", "", "Reply tone preset")
	f.StringVar(&runParams.Instructions, "instructions", "", "Extra instructions, use case (--focus export) or error message (--focus troubleshoot)")
	f.StringVar(&runParams.ExportFormat, "format", "", "CAD export format")
	f.StringVar(&runParams.Template, "template", "", "CAD export template")
	f.StringVar(&runParams.Focus, "focus", "", "CAD analysis focus")
	f.StringVar(&runParams.Directory, "directory", "", "CAD directory to process instead of item ids")
	f.StringVar(&runParams.FilePattern, "pattern", "", "File name glob for --directory (default "+domain.DefaultFilePattern+")")

	rootCmd.PersistentFlags().BoolVar(&runJSON, "json", false, "Print JSON instead of a table")
	rootCmd.AddCommand(runCmd, formatsCmd, authorizeCmd)
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func renderBatch(w io.Writer, batch *domain.BatchResult) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Item", "Status", "Result"})
	table.SetAutoWrapText(true)
	table.SetRowLine(true)

	for _, r := range batch.Results {
		table.Append([]string{r.ItemID, statusText(r), resultText(r)})
	}
	table.SetFooter([]string{
		batch.BatchID,
		fmt.Sprintf("%d ok / %d failed / %d cancelled", batch.Succeeded, batch.Failed, batch.Cancelled),
		"",
	})
	table.Render()
}

func statusText(r domain.NormalizedResult) string {
	s := string(r.Status)
	if r.FallbackApplied {
		s += " (fallback)"
	}
	if r.Truncated {
		s += " (truncated)"
	}
	return s
}

func resultText(r domain.NormalizedResult) string {
	if r.Error != nil {
		msg := r.Error.Code + ": " + r.Error.Message
		if r.FailedAt != "" {
			msg += " [" + string(r.FailedAt) + "]"
		}
		return msg
	}
	p := r.Payload
	if p == nil {
		return ""
	}
	switch {
	case p.Export != nil:
		return p.Export.Format + " -> " + p.Export.OutputPath
	case p.Category != "":
		return p.Category
	case p.Actions != nil:
		if len(p.Actions) == 0 {
			return "(no actions)"
		}
		return "- " + strings.Join(p.Actions, "\n- ")
	case p.Summary != "":
		return p.Summary
	case p.Analysis != "":
		return p.Analysis
	default:
		return p.Response
	}
}

func renderCatalogue(w io.Writer, cat domain.FormatCatalogue) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Export format", "Templates"})
	for _, format := range cat.Export {
		names := make([]string, 0, len(cat.Templates[format]))
		for name := range cat.Templates[format] {
			names = append(names, name)
		}
		sort.Strings(names)
		table.Append([]string{format, strings.Join(names, ", ")})
	}
	table.SetFooter([]string{"Import", strings.Join(cat.Import, ", ")})
	table.Render()
}
