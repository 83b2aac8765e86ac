package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/place-resolver/internal/extract"
	"github.com/sells-group/place-resolver/pkg/anthropic"
)

var (
	extractPlace       string
	extractFile        string
	extractURL         string
	extractTitle       string
	extractPublication string
	extractDryRun      bool
	extractMaxChars    int
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract place facts from an editorial article with Claude",
	Long: "Reads an article about one place, keeps only the facts the article quotes, " +
		"and stores them as an ai_extract raw record linked to the place.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		body, err := readArticle(extractFile, cmd.InOrStdin())
		if err != nil {
			return err
		}

		st, err := initStore(ctx, "extract")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ex := extract.New(anthropic.NewClient(cfg.Anthropic.Key), st, cfg.Anthropic,
			extract.WithDryRun(extractDryRun),
			extract.WithMaxChars(extractMaxChars),
		)
		res, err := ex.Extract(ctx, extractPlace, extract.Article{
			URL:         extractURL,
			Title:       extractTitle,
			Publication: extractPublication,
			Body:        body,
		})
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), formatExtract(res, cfg.Anthropic.Model))
		return nil
	},
}

// readArticle reads path, or stdin for "-".
func readArticle(path string, stdin io.Reader) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", eris.Wrap(err, "read article from stdin")
		}
		return string(b), nil
	}
	b, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return "", eris.Wrapf(err, "read article %s", path)
	}
	return string(b), nil
}

func formatExtract(res *extract.Result, model string) string {
	fields := map[string]string{
		"name":         res.Claim.Name,
		"address":      res.Claim.Address,
		"neighborhood": res.Claim.Neighborhood,
		"phone":        res.Claim.Phone,
		"website":      res.Claim.Website,
		"hours":        res.Claim.Hours,
		"description":  res.Claim.Description,
	}
	rows := make([][]string, 0, len(res.Kept))
	for _, f := range res.Kept {
		rows = append(rows, []string{f, truncateCell(fields[f], 48), truncateCell(res.Claim.Evidence[f], 60)})
	}

	var b strings.Builder
	b.WriteString(renderTable([]string{"Field", "Value", "Evidence"}, rows, nil))
	b.WriteString("\n")
	if len(res.Dropped) > 0 {
		fmt.Fprintf(&b, "dropped (no quote in article): %s\n", strings.Join(res.Dropped, ", "))
	}
	raw := res.RawID
	if raw == "" {
		raw = "(dry run)"
	}
	fmt.Fprintf(&b, "raw record %s | confidence %.2f | %d in / %d out tokens | $%.4f\n",
		raw, res.Claim.Confidence, res.Usage.InputTokens, res.Usage.OutputTokens, res.Usage.EstimateCost(model))
	return b.String()
}

func init() {
	f := extractCmd.Flags()
	f.StringVar(&extractPlace, "place", "", "canonical place id")
	f.StringVar(&extractFile, "file", "", "article text file, or - for stdin")
	f.StringVar(&extractURL, "url", "", "article URL")
	f.StringVar(&extractTitle, "title", "", "article title")
	f.StringVar(&extractPublication, "publication", "", "publication name")
	f.BoolVar(&extractDryRun, "dry-run", false, "print the claims without storing them")
	f.IntVar(&extractMaxChars, "max-chars", 0, "cap on article characters sent (default 40000)")
	_ = extractCmd.MarkFlagRequired("place")
	_ = extractCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(extractCmd)
}
