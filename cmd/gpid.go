package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/place-resolver/internal/gpidqueue"
	"github.com/sells-group/place-resolver/internal/model"
	"github.com/sells-group/place-resolver/internal/resilience"
	"github.com/sells-group/place-resolver/internal/resolver"
)

var gpidCmd = &cobra.Command{
	Use:   "gpid",
	Short: "Google Place ID resolution and review",
}

var (
	resolveDryRun bool
	resolveLimit  int
	resolveRegion string
	resolveHood   string
	resolveIDs    []string
	resolveReport string
)

var gpidResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve Google Place IDs for canonical places missing one",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		unlock, err := acquireBatchLock(cfg.Batch.LockPath)
		if err != nil {
			return err
		}
		defer unlock()

		st, err := initStore(ctx, "resolve")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		breaker := resilience.NewBreaker(resilience.BreakerFromConfig(
			cfg.Resolver.CircuitFailures, cfg.Resolver.CircuitResetSecs))
		r := resolver.New(initGoogle(), st, resolver.FromConfig(cfg.Resolver), resolver.WithBreaker(breaker))

		region := resolveRegion
		if region == "" && len(resolveIDs) == 0 {
			region = cfg.Resolver.Region.Name
		}
		stats, outcomes, err := r.Run(ctx, resolver.Options{
			Region:       region,
			Neighborhood: resolveHood,
			IDs:          resolveIDs,
			Limit:        resolveLimit,
			DryRun:       resolveDryRun,
		})
		if err != nil {
			return err
		}

		if resolveReport != "" {
			if err := resolver.WriteReport(resolveReport, outcomes); err != nil {
				return err
			}
			zap.L().Info("gpid resolve report written", zap.String("path", resolveReport))
		}

		fmt.Fprint(cmd.OutOrStdout(), renderTable(
			[]string{"Run", "Scanned", "Matched", "Ambiguous", "No match", "Error", "Applied", "Enqueued", "Failed", "Duration"},
			[][]string{{
				stats.RunID[:8],
				fmt.Sprint(stats.Scanned), fmt.Sprint(stats.Matched), fmt.Sprint(stats.Ambiguous),
				fmt.Sprint(stats.NoMatch), fmt.Sprint(stats.Errored), fmt.Sprint(stats.Applied),
				fmt.Sprint(stats.Enqueued), fmt.Sprint(stats.Failed), stats.Duration.Round(time.Millisecond).String(),
			}},
			[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
		)+"\n")
		return nil
	},
}

var gpidQueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Review unresolved GPID outcomes",
}

var (
	queueStatus   string
	queueResolver string
	queueReason   string
	queueSort     string
	queueLimit    int
	queueOffset   int
)

var gpidQueueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List GPID queue items",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		f, err := queueFilter()
		if err != nil {
			return err
		}

		st, err := initStore(ctx, "review")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		page, err := gpidqueue.NewService(st, gpidqueue.WithMinGPIDLength(cfg.GpidQueue.MinGPIDLength)).List(ctx, f)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), formatGpidPage(page))
		return nil
	},
}

// queueFilter builds the listing filter from flags.
func queueFilter() (gpidqueue.Filter, error) {
	f := gpidqueue.Filter{ReasonCode: strings.ToUpper(queueReason), Limit: queueLimit, Offset: queueOffset}
	if f.Limit <= 0 {
		f.Limit = cfg.GpidQueue.PageSize
	}
	var err error
	if queueStatus != "" {
		if f.HumanStatus, err = model.ParseHumanStatus(strings.ToUpper(queueStatus)); err != nil {
			return f, err
		}
	}
	if queueResolver != "" {
		if f.ResolverStatus, err = model.ParseResolverStatus(strings.ToUpper(queueResolver)); err != nil {
			return f, err
		}
	}
	if f.Sort, err = model.ParseGpidQueueSort(queueSort); err != nil {
		return f, err
	}
	return f, nil
}

func formatGpidPage(page *gpidqueue.Page) string {
	rows := make([][]string, 0, len(page.Items))
	for _, it := range page.Items {
		sim := ""
		if it.SimilarityScore != nil {
			sim = fmt.Sprintf("%.2f", *it.SimilarityScore)
		}
		rows = append(rows, []string{
			it.ID,
			truncateCell(it.PlaceName, 32),
			string(it.ResolverStatus),
			it.ReasonCode,
			sim,
			fmt.Sprint(len(it.Candidates)),
			it.CandidateGPID,
			string(it.HumanStatus),
		})
	}
	var b strings.Builder
	b.WriteString(renderTable(
		[]string{"ID", "Place", "Resolver", "Reason", "Similarity", "Candidates", "Candidate GPID", "Human"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
	))
	fmt.Fprintf(&b, "\nshowing %d-%d of %d | pending %d, approved %d, rejected %d, ambiguous %d\n",
		min(page.Pagination.Offset+1, page.Pagination.Total),
		page.Pagination.Offset+len(page.Items),
		page.Pagination.Total,
		page.Stats.Pending, page.Stats.Approved, page.Stats.Rejected, page.Stats.Ambiguous)
	return b.String()
}

var (
	decideGPID     string
	decideNote     string
	decideReviewer string
)

// queueDecisionCmd builds one of approve/reject/ambiguous/skip.
func queueDecisionCmd(use, short string, apply func(cmd *cobra.Command, svc *gpidqueue.Service, id string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <queue-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := initStore(cmd.Context(), "review")
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			svc := gpidqueue.NewService(st, gpidqueue.WithMinGPIDLength(cfg.GpidQueue.MinGPIDLength))
			if err := apply(cmd, svc, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], use)
			return nil
		},
	}
}

func reviewerName() string {
	if decideReviewer != "" {
		return decideReviewer
	}
	return os.Getenv("USER")
}

var (
	gpidApproveCmd = queueDecisionCmd("approve", "Approve a candidate GPID and write it to the place",
		func(cmd *cobra.Command, svc *gpidqueue.Service, id string) error {
			return svc.Approve(cmd.Context(), id, decideGPID, reviewerName(), decideNote)
		})
	gpidRejectCmd = queueDecisionCmd("reject", "Reject every candidate",
		func(cmd *cobra.Command, svc *gpidqueue.Service, id string) error {
			return svc.Reject(cmd.Context(), id, reviewerName(), decideNote)
		})
	gpidAmbiguousCmd = queueDecisionCmd("ambiguous", "Mark an item as ambiguous to a human too",
		func(cmd *cobra.Command, svc *gpidqueue.Service, id string) error {
			return svc.MarkAmbiguous(cmd.Context(), id, reviewerName(), decideNote)
		})
	gpidSkipCmd = queueDecisionCmd("skip", "Leave a pending item for later",
		func(cmd *cobra.Command, svc *gpidqueue.Service, id string) error {
			return svc.Skip(cmd.Context(), id)
		})
)

func init() {
	f := gpidResolveCmd.Flags()
	f.BoolVar(&resolveDryRun, "dry-run", false, "resolve without writing GPIDs or queue items")
	f.IntVar(&resolveLimit, "limit", 0, "max places to resolve (0 = all)")
	f.StringVar(&resolveRegion, "region", "", "region to resolve (default from config)")
	f.StringVar(&resolveHood, "neighborhood", "", "only places in this neighborhood")
	f.StringSliceVar(&resolveIDs, "id", nil, "resolve exactly these place ids (repeatable)")
	f.StringVar(&resolveReport, "report", "", "write per-place outcomes to a .csv or .xlsx file")

	lf := gpidQueueListCmd.Flags()
	lf.StringVar(&queueStatus, "status", "", "human status (default PENDING)")
	lf.StringVar(&queueResolver, "resolver-status", "", "resolver status filter")
	lf.StringVar(&queueReason, "reason", "", "reason code filter")
	lf.StringVar(&queueSort, "sort", "", "similarity_desc, similarity_asc, created_asc or created_desc")
	lf.IntVar(&queueLimit, "limit", 0, "page size (default from config)")
	lf.IntVar(&queueOffset, "offset", 0, "page offset")

	for _, c := range []*cobra.Command{gpidApproveCmd, gpidRejectCmd, gpidAmbiguousCmd, gpidSkipCmd} {
		if c != gpidSkipCmd {
			c.Flags().StringVar(&decideNote, "note", "", "reviewer note")
			c.Flags().StringVar(&decideReviewer, "reviewer", "", "reviewer name (default $USER)")
		}
		gpidQueueCmd.AddCommand(c)
	}
	gpidApproveCmd.Flags().StringVar(&decideGPID, "gpid", "", "GPID to write (default the item's candidate)")

	gpidQueueCmd.AddCommand(gpidQueueListCmd)
	gpidCmd.AddCommand(gpidResolveCmd, gpidQueueCmd)
	rootCmd.AddCommand(gpidCmd)
}
