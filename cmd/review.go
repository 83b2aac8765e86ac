package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/place-resolver/internal/model"
	"github.com/sells-group/place-resolver/internal/resilience"
	"github.com/sells-group/place-resolver/internal/review"
	"github.com/sells-group/place-resolver/internal/store"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Duplicate record review queue",
}

var (
	reviewStatus string
	reviewLimit  int
	reviewOffset int
)

// reviewEnv is what every review command opens.
type reviewEnv struct {
	st     *store.PostgresStore
	outbox *store.SQLiteOutbox
	svc    *review.Service
	worker *review.Worker
}

func (e *reviewEnv) Close() {
	_ = e.outbox.Close()
	e.st.Close() //nolint:errcheck
}

func initReview(ctx context.Context) (*reviewEnv, error) {
	st, err := initStore(ctx, "review")
	if err != nil {
		return nil, err
	}
	o, err := initOutbox(ctx)
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	svc := review.NewService(st)
	return &reviewEnv{st: st, outbox: o, svc: svc, worker: review.NewWorker(o, svc, workerConfig())}, nil
}

func workerConfig() review.WorkerConfig {
	wc := review.DefaultWorkerConfig()
	if cfg.Review.OutboxMaxAttempts > 0 {
		wc.MaxAttempts = cfg.Review.OutboxMaxAttempts
	}
	if cfg.Review.DrainIntervalSecs > 0 {
		wc.Interval = time.Duration(cfg.Review.DrainIntervalSecs) * time.Second
	}
	wc.Retry = resilience.FromRetryConfig(cfg.Review.Retry)
	return wc
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List duplicate review items",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		f := model.ReviewFilter{Limit: reviewLimit, Offset: reviewOffset}
		for _, s := range strings.Split(reviewStatus, ",") {
			if s = strings.TrimSpace(s); s != "" {
				f.Statuses = append(f.Statuses, model.ReviewStatus(strings.ToLower(s)))
			}
		}

		env, err := initReview(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		page, err := env.svc.List(ctx, f)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), formatReviewPage(page))
		return nil
	},
}

var reviewEvidenceCmd = &cobra.Command{
	Use:   "evidence <queue-id>",
	Short: "Show the side-by-side evidence for one pair",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initReview(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		it, err := env.svc.Get(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), formatEvidence(it))
		return nil
	},
}

var (
	decisionNotes    string
	decisionReviewer string
	decisionNoDrain  bool
)

var reviewDecideCmd = &cobra.Command{
	Use:   "decide <queue-id> <merge|different|skip|flag>",
	Short: "Queue a decision for one pair and deliver it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, err := model.ParseDecision(strings.ToLower(args[1]))
		if err != nil {
			return err
		}

		env, err := initReview(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		it, err := env.svc.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if !it.Status.Open() {
			return eris.Wrapf(review.ErrIllegalTransition, "%s is already %s", args[0], it.Status)
		}

		err = review.Submit(ctx, env.outbox, review.Decision{
			QueueID:  args[0],
			Decision: d,
			Notes:    decisionNotes,
			Reviewer: decisionReviewerName(),
		}, workerConfig().MaxAttempts)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s queued\n", args[0], d)
		if decisionNoDrain {
			return nil
		}
		return drainOnce(ctx, cmd.OutOrStdout(), env.worker)
	},
}

func decisionReviewerName() string {
	if decisionReviewer != "" {
		return decisionReviewer
	}
	return reviewerName()
}

var reviewSessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Review pairs one at a time from the keyboard",
	Long: "Keys: m merge, d different, s skip, f flag, n/right next, p/left prev, q quit.\n" +
		"Decisions are queued locally and delivered in the background.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initReview(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		wc := workerConfig()
		limit := reviewLimit
		if limit <= 0 {
			limit = 50
		}
		s, err := review.OpenSession(ctx, env.svc, env.outbox, decisionReviewerName(), limit, wc.MaxAttempts)
		if err != nil {
			return err
		}

		workerCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- env.worker.Run(workerCtx) }()

		err = runSession(ctx, s, cmd.InOrStdin(), cmd.OutOrStdout())
		cancel()
		if werr := <-done; werr != nil {
			zap.L().Warn("review worker stopped", zap.Error(werr))
		}
		if err != nil {
			return err
		}
		// Deliver whatever the background worker had not reached yet.
		return drainOnce(context.WithoutCancel(ctx), cmd.OutOrStdout(), env.worker)
	},
}

// runSession reads one key per line until q, EOF or ctx is done.
func runSession(ctx context.Context, s *review.Session, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		it := s.Current()
		if it == nil {
			st := s.Stats()
			fmt.Fprintf(out, "queue empty: %d resolved, %d skipped\n", st.Resolved, st.Skipped)
			return nil
		}
		fmt.Fprintf(out, "\n[%d/%d] %s", s.Index()+1, s.Len(), formatEvidence(it))
		st := s.Stats()
		fmt.Fprintf(out, "pending %d | resolved %d | skipped %d | streak %d\n> ", st.Pending, st.Resolved, st.Skipped, st.Streak)

		if ctx.Err() != nil || !scanner.Scan() {
			return scanner.Err()
		}
		key := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(key, "q") {
			return nil
		}
		a, ok := review.KeyAction(key)
		if !ok {
			fmt.Fprintln(out, "keys: m merge, d different, s skip, f flag, n next, p prev, q quit")
			continue
		}
		if err := s.Handle(ctx, a); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

var reviewDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Deliver queued review decisions to the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initReview(ctx)
		if err != nil {
			return err
		}
		defer env.Close()
		return drainOnce(ctx, cmd.OutOrStdout(), env.worker)
	},
}

func drainOnce(ctx context.Context, out io.Writer, w *review.Worker) error {
	stats, err := w.Drain(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "delivered %d, retrying %d, dead %d\n", stats.Delivered, stats.Retrying, stats.Dead)
	return nil
}

var reviewDeadCmd = &cobra.Command{
	Use:   "dead",
	Short: "List review decisions parked after failed delivery",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initReview(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		entries, err := env.worker.Dead(ctx)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), formatDead(entries))
		return nil
	},
}

var reviewRequeueCmd = &cobra.Command{
	Use:   "requeue <entry-id>",
	Short: "Give a parked decision a fresh delivery budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initReview(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.worker.Requeue(ctx, args[0]); err != nil {
			return err
		}
		return drainOnce(ctx, cmd.OutOrStdout(), env.worker)
	},
}

func formatReviewPage(page *review.Page) string {
	rows := make([][]string, 0, len(page.Items))
	for _, it := range page.Items {
		nameA, nameB := "", ""
		if it.RecordA != nil {
			nameA = it.RecordA.Name
		}
		if it.RecordB != nil {
			nameB = it.RecordB.Name
		}
		rows = append(rows, []string{
			it.QueueID,
			string(it.ConflictType),
			truncateCell(nameA, 28),
			truncateCell(nameB, 28),
			formatDistance(it.Evidence.DistanceM),
			strings.Join(it.Evidence.Conflicts(), ","),
			fmt.Sprint(it.Priority),
			string(it.Status),
		})
	}
	var b strings.Builder
	b.WriteString(renderTable(
		[]string{"ID", "Conflict", "Record A", "Record B", "Distance", "Conflicting", "Priority", "Status"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
	))
	fmt.Fprintf(&b, "\n%d total | pending %d, deferred %d, resolved %d\n",
		page.Pagination.Total, page.Stats.Pending, page.Stats.Deferred, page.Stats.Resolved)
	return b.String()
}

func formatEvidence(it *review.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s, priority %d)\n", it.QueueID, it.ConflictType, it.Priority)

	srcA, srcB := "", ""
	if it.RecordA != nil {
		srcA = it.RecordA.SourceName
	}
	if it.RecordB != nil {
		srcB = it.RecordB.SourceName
	}
	rows := make([][]string, 0, len(it.Evidence.Fields))
	for _, f := range it.Evidence.Fields {
		mark := ""
		if f.Preferred != "" {
			mark = "◀ " + string(f.Preferred)
		}
		rows = append(rows, []string{
			f.Field,
			truncateCell(f.A, 36),
			truncateCell(f.B, 36),
			fmt.Sprintf("%.2f", f.Similarity),
			f.Class,
			mark,
		})
	}
	b.WriteString(renderTable(
		[]string{"Field", "A: " + srcA, "B: " + srcB, "Similarity", "Class", "Prefer"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	))
	b.WriteString("\n")

	fmt.Fprintf(&b, "distance: %s", formatDistance(it.Evidence.DistanceM))
	if it.Evidence.Proximity != "" {
		fmt.Fprintf(&b, " (%s)", it.Evidence.Proximity)
	}
	if it.Evidence.Warning {
		b.WriteString(" WARNING: records are far apart")
	}
	b.WriteString("\n")
	return b.String()
}

func formatDistance(d *float64) string {
	if d == nil {
		return "-"
	}
	if *d >= 1000 {
		return fmt.Sprintf("%.1f km", *d/1000)
	}
	return fmt.Sprintf("%.0f m", *d)
}

func formatDead(entries []resilience.OutboxEntry) string {
	if len(entries) == 0 {
		return "no parked decisions\n"
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.ID,
			e.Key,
			fmt.Sprintf("%d/%d", e.Attempts, e.MaxAttempts),
			e.ErrorType,
			truncateCell(e.LastError, 60),
			e.UpdatedAt.Format(time.RFC3339),
		})
	}
	return renderTable(
		[]string{"Entry", "Queue ID", "Attempts", "Type", "Last error", "Updated"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
	) + "\n"
}

func init() {
	lf := reviewListCmd.Flags()
	lf.StringVar(&reviewStatus, "status", "", "comma-separated statuses (default pending,deferred)")
	lf.IntVar(&reviewLimit, "limit", 0, "page size (default 20)")
	lf.IntVar(&reviewOffset, "offset", 0, "page offset")

	df := reviewDecideCmd.Flags()
	df.StringVar(&decisionNotes, "notes", "", "reviewer notes")
	df.StringVar(&decisionReviewer, "reviewer", "", "reviewer name (default $USER)")
	df.BoolVar(&decisionNoDrain, "no-drain", false, "queue only; leave delivery to the worker")

	sf := reviewSessionCmd.Flags()
	sf.StringVar(&decisionReviewer, "reviewer", "", "reviewer name (default $USER)")
	sf.IntVar(&reviewLimit, "limit", 0, "items to load (default 50)")

	reviewCmd.AddCommand(reviewListCmd, reviewEvidenceCmd, reviewDecideCmd, reviewSessionCmd,
		reviewDrainCmd, reviewDeadCmd, reviewRequeueCmd)
	rootCmd.AddCommand(reviewCmd)
}
