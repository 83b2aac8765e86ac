package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sells-group/place-resolver/internal/gpidqueue"
	"github.com/sells-group/place-resolver/internal/model"
)

var gpidQueueSessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Work through pending GPID items from the keyboard",
	Long: "Commands: a [gpid] approve, r reject, ? ambiguous, s skip, g refresh, q quit.\n" +
		"Anything after the key is kept as the note, except for approve where it is the GPID.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		f, err := queueFilter()
		if err != nil {
			return err
		}
		f.HumanStatus = model.HumanPending

		st, err := initStore(ctx, "review")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		svc := gpidqueue.NewService(st, gpidqueue.WithMinGPIDLength(cfg.GpidQueue.MinGPIDLength))
		s, err := gpidqueue.NewSession(ctx, svc, reviewerName(), f)
		if err != nil {
			return err
		}
		return runGpidSession(ctx, s, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func runGpidSession(ctx context.Context, s *gpidqueue.Session, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		it := s.Current()
		if it == nil {
			st := s.Stats()
			fmt.Fprintf(out, "nothing pending: approved %d, rejected %d, ambiguous %d\n", st.Approved, st.Rejected, st.Ambiguous)
			return nil
		}
		fmt.Fprint(out, "\n"+formatGpidItem(it))
		st := s.Stats()
		fmt.Fprintf(out, "%d left | pending %d, approved %d, rejected %d, ambiguous %d\n> ",
			s.Remaining(), st.Pending, st.Approved, st.Rejected, st.Ambiguous)

		if ctx.Err() != nil || !scanner.Scan() {
			return scanner.Err()
		}
		key, rest, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		rest = strings.TrimSpace(rest)

		var err error
		switch strings.ToLower(key) {
		case "q":
			return nil
		case "a":
			err = s.Approve(ctx, rest, "")
		case "r":
			err = s.Reject(ctx, rest)
		case "?":
			err = s.MarkAmbiguous(ctx, rest)
		case "s":
			err = s.Skip(ctx)
		case "g":
			err = s.Refresh(ctx)
		default:
			fmt.Fprintln(out, "keys: a [gpid] approve, r reject, ? ambiguous, s skip, g refresh, q quit")
			continue
		}
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

func formatGpidItem(it *model.GpidQueueItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s  [%s %s]\n", it.ID, it.PlaceName, it.ResolverStatus, it.ReasonCode)
	if len(it.Candidates) == 0 {
		b.WriteString("no candidates\n")
		return b.String()
	}
	rows := make([][]string, 0, len(it.Candidates))
	for _, c := range it.Candidates {
		mark := ""
		if c.GooglePlaceID == it.CandidateGPID {
			mark = "*"
		}
		rows = append(rows, []string{
			mark,
			c.GooglePlaceID,
			truncateCell(c.Name, 32),
			truncateCell(c.FormattedAddress, 40),
			fmt.Sprintf("%.2f", c.Similarity),
			c.BusinessStatus,
		})
	}
	b.WriteString(renderTable(
		[]string{"", "GPID", "Name", "Address", "Similarity", "Status"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
	b.WriteString("\n")
	return b.String()
}

func init() {
	sf := gpidQueueSessionCmd.Flags()
	sf.StringVar(&queueReason, "reason", "", "reason code filter")
	sf.StringVar(&queueSort, "sort", "", "similarity_desc, similarity_asc, created_asc or created_desc")
	sf.IntVar(&queueLimit, "limit", 0, "items to load (default from config)")
	sf.StringVar(&decideReviewer, "reviewer", "", "reviewer name (default $USER)")

	gpidQueueCmd.AddCommand(gpidQueueSessionCmd)
}
