package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/relay"
	"github.com/aretw0/relay/internal/presentation/tui"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/queue"
)

// ChatOptions configures an interactive chat.
type ChatOptions struct {
	CorrelationID string
	In            io.Reader
	Out           io.Writer
	Renderer      *tui.Renderer
	Quiet         bool // no prompt
}

// RunChat reads one action per line and sends it into the session until the input
// ends, ctx is cancelled or the user types /quit.
//
// Before reading input it resumes an unresolved poll and drains the pending queue into
// the session. Lines starting with a slash are commands: /drain, /recover, /queue,
// /history and /quit.
func RunChat(ctx context.Context, client *relay.Client, opts ChatOptions) error {
	if opts.Renderer == nil {
		opts.Renderer = tui.NewRenderer(false)
	}
	if _, err := client.Session(ctx, opts.CorrelationID); err != nil {
		return err
	}
	if err := resumeChat(ctx, client, opts); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		PrintSystemMessage(opts.Out, "Error: %v", err)
	}

	scanner := bufio.NewScanner(NewInterruptibleReader(opts.In, ctx.Done()))
	for {
		if !opts.Quiet {
			fmt.Fprint(opts.Out, "> ")
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return io.EOF
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		quit, err := chatLine(ctx, client, opts, line)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			PrintSystemMessage(opts.Out, "Error: %v", err)
		}
		if quit {
			return nil
		}
	}
}

// resumeChat prints only what the resume actually did.
func resumeChat(ctx context.Context, client *relay.Client, opts ChatOptions) error {
	out, report, err := client.Resume(ctx, opts.CorrelationID)
	if out.Status != relay.StatusNothingPending {
		if perr := PrintOutcome(opts.Out, opts.Renderer, out); perr != nil && err == nil {
			err = perr
		}
	}
	if len(report.Processed) > 0 || len(report.Failed) > 0 {
		PrintReport(opts.Out, report)
	}
	return err
}

func chatLine(ctx context.Context, client *relay.Client, opts ChatOptions, line string) (bool, error) {
	switch line {
	case "/quit", "/exit":
		return true, nil

	case "/drain":
		report, err := client.Drain(ctx, opts.CorrelationID)
		if err != nil {
			return false, err
		}
		PrintReport(opts.Out, report)
		return false, nil

	case "/recover":
		out, err := client.Recover(ctx)
		if err != nil {
			return false, err
		}
		return false, PrintOutcome(opts.Out, opts.Renderer, out)

	case "/queue":
		pending, err := client.Pending(ctx)
		if err != nil {
			return false, err
		}
		PrintPending(opts.Out, pending)
		return false, nil

	case "/history":
		session, err := client.Session(ctx, opts.CorrelationID)
		if err != nil {
			return false, err
		}
		text, err := opts.Renderer.Transcript(session)
		if err != nil {
			return false, err
		}
		fmt.Fprint(opts.Out, text)
		return false, nil
	}

	if strings.HasPrefix(line, "/") {
		return false, fmt.Errorf("unknown command %q", line)
	}

	out, err := client.Send(ctx, opts.CorrelationID, line)
	if perr := PrintOutcome(opts.Out, opts.Renderer, out); perr != nil && err == nil {
		err = perr
	}
	return false, err
}

// PrintOutcome writes the status of o and, when resolved, the produced text.
func PrintOutcome(w io.Writer, r *tui.Renderer, o relay.Outcome) error {
	if o.Status == "" {
		return nil
	}
	PrintSystemMessage(w, "%s", r.Status(o))
	switch o.Status {
	case relay.StatusResolved:
		text, err := r.Message(domain.Message{Role: domain.RoleProduced, Text: o.Text})
		if err != nil {
			return err
		}
		fmt.Fprint(w, text)
	case relay.StatusTimedOut:
		PrintSystemMessage(w, "Result still pending. Run 'relay recover' later.")
	case relay.StatusQueued:
		PrintSystemMessage(w, "Action queued. Run 'relay drain' once a wallet is connected.")
	}
	return nil
}

// PrintReport summarizes a drain.
func PrintReport(w io.Writer, report queue.Report) {
	if report.Skipped != "" {
		if report.Cause != nil {
			PrintSystemMessage(w, "Drain skipped: %s (%v)", report.Skipped, report.Cause)
		} else {
			PrintSystemMessage(w, "Drain skipped: %s", report.Skipped)
		}
		return
	}
	PrintSystemMessage(w, "Drained %d, failed %d, remaining %d.", len(report.Processed), len(report.Failed), len(report.Remaining))
	for _, f := range report.Failed {
		PrintSystemMessage(w, "  %q: %v", f.Text, f.Err)
	}
}

// PrintPending lists queued actions.
func PrintPending(w io.Writer, pending []string) {
	if len(pending) == 0 {
		PrintSystemMessage(w, "Queue is empty.")
		return
	}
	for i, text := range pending {
		fmt.Fprintf(w, "%d. %s\n", i+1, text)
	}
}
