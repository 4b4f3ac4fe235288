package confirmation

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"print-marketplace/internal/backup"
	"print-marketplace/internal/display"
)

// ErrInterrupted is returned when the prompt is cancelled by a signal or context
var ErrInterrupted = errors.New("confirmation interrupted")

// RestorePlan describes what a restore is about to replace
type RestorePlan struct {
	Source   string
	Target   string
	Current  backup.Summary
	Incoming backup.Summary
}

// ConfirmationService asks the operator before destructive restores
type ConfirmationService interface {
	ConfirmRestore(ctx context.Context, plan RestorePlan, autoApprove bool) (bool, error)
	DisplayRestoreSummary(plan RestorePlan)
}

type confirmationService struct {
	display display.DisplayService
	reader  *bufio.Reader
}

// NewConfirmationService creates a service reading answers from in, or from
// stdin when in is nil
func NewConfirmationService(ds display.DisplayService, in io.Reader) ConfirmationService {
	if in == nil {
		in = os.Stdin
	}
	return &confirmationService{display: ds, reader: bufio.NewReader(in)}
}

// ConfirmRestore shows the plan and waits for y/N. "d" lists the tables that
// will be cleared and asks again.
func (cs *confirmationService) ConfirmRestore(ctx context.Context, plan RestorePlan, autoApprove bool) (bool, error) {
	cs.DisplayRestoreSummary(plan)

	if autoApprove {
		cs.display.Info("Auto-approving restore")
		return true, nil
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		input, err := cs.prompt(ctx)
		if err != nil {
			if errors.Is(err, ErrInterrupted) {
				cs.display.Warning("Restore cancelled by user")
			}
			return false, err
		}

		switch strings.ToLower(input) {
		case "y", "yes":
			return true, nil
		case "n", "no", "":
			cs.display.Info("Restore cancelled, no data was changed")
			return false, nil
		case "d", "details":
			cs.displayDetails(plan)
		default:
			cs.display.Warning(fmt.Sprintf("Invalid input %q. Enter 'y' for yes, 'n' for no or 'd' for details.", input))
		}
	}
}

// prompt reads one line, giving up when ctx is cancelled
func (cs *confirmationService) prompt(ctx context.Context) (string, error) {
	w := cs.display.Writer()
	fmt.Fprint(w, cs.display.Colors().Colorize("Replace ALL marketplace data with this backup? [y/N/d]: ", cs.display.Colors().Theme().Warning))

	type result struct {
		line string
		err  error
	}
	lines := make(chan result, 1)
	go func() {
		line, err := cs.reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			lines <- result{err: fmt.Errorf("failed to read input: %w", err)}
			return
		}
		lines <- result{line: strings.TrimSpace(line)}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(w)
		return "", ErrInterrupted
	case r := <-lines:
		return r.line, r.err
	}
}

// DisplayRestoreSummary compares current row counts with the backup's
func (cs *confirmationService) DisplayRestoreSummary(plan RestorePlan) {
	cs.display.PrintHeader("Restore " + plan.Source)
	if plan.Target != "" {
		cs.display.Info("Target database: " + plan.Target)
	}

	current, incoming := plan.Current.Map(), plan.Incoming.Map()
	rows := make([][]string, 0, len(backup.Collections))
	for _, table := range backup.Collections {
		rows = append(rows, []string{table, strconv.Itoa(current[table]), strconv.Itoa(incoming[table])})
	}
	cs.display.PrintTable([]string{"table", "current rows", "rows after restore"}, rows)

	if plan.Current.Total() > 0 {
		cs.display.Warning(fmt.Sprintf("%d existing rows will be deleted", plan.Current.Total()))
	}
}

func (cs *confirmationService) displayDetails(plan RestorePlan) {
	w := cs.display.Writer()
	fmt.Fprintln(w, "\nThe restore runs in one transaction:")
	for i, table := range backup.ClearOrder {
		fmt.Fprintf(w, "  %d. delete every row from %s\n", i+1, table)
	}
	fmt.Fprintf(w, "  %d. insert %s\n", len(backup.ClearOrder)+1, plan.Incoming)
	fmt.Fprintln(w, "Any failure rolls the transaction back and leaves the current data in place.")
	fmt.Fprintln(w)
}
