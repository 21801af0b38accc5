package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/nwfth/rm-unpick/internal/audit"
	"github.com/nwfth/rm-unpick/internal/gateway"
	"github.com/nwfth/rm-unpick/internal/model"
	"github.com/nwfth/rm-unpick/internal/notify"
	"github.com/nwfth/rm-unpick/internal/session"
	"github.com/nwfth/rm-unpick/internal/store"
	"github.com/nwfth/rm-unpick/internal/telemetry"
	"github.com/nwfth/rm-unpick/pkg/config"
	"github.com/nwfth/rm-unpick/pkg/logger"
)

const usage = `rm-unpick - remove partial picking records from a production run

Usage:
  rm-unpick login -user <username>
  rm-unpick health
  rm-unpick search -run <runno>
  rm-unpick remove -run <runno> [-keys <row-line,...>] [-yes]
  rm-unpick report -run <runno> [-format csv|pdf]
  rm-unpick shell
`

// app bundles the wired components shared by all subcommands.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	bus      *notify.Bus
	sessions *session.Manager
	gw       *gateway.Client
	records  *store.Store
	metrics  *telemetry.Metrics
	validate *validator.Validate
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	a := &app{
		cfg:      cfg,
		log:      logr,
		bus:      notify.New(),
		metrics:  telemetry.New(),
		validate: validator.New(),
	}
	defer a.bus.Close()

	a.sessions = session.NewManager(cfg.Session.Path, logr)
	a.sessions.Restore()
	a.gw = gateway.NewClient(cfg.Backend, a.sessions, a.metrics, logr)
	a.records = store.New(a.gw, a.sessions, a.bus, logr)

	ctx := context.Background()
	switch os.Args[1] {
	case "login":
		err = a.cmdLogin(ctx, os.Args[2:])
	case "health":
		err = a.cmdHealth(ctx)
	case "search":
		err = a.cmdSearch(ctx, os.Args[2:])
	case "remove":
		err = a.cmdRemove(ctx, os.Args[2:])
	case "report":
		err = a.cmdReport(ctx, os.Args[2:])
	case "shell":
		err = a.cmdShell(ctx)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) cmdLogin(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	user := fs.String("user", "", "operator username")
	_ = fs.Parse(args)

	if *user == "" {
		return fmt.Errorf("missing -user")
	}
	fmt.Print("Password: ")
	reader := bufio.NewReader(os.Stdin)
	password, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	identity, err := a.sessions.Login(ctx, a.gw, *user, strings.TrimSpace(password))
	if err != nil {
		return err
	}
	fmt.Printf("Logged in as %s (%s)\n", identity.Username, identity.Department)
	return nil
}

func (a *app) cmdHealth(ctx context.Context) error {
	status, err := a.gw.Health(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("backend reachable (status %d, %s)\n", status.StatusCode, status.Duration.Round(time.Millisecond))
	return nil
}

func (a *app) cmdSearch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	runNo := fs.Int("run", 0, "run number")
	_ = fs.Parse(args)
	if err := a.validate.Var(*runNo, "required,gt=0"); err != nil {
		return fmt.Errorf("run number must be a positive integer")
	}

	if err := a.records.Search(ctx, *runNo); err != nil {
		return err
	}
	printSession(a.records.Snapshot(), a.records.SelectableCount())
	return nil
}

func (a *app) cmdRemove(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	runNo := fs.Int("run", 0, "run number")
	keys := fs.String("keys", "", "comma separated row-line keys, defaults to all eligible rows")
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	_ = fs.Parse(args)
	if err := a.validate.Var(*runNo, "required,gt=0"); err != nil {
		return fmt.Errorf("run number must be a positive integer")
	}

	if err := a.records.Search(ctx, *runNo); err != nil {
		return err
	}

	if *keys == "" {
		a.records.SelectAll()
	} else {
		parsed, err := parseKeys(*keys)
		if err != nil {
			return err
		}
		a.records.SetSelection(parsed)
	}

	snap := a.records.Snapshot()
	if len(snap.Selected) == 0 {
		return fmt.Errorf("no selectable rows matched for RunNo: %d", *runNo)
	}

	if !*yes {
		fmt.Printf("About to remove %d record(s) from RunNo %d. Continue? [y/N] ", len(snap.Selected), *runNo)
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if !strings.EqualFold(strings.TrimSpace(answer), "y") {
			fmt.Println("aborted")
			return nil
		}
	}

	result, err := a.records.Remove(ctx)
	if err != nil {
		return err
	}
	a.metrics.AddRemoved(result.Affected)
	a.journalRemoval(ctx, *runNo, result)

	fmt.Printf("Backend reports %d row(s) affected\n", result.Affected)
	return nil
}

func (a *app) cmdReport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	runNo := fs.Int("run", 0, "run number")
	format := fs.String("format", "csv", "report format: csv or pdf")
	_ = fs.Parse(args)
	if err := a.validate.Var(*runNo, "required,gt=0"); err != nil {
		return fmt.Errorf("run number must be a positive integer")
	}

	journal, err := audit.Open(a.cfg.Audit.Path, a.log)
	if err != nil {
		return err
	}
	defer journal.Close()

	entries, err := journal.List(ctx, *runNo)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Printf("No journaled removals for RunNo: %d\n", *runNo)
		return nil
	}

	path, err := audit.WriteReport(a.cfg.Audit.ExportDir, *runNo, *format, entries)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

// cmdShell runs the interactive session: one store, toast-style notifications
// and, when enabled, a /metrics listener for the duration of the shell.
func (a *app) cmdShell(ctx context.Context) error {
	subID := a.bus.Subscribe(func(n notify.Notification) {
		fmt.Printf("[%s] %s\n", n.Level, n.Message)
	})
	defer a.bus.Unsubscribe(subID)

	if a.cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", a.metrics.Handler())
			a.log.Info("metrics listener starting", zap.String("addr", a.cfg.Metrics.Addr))
			if err := http.ListenAndServe(a.cfg.Metrics.Addr, mux); err != nil {
				a.log.Warn("metrics listener stopped", zap.Error(err))
			}
		}()
	}

	fmt.Println("rm-unpick shell. Commands: search <run> | all | toggle <row> <line> | clear | show | remove | reset | health | quit")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if done, err := a.dispatch(ctx, fields); done {
			return err
		}
	}
}

func (a *app) dispatch(ctx context.Context, fields []string) (bool, error) {
	switch fields[0] {
	case "quit", "exit":
		return true, nil
	case "search":
		if len(fields) != 2 {
			fmt.Println("usage: search <run>")
			return false, nil
		}
		var runNo int
		if _, err := fmt.Sscanf(fields[1], "%d", &runNo); err != nil || a.validate.Var(runNo, "gt=0") != nil {
			fmt.Println("run number must be a positive integer")
			return false, nil
		}
		if err := a.records.Search(ctx, runNo); err != nil {
			return false, nil // already surfaced through the bus
		}
		printSession(a.records.Snapshot(), a.records.SelectableCount())
	case "all":
		a.records.SelectAll()
		fmt.Printf("%d row(s) selected\n", len(a.records.Snapshot().Selected))
	case "toggle":
		if len(fields) != 3 {
			fmt.Println("usage: toggle <row> <line>")
			return false, nil
		}
		var rowNum, lineID int
		if _, err := fmt.Sscanf(fields[1]+" "+fields[2], "%d %d", &rowNum, &lineID); err != nil {
			fmt.Println("usage: toggle <row> <line>")
			return false, nil
		}
		a.records.ToggleSelection(rowNum, lineID)
		fmt.Printf("%d row(s) selected\n", len(a.records.Snapshot().Selected))
	case "clear":
		a.records.ClearSelection()
	case "show":
		printSession(a.records.Snapshot(), a.records.SelectableCount())
	case "remove":
		snap := a.records.Snapshot()
		result, err := a.records.Remove(ctx)
		if err != nil {
			return false, nil // surfaced through the bus
		}
		a.metrics.AddRemoved(result.Affected)
		a.journalRemoval(ctx, snap.RunNo, result)
	case "reset":
		a.records.Reset()
	case "health":
		if status, err := a.gw.Health(ctx); err != nil {
			fmt.Printf("backend unreachable: %v\n", err)
		} else {
			fmt.Printf("backend reachable (status %d)\n", status.StatusCode)
		}
	default:
		fmt.Printf("unknown command %q\n", fields[0])
	}
	return false, nil
}

func (a *app) journalRemoval(ctx context.Context, runNo int, result store.RemoveResult) {
	if !a.cfg.Audit.Enabled {
		return
	}
	user, _ := a.sessions.CurrentUser()
	journal, err := audit.Open(a.cfg.Audit.Path, a.log)
	if err != nil {
		a.log.Warn("audit journal unavailable", zap.Error(err))
		return
	}
	defer journal.Close()
	if err := journal.Record(ctx, runNo, result.Removed, result.Affected, user.Username); err != nil {
		a.log.Warn("failed to journal removal", zap.Error(err))
	}
}

func parseKeys(raw string) ([]model.Key, error) {
	parts := strings.Split(raw, ",")
	keys := make([]model.Key, 0, len(parts))
	for _, part := range parts {
		key, err := model.ParseKey(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func printSession(snap store.Snapshot, selectable int) {
	if snap.Note != "" {
		fmt.Println(snap.Note)
		return
	}
	fmt.Printf("RunNo %d: %d record(s), %d selectable, %d selected\n",
		snap.RunNo, len(snap.Lines), selectable, len(snap.Selected))
	for _, line := range snap.Lines {
		marker := " "
		if !line.Selectable() {
			marker = "x"
		}
		fmt.Printf("  [%s] %-8s row=%d line=%d batch=%s loc=%s topick=%.2f picked=%.2f %s\n",
			marker, line.ItemKey, line.RowNum, line.LineID, line.BatchNo, line.Location,
			line.ToPickedPartialQty, line.Picked(), line.Unit)
	}
}
