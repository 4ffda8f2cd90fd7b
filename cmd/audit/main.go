// Command audit scans sending campaigns and marks finished ones sent.
//
// Usage:
//
//	audit [-config config.yaml] [-fix=true] [-threshold 10m] [-interval 5m] [-once]
//
// By default it runs every audit.interval until interrupted; -once (or
// -interval 0) runs a single scan. Exit status is 0 when every run
// completed, 1 on an unexpected error.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/portal-dispatch/internal/app"
	"github.com/unclebandit/portal-dispatch/internal/config"
	"github.com/unclebandit/portal-dispatch/internal/db"
	"github.com/unclebandit/portal-dispatch/internal/logger"
	"github.com/unclebandit/portal-dispatch/internal/service"
)

type options struct {
	configPath string
	fix        bool
	threshold  time.Duration
	interval   time.Duration
	jsonOut    bool
}

func parseFlags(args []string, cfg *config.Config) (options, error) {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	opts := options{}
	fs.StringVar(&opts.configPath, "config", "config.yaml", "path to the YAML config file")
	fs.BoolVar(&opts.fix, "fix", cfg.Audit.Fix(), "mark complete campaigns as sent")
	fs.DurationVar(&opts.threshold, "threshold", cfg.Audit.StuckThreshold, "age after which a partially sent campaign is reported stuck")
	fs.DurationVar(&opts.interval, "interval", cfg.Audit.Interval, "repeat on this interval; 0 runs once")
	once := fs.Bool("once", false, "run a single scan and exit")
	fs.BoolVar(&opts.jsonOut, "json", false, "print each report as JSON")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if *once {
		opts.interval = 0
	}
	return opts, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out io.Writer) int {
	path := configPathFrom(args)
	cfg, err := config.LoadFromEnv(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		return 1
	}
	opts, err := parseFlags(args, cfg)
	if err != nil {
		return 1
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		return 1
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		log.Error("failed to connect to DB", zap.Error(err))
		return 1
	}
	defer conn.Close()

	rdb, err := app.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		log.Error("failed to connect to Redis", zap.Error(err))
		return 1
	}
	if rdb != nil {
		defer rdb.Close()
	}

	svc, err := app.Build(cfg, log, conn, rdb, nil)
	if err != nil {
		log.Error("failed to build services", zap.Error(err))
		return 1
	}
	auditor := svc.Auditor
	auditor.AutoFix = opts.fix
	auditor.Threshold = opts.threshold

	return loop(ctx, auditor, opts, out, log)
}

type auditRunner interface {
	Run(ctx context.Context) (*service.AuditReport, error)
}

// loop runs the auditor once, or on every tick of opts.interval until ctx ends.
func loop(ctx context.Context, a auditRunner, opts options, out io.Writer, log *zap.Logger) int {
	once := func() error {
		report, err := a.Run(ctx)
		if report != nil {
			printReport(out, report, opts.jsonOut)
		}
		return err
	}

	if opts.interval <= 0 {
		if err := once(); err != nil {
			log.Error("audit failed", zap.Error(err))
			return 1
		}
		return 0
	}

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()
	code := 0
	for {
		if err := once(); err != nil {
			log.Error("audit failed", zap.Error(err))
			code = 1
		}
		if ctx.Err() != nil {
			return code
		}
		select {
		case <-ctx.Done():
			return code
		case <-ticker.C:
		}
	}
}

func printReport(out io.Writer, r *service.AuditReport, asJSON bool) {
	if asJSON {
		json.NewEncoder(out).Encode(r)
		return
	}
	for _, res := range r.Results {
		fmt.Fprintf(out, "campaign %d: %d/%d sent, %s\n", res.CampaignID, res.Counts.Sent, res.Counts.Total, res.Action)
	}
	fmt.Fprintf(out, "checked %d, fixed %d, stuck %d\n", r.Checked, r.Fixed, len(r.Stuck))
}

// configPathFrom finds -config before the full flag set exists, since the
// other flag defaults come from the loaded config.
func configPathFrom(args []string) string {
	for i, arg := range args {
		if (arg == "-config" || arg == "--config") && i+1 < len(args) {
			return args[i+1]
		}
		for _, prefix := range []string{"-config=", "--config="} {
			if v, ok := strings.CutPrefix(arg, prefix); ok {
				return v
			}
		}
	}
	return "config.yaml"
}
