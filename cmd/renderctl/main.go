// cmd/renderctl/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"render-dispatch/internal/config"
	"render-dispatch/internal/correlate"
	"render-dispatch/internal/credentials"
	"render-dispatch/internal/domain"
	gh "render-dispatch/internal/infra/github"
	"render-dispatch/internal/notify"
	"render-dispatch/internal/poller"
	"render-dispatch/internal/tracing"
	"render-dispatch/internal/usecase"
)

// paramFlags collects repeated -param key=value workflow inputs.
type paramFlags map[string]string

func (p paramFlags) String() string { return fmt.Sprintf("%v", map[string]string(p)) }

func (p paramFlags) Set(v string) error {
	k, val, ok := strings.Cut(v, "=")
	if !ok || k == "" {
		return fmt.Errorf("expected key=value, got %q", v)
	}
	p[k] = val
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Initialize logger: stderr so stdout stays a clean outcome channel
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		return 1
	}

	// 3. Initialize tracer
	tracerShutdown, err := tracing.InitTracer("render-dispatch")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		return 1
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", "error", err)
		}
	}()

	// 4. Root context with graceful shutdown on SIGINT/SIGTERM
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupGracefulShutdown(cancel, logger)

	// 5. Credential rotator backs every upstream call
	rotator := credentials.NewRotator(cfg.CredentialsDir, logger)

	if len(os.Args) > 1 && os.Args[1] == "keys" {
		return runKeys(rootCtx, os.Args[2:], cfg, rotator, logger)
	}
	return runDispatch(rootCtx, os.Args[1:], cfg, rotator, logger)
}

// runDispatch is the default command: trigger the workflow and optionally
// watch it to a terminal state.
func runDispatch(ctx context.Context, args []string, cfg *config.Config, rotator *credentials.Rotator, logger *slog.Logger) int {
	fs := flag.NewFlagSet("renderctl", flag.ContinueOnError)
	workflow := fs.String("workflow", cfg.Workflow, "workflow file to dispatch")
	ref := fs.String("ref", cfg.Ref, "git ref to dispatch against")
	watch := fs.Bool("watch", false, "poll the dispatched run to a terminal state")
	params := paramFlags{}
	fs.Var(params, "param", "workflow input as key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	// 6. Wire the pipeline: api client -> correlator -> poller -> service
	api := gh.NewClient(gh.Options{
		BaseURL:       cfg.APIBaseURL,
		Owner:         cfg.RepoOwner,
		Repo:          cfg.RepoName,
		TokenInputKey: cfg.TokenInputKey,
		Timeout:       cfg.HTTPTimeout,
	}, rotator, logger)

	correlator := correlate.NewCorrelator(api, cfg.CorrelationTolerance, cfg.ListPageSize, logger)
	progress := func(r *domain.RemoteRun) {
		fmt.Fprintf(os.Stderr, "run %d: %s\n", r.ID, r.Status)
	}
	statusPoller := poller.New(correlator, progress, logger)
	notifier := notify.NewTelegram(cfg.TelegramBaseURL, cfg.TelegramChatID, rotator, logger)

	svc := usecase.NewDispatchService(api, statusPoller, notifier, usecase.Options{
		TokenPrefix:  cfg.TokenPrefix,
		PollInterval: cfg.PollInterval,
		PollTimeout:  cfg.PollTimeout,
	}, logger)

	// 7. Expose /metrics while a watch is in progress
	if *watch && cfg.MetricsListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.MetricsListenAddr, mux); err != nil {
				logger.Warn("metrics listener stopped", "error", err)
			}
		}()
	}

	// 8. Run the attempt and report the outcome on stdout
	out, err := svc.Run(ctx, usecase.DispatchInput{
		Workflow: *workflow,
		Ref:      *ref,
		Inputs:   params,
		Watch:    *watch,
	})
	if err != nil {
		logger.Error("dispatch attempt aborted", "error", err)
		return 1
	}

	if err := json.NewEncoder(os.Stdout).Encode(out); err != nil {
		logger.Error("failed to encode outcome", "error", err)
		return 1
	}
	return exitCode(out)
}

// runKeys prints the credential inventory, optionally probing each key
// against the live API.
func runKeys(ctx context.Context, args []string, cfg *config.Config, rotator *credentials.Rotator, logger *slog.Logger) int {
	fs := flag.NewFlagSet("renderctl keys", flag.ContinueOnError)
	probe := fs.Bool("probe", false, "validate keys against the live API")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	for _, service := range []string{gh.Service, notify.Service} {
		if !rotator.Has(service) {
			fmt.Printf("%s: no keys\n", service)
			continue
		}
		fmt.Printf("%s: %d key(s)\n", service, rotator.Count(service))

		if *probe && service == gh.Service {
			statuses, err := rotator.Validate(ctx, service, cfg.APIBaseURL+"/user")
			if err != nil {
				logger.Error("key validation failed", "service", service, "error", err)
				return 1
			}
			for _, st := range statuses {
				state := "live"
				if !st.Live {
					state = "dead"
				}
				fmt.Printf("  key %d: %s\n", st.Index, state)
			}
		}
	}
	return 0
}

func exitCode(out *domain.Outcome) int {
	switch out.Kind {
	case domain.OutcomeDispatched, domain.OutcomeSucceeded:
		return 0
	case domain.OutcomeTimedOut:
		// distinct from failure: the remote job may still be running
		return 2
	default:
		return 1
	}
}

func setupGracefulShutdown(cancel context.CancelFunc, logger *slog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, stopping", "signal", sig.String())
		cancel()
	}()
}
