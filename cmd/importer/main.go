// Command importer loads the mobile post office JSON feed into MySQL.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hkpo/mobilepost-directory/internal/config"
	"github.com/hkpo/mobilepost-directory/internal/database"
	"github.com/hkpo/mobilepost-directory/internal/importer"
	"github.com/hkpo/mobilepost-directory/internal/logger"
	"github.com/hkpo/mobilepost-directory/internal/middleware"
	"github.com/hkpo/mobilepost-directory/internal/queue"
	"github.com/hkpo/mobilepost-directory/internal/repository"
	"github.com/hkpo/mobilepost-directory/internal/service"
)

var (
	feedFile   string
	dryRun     bool
	configFile string
)

// errReported marks a failure whose JSON report was already printed.
var errReported = errors.New("import failed")

var rootCmd = &cobra.Command{
	Use:   "importer",
	Short: "Import mobile post office records from a JSON feed",
	Long: `Reads the published mobile post office feed (a JSON array, or an object
with "data" and "lastUpdateDate") and upserts every record keyed on
(mobileCode, dayOfWeekCode, seq) in a single transaction.

Records without a key are skipped. If any record fails nothing is written.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runImport,
}

func init() {
	rootCmd.Flags().StringVarP(&feedFile, "file", "f", "mobile-office.json", "path to the JSON feed")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and validate without writing")
	rootCmd.Flags().StringVar(&configFile, "config", os.Getenv("MOBILEPOST_CONFIG"), "optional config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			_ = printJSON(os.Stdout, map[string]any{"success": false, "message": err.Error()})
		}
		os.Exit(1)
	}
}

// runImport wires config, logging, the store and the optional event
// publisher, then prints the import report.
func runImport(cmd *cobra.Command, _ []string) error {
	data, err := os.ReadFile(feedFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("JSON file not found: %s", feedFile)
		}
		return err
	}
	doc, err := importer.Parse(data)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store importer.Store = noStore{}
	var opts []importer.Option
	if !dryRun {
		db, err := database.Open(ctx, cfg.DB)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := database.EnsureSchema(ctx, db); err != nil {
			return err
		}
		store = repository.NewMobilePostRepo(db)

		rdb, err := config.NewRedisClient(cfg.Redis)
		if err != nil {
			// cached responses then expire by TTL
			log.Warn("redis unavailable, response cache not invalidated", zap.Error(err))
		}
		if rdb != nil {
			defer rdb.Close()
			if rc := middleware.NewResponseCache(cfg.Cache, rdb, log); rc != nil {
				opts = append(opts, importer.WithInvalidator(rc))
			}
		}
	}

	events := &eventSink{}
	res, err := importer.New(store, events, log, opts...).Run(ctx, doc, dryRun)
	if err != nil {
		return err
	}
	if cfg.AMQP.Enabled {
		events.flush(ctx, cfg.AMQP, log)
	}

	if err := printJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if !res.Success {
		return errReported
	}
	return nil
}

// eventSink holds the import event until the run has finished, so it can
// be sent synchronously before the process exits.
type eventSink struct {
	pending []queue.MobilePostChangedEvent
}

func (s *eventSink) Publish(ev queue.MobilePostChangedEvent) {
	s.pending = append(s.pending, ev)
}

func (s *eventSink) flush(ctx context.Context, cfg config.AMQPConfig, log *zap.Logger) {
	if len(s.pending) == 0 {
		return
	}
	p := service.NewEventPublisher(cfg, log)
	defer p.Close()
	for _, ev := range s.pending {
		if err := p.PublishNow(ctx, ev); err != nil {
			// the data is committed; a lost notification is not an import failure
			log.Warn("publish import event", zap.Error(err))
		}
	}
}

// noStore backs dry runs, which never open a transaction.
type noStore struct{}

func (noStore) WithUpsertTx(context.Context, func(context.Context, repository.Upserter) error) error {
	return errors.New("dry run has no store")
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
