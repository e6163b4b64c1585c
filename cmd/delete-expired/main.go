package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/lgulliver/chunkup/internal/common"
	"github.com/lgulliver/chunkup/internal/session"
	"github.com/lgulliver/chunkup/internal/storage"
	"github.com/lgulliver/chunkup/internal/sweeper"
	"github.com/lgulliver/chunkup/internal/upload"
	"github.com/lgulliver/chunkup/pkg/config"
	"github.com/lgulliver/chunkup/pkg/types"
	"github.com/lgulliver/chunkup/pkg/utils"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to an optional YAML configuration file")
		interactive = flag.Bool("interactive", false, "Ask before deleting each upload")
		standalone  = flag.Bool("standalone", false, "Run without Redis; only safe while no api-gateway serves uploads")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	cfg.Logging.SetupLogging()

	if err := checkLocking(cfg.Redis.Enabled(), *standalone); err != nil {
		log.Fatal().Err(err).Msg("refusing to sweep")
	}

	db, err := common.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	var cache *common.Cache
	if cfg.Redis.Enabled() {
		cache, err = common.NewCache(&cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer cache.Close()
	}

	blobStorage, err := storage.NewStorageFactory(&cfg.Storage).CreateStorage()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}

	expirer := sweeper.New(session.NewGormStore(db), blobStorage, common.NewLocker(cache, cfg.Upload.LockTTL), cfg.Upload.ExpirationDelta).
		WithGracePeriod(cfg.Upload.LockTTL).
		WithOrphans(upload.BlobRoot(cfg.Upload.UploadPath))
	if *interactive {
		expirer.WithConfirmer(sweeper.NewPromptConfirmer(os.Stdin, os.Stdout))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := expirer.Sweep(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("sweep failed")
	}
	printReport(os.Stdout, report)

	if len(report.Failures) > 0 {
		os.Exit(1)
	}
}

// checkLocking refuses a sweep whose locks would not be seen by a running
// api-gateway unless the operator states that none is running
func checkLocking(redisEnabled, standalone bool) error {
	if redisEnabled || standalone {
		return nil
	}
	return errors.New("redis is not configured, so upload locks are not shared with the api-gateway; configure Redis or pass -standalone while no gateway is running")
}

func printReport(w io.Writer, report *sweeper.Report) {
	fmt.Fprintf(w, "%d complete uploads were deleted.\n", report.Deleted[types.StatusComplete])
	fmt.Fprintf(w, "%d incomplete uploads were deleted.\n", report.Deleted[types.StatusUploading]+report.Deleted[types.StatusFailed])
	if report.Skipped > 0 {
		fmt.Fprintf(w, "%d uploads were kept.\n", report.Skipped)
	}
	if report.Orphans > 0 {
		fmt.Fprintf(w, "%d orphaned blobs were deleted.\n", report.Orphans)
	}
	if report.FreedBytes > 0 {
		fmt.Fprintf(w, "%s freed.\n", utils.FormatBytes(report.FreedBytes))
	}
	for _, failure := range report.Failures {
		fmt.Fprintf(w, "failed to delete %s: %v\n", failure.UploadID, failure.Err)
	}
}
