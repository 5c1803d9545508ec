package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sfdcai/media-pipeline/internal/archive"
	"github.com/sfdcai/media-pipeline/internal/compress"
	"github.com/sfdcai/media-pipeline/internal/dedupe"
	"github.com/sfdcai/media-pipeline/internal/hashindex"
	"github.com/sfdcai/media-pipeline/internal/ingest"
	"github.com/sfdcai/media-pipeline/internal/media"
	"github.com/sfdcai/media-pipeline/internal/mirror"
	"github.com/sfdcai/media-pipeline/internal/orchestrator"
	"github.com/sfdcai/media-pipeline/internal/stage"
	"github.com/sfdcai/media-pipeline/internal/store"
	"github.com/sfdcai/media-pipeline/internal/syncpixel"
	"github.com/sfdcai/media-pipeline/internal/uploadicloud"
	"github.com/sfdcai/media-pipeline/internal/verify"
)

// icloudPhotosUploadURL is the cloud photo service's web upload page. No
// configuration key names this (the knownKeys table covers only the
// selector override, session file, and timeout for destination A), so
// it is fixed here the way the teacher fixes its own graph base URL.
const icloudPhotosUploadURL = "https://www.icloud.com/photos/"

// mediaExtensions restricts the local-folder-scan ingest variant to
// known photo/video extensions rather than sweeping every file under
// DEDUPLICATION_DIRECTORIES.
var mediaExtensions = []string{
	".jpg", ".jpeg", ".png", ".heic", ".gif", ".bmp", ".tiff",
	".mov", ".mp4", ".m4v", ".avi",
}

func newRunCmd() *cobra.Command {
	var onlyPhase string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline phase graph",
		Long: `Runs Ingest through Sort honoring every ENABLE_* toggle (spec §6).

Exit code 0 means every enabled phase started successfully (individual
file failures are reported, not fatal); 1 means a phase failed to start;
2 means configuration could not be loaded.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, onlyPhase)
		},
	}

	cmd.Flags().StringVar(&onlyPhase, "phase", "",
		"run only one named phase (ingest, dedupe, compress, stage, upload_icloud, sync_pixel, verify, sort)")

	return cmd
}

func runPipeline(cmd *cobra.Command, onlyPhase string) error {
	cc := mustCLIContext(cmd.Context())

	lockPath := filepath.Join(filepath.Dir(cc.Cfg.LocalDBPath), "pipeline.lock")

	unlock, err := writePIDFile(lockPath)
	if err != nil {
		return &exitCodeError{code: exitConfigError, err: fmt.Errorf("acquiring run lock: %w", err)}
	}
	defer unlock()

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	engine, err := buildOrchestrator(ctx, cc)
	if err != nil {
		return &exitCodeError{code: exitConfigError, err: err}
	}

	var report orchestrator.Report

	if onlyPhase != "" {
		phase, ok := engine.Phase(onlyPhase)
		if !ok {
			return &exitCodeError{code: exitConfigError, err: fmt.Errorf("%w: unknown phase %q", media.ErrConfig, onlyPhase)}
		}

		report = orchestrator.Report{Phases: []orchestrator.PhaseReport{engine.RunPhase(ctx, phase)}}
	} else {
		report = engine.Run(ctx)
	}

	reconcileMirror(ctx, cc)

	return exitForReport(report)
}

// exitForReport prints each phase's outcome and maps the run to
// pipeline run's documented exit codes (spec §6): 1 if any phase failed
// to start, 0 otherwise.
func exitForReport(report orchestrator.Report) error {
	for _, p := range report.Phases {
		statusf("pipeline: phase %-13s processed=%-4d succeeded=%-4d failed=%-4d skipped=%-2d (%s)\n",
			p.Name, p.Processed, p.Succeeded, p.Failed, p.Skipped, p.Duration)

		if p.Err != nil {
			return &exitCodeError{code: exitPhaseFailed, err: fmt.Errorf("phase %s failed to start: %w", p.Name, p.Err)}
		}
	}

	return nil
}

// reconcileMirror best-effort replicates unsynced rows to the remote
// store after a run (spec §4.3). A failure here never affects pipeline
// run's exit code — the next run retries.
func reconcileMirror(ctx context.Context, cc *CLIContext) {
	if cc.Cfg.RemoteDBURL == "" {
		return
	}

	client := mirror.NewClient(cc.Cfg.RemoteDBURL, cc.Cfg.RemoteDBKey, cc.Logger)
	m := mirror.New(client, cc.Store, 1000, cc.Logger)

	if err := m.Reconcile(ctx); err != nil {
		cc.Logger.Warn("mirror: reconcile failed, will retry next run", slog.String("error", err.Error()))
	}
}

// buildOrchestrator assembles every phase engine from cc.Cfg and wires
// them into an orchestrator.Engine, gated by each ENABLE_* toggle.
func buildOrchestrator(ctx context.Context, cc *CLIContext) (*orchestrator.Engine, error) {
	cfg := cc.Cfg
	st := cc.Store
	logger := cc.Logger

	var adapters []ingest.Adapter

	if cfg.EnableFolderDownload {
		adapters = append(adapters, ingest.NewLocalFolderAdapter(cfg.DeduplicationDirectories, true, mediaExtensions, logger))
	}

	if cfg.EnableICloudDownload {
		// Concrete cloud vendor SDK calls for source download are
		// explicitly out of scope (spec §1): no production Downloader
		// exists to back CloudPhotoAdapter, so the toggle is honored by
		// skipping adapter construction rather than faking one.
		logger.Warn("ingest: ENABLE_ICLOUD_DOWNLOAD is set but no cloud source downloader is wired; skipping cloud-photo-source discovery")
	}

	ingestEng := ingest.New(st, cfg.OriginalsDir, logger, adapters...)

	index := hashindex.New()
	if err := index.Warm(ctx, st); err != nil {
		return nil, fmt.Errorf("warming hash index: %w", err)
	}

	dedupeAlg := dedupe.HashAlgorithm(cfg.DeduplicationHashAlgorithm)
	dedupeEngine := dedupe.New(st, index, dedupeAlg, cfg.CleanupDir, logger)

	compressPolicy := compress.Policy{
		IntervalYears:             cfg.CompressionIntervalYears,
		JPEGQuality:               cfg.JPEGQuality,
		InitialResizePercent:      cfg.InitialResizePercentage,
		SubsequentResizePercent:   cfg.SubsequentResizePercentage,
		InitialVideoResolution:    cfg.InitialVideoResolution,
		SubsequentVideoResolution: cfg.SubsequentVideoResolution,
		VideoCRF:                  cfg.VideoCRF,
		VideoPreset:               cfg.VideoPreset,
	}
	compressEngine := compress.New(st, compressPolicy, cfg.CompressedDir, logger)

	var destinations []stage.Destination
	if cfg.EnableICloudUpload {
		destinations = append(destinations, stage.Destination{Kind: media.UploadICloud, BridgeDir: cfg.BridgeICloudDir})
	}

	if cfg.EnablePixelUpload {
		destinations = append(destinations, stage.Destination{Kind: media.UploadPixel, BridgeDir: cfg.BridgePixelDir})
	}

	stageAlg := stage.HashAlgorithm(cfg.DeduplicationHashAlgorithm)
	stageCaps := stage.Caps{MaxSizeBytes: cfg.MaxBatchSizeBytes, MaxFiles: cfg.MaxBatchFiles}
	stageEngine := stage.New(st, destinations, stageCaps, stageAlg, logger,
		stage.WithClearBridgeBeforeProcessing(cfg.ClearBridgeBeforeProcessing))

	uploadICloudEngine := uploadicloud.New(st, uploadicloud.Config{
		UploadURL:        icloudPhotosUploadURL,
		SessionFile:      cfg.ICloudSessionFile,
		SelectorOverride: cfg.ICloudUploadSelector,
		UploadTimeout:    cfg.ICloudUploadTimeout,
		RetryAttempts:    cfg.UploadRetryAttempts,
		RetryDelay:       cfg.UploadRetryDelay,
		Headless:         cfg.PuppeteerHeadless,
		UploadedDir:      cfg.UploadedICloudDir,
	}, logger)

	pixelClient := syncpixel.NewClient(cfg.SyncthingAPIURL, cfg.SyncthingAPIKey)
	syncPixelEngine := syncpixel.New(st, pixelClient, syncpixel.Config{
		FolderID:     cfg.PixelSyncFolder,
		PollInterval: cfg.PixelPollInterval,
		Timeout:      cfg.PixelSyncTimeout,
		UploadedDir:  cfg.UploadedPixelDir,
	}, logger)

	// SyncPixel's FolderStatus probe is the only wired verification
	// capability. When pixel upload is enabled it is applied to every
	// uploaded file, whichever destination the file went to; otherwise
	// every file is verified through NoOp.
	var verifyCapability verify.Capability = verify.NoOp{}
	if cfg.EnablePixelUpload {
		verifyCapability = verify.NewSyncPixelProbe(pixelClient, cfg.PixelSyncFolder)
	}

	verifyEngine := verify.New(st, verifyCapability, logger)
	archiveEngine := archive.New(st, cfg.SortedDir, nil, logger)

	phases := orchestrator.Phases{
		Ingest: orchestrator.Phase{
			Name:    "ingest",
			Enabled: cfg.EnableICloudDownload || cfg.EnableFolderDownload,
			Run: func(ctx context.Context) (orchestrator.PhaseReport, error) {
				r, err := ingestEng.Run(ctx)
				return orchestrator.PhaseReport{Processed: r.Processed, Succeeded: r.Succeeded, Failed: r.Failed}, err
			},
		},
		Dedupe: orchestrator.Phase{
			Name:    "dedupe",
			Enabled: cfg.EnableDeduplication,
			Run: func(ctx context.Context) (orchestrator.PhaseReport, error) {
				r, err := dedupeEngine.Run(ctx)
				return orchestrator.PhaseReport{Processed: r.Processed, Succeeded: r.Survivors, Failed: r.Errors, Skipped: r.Duplicates}, err
			},
		},
		Compress: orchestrator.Phase{
			Name:    "compress",
			Enabled: cfg.EnableCompression,
			Run: func(ctx context.Context) (orchestrator.PhaseReport, error) {
				r, err := compressEngine.Run(ctx)
				return orchestrator.PhaseReport{Processed: r.Processed, Succeeded: r.Compressed, Failed: r.Errors, Skipped: r.Unsupported}, err
			},
		},
		Stage: orchestrator.Phase{
			Name:    "stage",
			Enabled: cfg.EnableFilePreparation,
			Run: func(ctx context.Context) (orchestrator.PhaseReport, error) {
				r, err := stageEngine.Run(ctx)

				var staged, skipped int
				for _, d := range r.Destinations {
					staged += d.Staged
					skipped += d.Skipped
				}

				return orchestrator.PhaseReport{Processed: staged + skipped, Succeeded: staged, Skipped: skipped}, err
			},
		},
		UploadCloud: orchestrator.Phase{
			Name:    "upload_icloud",
			Enabled: cfg.EnableICloudUpload,
			Run: func(ctx context.Context) (orchestrator.PhaseReport, error) {
				r, err := uploadICloudEngine.Run(ctx)
				return orchestrator.PhaseReport{Processed: r.Uploaded + r.Errors, Succeeded: r.Uploaded, Failed: r.Errors}, err
			},
		},
		SyncPixel: orchestrator.Phase{
			Name:    "sync_pixel",
			Enabled: cfg.EnablePixelUpload,
			Run: func(ctx context.Context) (orchestrator.PhaseReport, error) {
				r, err := syncPixelEngine.Run(ctx)
				return orchestrator.PhaseReport{Processed: r.Uploaded, Succeeded: r.Uploaded}, err
			},
		},
		Verify: orchestrator.Phase{
			Name:    "verify",
			Enabled: cfg.EnableVerification,
			Run: func(ctx context.Context) (orchestrator.PhaseReport, error) {
				r, err := verifyEngine.Run(ctx)
				return orchestrator.PhaseReport{Processed: r.Verified + r.Pending, Succeeded: r.Verified, Skipped: r.Pending}, err
			},
		},
		Sort: orchestrator.Phase{
			Name:    "sort",
			Enabled: cfg.EnableSorting,
			Run: func(ctx context.Context) (orchestrator.PhaseReport, error) {
				r, err := archiveEngine.Run(ctx)
				return orchestrator.PhaseReport{Processed: r.Moved + r.Deduplicated + r.Unknown, Succeeded: r.Moved, Skipped: r.Deduplicated + r.Unknown}, err
			},
		},
	}

	return orchestrator.New(st, phases, logger), nil
}
