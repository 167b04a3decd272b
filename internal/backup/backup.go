// Package backup runs one snapshot, restore, dump, upload and prune cycle
// against an RDS instance and tears down what it created.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/juju/clock"
	"github.com/stacksnap/rdsdump/internal/config"
	"github.com/stacksnap/rdsdump/internal/dump"
	"github.com/stacksnap/rdsdump/internal/rds"
	"github.com/stacksnap/rdsdump/internal/retention"
	"github.com/stacksnap/rdsdump/internal/storage"
)

// DatabaseClient is the RDS surface the orchestrator drives.
type DatabaseClient interface {
	CreateSnapshot(ctx context.Context, sourceID, snapshotID string) error
	SnapshotStatus(ctx context.Context, snapshotID string) (rds.Status, error)
	RestoreFromSnapshot(ctx context.Context, snapshotID, instanceID string) error
	DescribeInstance(ctx context.Context, instanceID string) (*rds.Instance, error)
	DeleteInstance(ctx context.Context, instanceID string) error
	DeleteSnapshot(ctx context.Context, snapshotID string) error
}

type State string

const (
	StateInit             State = "Init"
	StateSnapshotCreating State = "SnapshotCreating"
	StateSnapshotReady    State = "SnapshotReady"
	StateRestoreCreating  State = "RestoreCreating"
	StateRestoreReady     State = "RestoreReady"
	StateDumping          State = "Dumping"
	StateUploading        State = "Uploading"
	StatePruning          State = "Pruning"
	StateCleanup          State = "Cleanup"
	StateDone             State = "Done"
	StateFailed           State = "Failed"
)

type Options struct {
	Config   config.Config
	Database DatabaseClient
	Storage  storage.Provider
	Executor dump.Executor
	Clock    clock.Clock
	Logger   *log.Logger

	// Poll overrides the wait settings derived from Config.
	Poll *PollConfig

	SkipPreflight bool
}

type Summary struct {
	State          State
	SnapshotID     string
	InstanceID     string
	Artifact       *dump.Artifact
	ObjectKey      string
	UploadAttempts int
	Pruned         []string
	PruneErr       error
	CleanupErrs    []error
	Duration       time.Duration
}

type Orchestrator struct {
	cfg       config.Config
	db        DatabaseClient
	store     storage.Provider
	executor  dump.Executor
	clock     clock.Clock
	logger    *log.Logger
	poll      PollConfig
	preflight bool

	state             State
	snapshotID        string
	snapshotRequested bool
	instanceRequested bool
	artifactPath      string
}

func New(opts Options) *Orchestrator {
	clk := opts.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	poll := PollConfig{
		Interval: opts.Config.PollInterval,
		Timeout:  opts.Config.PollTimeout,
	}
	if opts.Poll != nil {
		poll = *opts.Poll
	}
	if poll.Clock == nil {
		poll.Clock = clk
	}

	return &Orchestrator{
		cfg:       opts.Config,
		db:        opts.Database,
		store:     opts.Storage,
		executor:  opts.Executor,
		clock:     clk,
		logger:    logger,
		poll:      poll,
		preflight: !opts.SkipPreflight,
		state:     StateInit,
	}
}

func (o *Orchestrator) State() State {
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.logger.Debug("State transition", "from", o.state, "to", s)
	o.state = s
}

// Run executes one backup. Cleanup always runs once any cloud resource has
// been requested, on a context that outlives cancellation of ctx. The
// returned Summary is never nil.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	start := o.clock.Now()
	summary := &Summary{State: StateInit}

	if err := o.cfg.Validate(); err != nil {
		summary.State = StateFailed
		return summary, NewError(KindConfiguration, "validate", "", err)
	}

	if o.preflight {
		result := PreflightChecks(ctx, o.cfg.DumpDirectory, o.executor)
		for _, w := range result.Warnings {
			o.logger.Warn(w.Message, "severity", w.Severity, "fix", w.Fix)
		}
		if !result.CanProceed {
			summary.State = StateFailed
			return summary, NewError(KindConfiguration, "preflight", o.cfg.DumpDirectory, result.Err())
		}
	}

	runErr := o.execute(ctx, Timestamp(start), summary)
	if runErr != nil {
		o.setState(StateFailed)
		o.logger.Error("Backup failed", "err", runErr)
	}

	o.setState(StateCleanup)
	summary.CleanupErrs = o.cleanup(context.WithoutCancel(ctx))

	summary.Duration = o.clock.Now().Sub(start)
	if runErr != nil {
		summary.State = StateFailed
		o.state = StateFailed
		return summary, runErr
	}

	summary.State = StateDone
	o.setState(StateDone)
	o.logger.Info("Backup complete", "key", summary.ObjectKey, "duration", summary.Duration.Round(time.Second))
	return summary, nil
}

func (o *Orchestrator) execute(ctx context.Context, ts string, summary *Summary) error {
	source := o.cfg.RDSInstanceID

	snapshotID := SnapshotID(ts)
	summary.SnapshotID = snapshotID
	if err := o.createSnapshot(ctx, source, snapshotID); err != nil {
		return err
	}

	instanceID := RestoredInstanceID(source)
	summary.InstanceID = instanceID
	inst, err := o.restoreInstance(ctx, snapshotID, instanceID)
	if err != nil {
		return err
	}

	o.setState(StateDumping)
	o.artifactPath = filepath.Join(o.cfg.DumpDirectory, ArtifactName(source, ts))
	o.logger.Info("Dumping database", "database", o.cfg.MySQLDatabase, "host", inst.Host, "executor", o.executor.Name())
	artifact, err := o.executor.Run(ctx, dump.Target{
		Host:     inst.Host,
		Port:     inst.Port,
		Username: o.cfg.MySQLUsername,
		Password: o.cfg.MySQLPassword,
		Database: o.cfg.MySQLDatabase,
	}, o.artifactPath)
	if err != nil {
		return NewError(KindDump, "dump", o.artifactPath, err)
	}
	summary.Artifact = artifact

	verified, err := dump.Verify(artifact.Path)
	if err != nil {
		return NewError(KindDump, "verify", artifact.Path, err)
	}
	o.logger.Info("Dump written", "path", artifact.Path,
		"size", humanize.IBytes(uint64(artifact.Size)),
		"uncompressed", humanize.IBytes(uint64(verified.UncompressedSize)))

	o.setState(StateUploading)
	key := ObjectKey(o.cfg.S3Prefix, filepath.Base(o.artifactPath))
	summary.ObjectKey = key
	attempts, err := o.upload(ctx, key)
	summary.UploadAttempts = attempts
	if err != nil {
		return NewError(KindUpload, "upload", key, err).
			WithSuggestion("Check bucket permissions and network connectivity")
	}
	o.logger.Info("Uploaded dump", "bucket", o.cfg.S3Bucket, "key", key, "attempts", attempts)

	if o.cfg.DumpTTL > 0 {
		o.setState(StatePruning)
		summary.Pruned, summary.PruneErr = o.prune(ctx)
		if summary.PruneErr != nil {
			o.logger.Warn("Pruning old dumps failed", "err", summary.PruneErr)
		}
	}
	return nil
}

func (o *Orchestrator) createSnapshot(ctx context.Context, source, snapshotID string) error {
	o.setState(StateSnapshotCreating)
	o.logger.Info("Creating snapshot", "source", source, "snapshot", snapshotID)

	o.snapshotID = snapshotID
	o.snapshotRequested = true
	if err := o.db.CreateSnapshot(ctx, source, snapshotID); err != nil {
		if errors.Is(err, rds.ErrAlreadyExists) {
			// Someone else's snapshot; cleanup must leave it alone.
			o.snapshotRequested = false
		}
		return NewError(KindCloudProvisioning, "snapshot", snapshotID, err)
	}

	err := Poll(ctx, o.pollConfig("snapshot", snapshotID), func(ctx context.Context) (bool, error) {
		status, err := o.db.SnapshotStatus(ctx, snapshotID)
		if err != nil {
			return false, err
		}
		return readiness(status)
	})
	if err != nil {
		return NewError(KindCloudProvisioning, "snapshot", snapshotID, err)
	}

	o.setState(StateSnapshotReady)
	return nil
}

func (o *Orchestrator) restoreInstance(ctx context.Context, snapshotID, instanceID string) (*rds.Instance, error) {
	o.setState(StateRestoreCreating)
	o.logger.Info("Restoring snapshot", "snapshot", snapshotID, "instance", instanceID)

	o.instanceRequested = true
	if err := o.db.RestoreFromSnapshot(ctx, snapshotID, instanceID); err != nil {
		if errors.Is(err, rds.ErrAlreadyExists) {
			o.instanceRequested = false
		}
		return nil, NewError(KindCloudProvisioning, "restore", instanceID, err).
			WithSuggestion("Make sure no other dump of this instance is running")
	}

	var inst *rds.Instance
	err := Poll(ctx, o.pollConfig("instance", instanceID), func(ctx context.Context) (bool, error) {
		var err error
		inst, err = o.db.DescribeInstance(ctx, instanceID)
		if err != nil {
			return false, err
		}
		return readiness(inst.Status)
	})
	if err != nil {
		return nil, NewError(KindCloudProvisioning, "restore", instanceID, err)
	}
	if inst.Host == "" {
		return nil, NewError(KindCloudProvisioning, "restore", instanceID, ErrNoEndpoint)
	}

	o.setState(StateRestoreReady)
	return inst, nil
}

func readiness(status rds.Status) (bool, error) {
	switch status {
	case rds.StatusAvailable:
		return true, nil
	case rds.StatusError:
		return false, ErrResourceFailed
	case rds.StatusDeleted, rds.StatusDeleting:
		return false, ErrResourceGone
	default:
		return false, nil
	}
}

func (o *Orchestrator) pollConfig(kind, id string) PollConfig {
	cfg := o.poll
	cfg.OnWait = func(attempt int) {
		o.logger.Debug("Waiting for "+kind, "id", id, "attempt", attempt)
	}
	cfg.Transient = func(err error) bool {
		if !isTransient(err) {
			return false
		}
		o.logger.Warn("Status check failed, asking again", "kind", kind, "id", id, "err", err)
		return true
	}
	return cfg
}

// isTransient reports whether a failed status check is worth repeating.
// Terminal resource states are never transient.
func isTransient(err error) bool {
	if errors.Is(err, ErrResourceFailed) || errors.Is(err, ErrResourceGone) {
		return false
	}
	return rds.IsThrottled(err) || storage.IsRetryableError(err)
}

// upload reopens the artifact for every attempt so a retry never sends a
// partially consumed body.
func (o *Orchestrator) upload(ctx context.Context, key string) (int, error) {
	attempts := 0
	retryCfg := storage.ImmediateRetryConfig(o.cfg.UploadAttempts)
	retryCfg.OnRetry = func(attempt int, err error, _ time.Duration) {
		o.logger.Warn("Retrying S3 upload", "attempt", attempt, "err", err)
	}

	err := storage.WithRetry(ctx, retryCfg, func() error {
		attempts++
		f, err := os.Open(o.artifactPath)
		if err != nil {
			return fmt.Errorf("failed to open dump file: %w", err)
		}
		defer f.Close()
		return o.store.Upload(ctx, key, f, storage.ContentTypeGzip)
	})
	return attempts, err
}

func (o *Orchestrator) prune(ctx context.Context) ([]string, error) {
	prefix := PrunePrefix(o.cfg.S3Prefix, o.cfg.RDSInstanceID)

	objects, err := o.store.List(ctx, prefix)
	if err != nil {
		return nil, NewError(KindPrune, "prune", prefix, err)
	}

	deleted, err := retention.Prune(ctx, o.store, objects, prefix, o.cfg.DumpTTL)
	for _, key := range deleted {
		o.logger.Info("Pruned old dump", "key", key)
	}
	if err != nil {
		return deleted, NewError(KindPrune, "prune", prefix, err)
	}
	return deleted, nil
}

// cleanup waits for each requested resource to settle and deletes it once.
// Failures are returned and logged as leaks but never change the outcome
// of the run.
func (o *Orchestrator) cleanup(ctx context.Context) []error {
	var errs []error

	if o.snapshotRequested {
		id := o.snapshotID
		if err := o.teardown(ctx, "snapshot", id, o.db.SnapshotStatus, o.db.DeleteSnapshot); err != nil {
			errs = append(errs, NewError(KindCleanup, "cleanup", id, err))
		}
	}

	if o.instanceRequested {
		id := RestoredInstanceID(o.cfg.RDSInstanceID)
		status := func(ctx context.Context, id string) (rds.Status, error) {
			inst, err := o.db.DescribeInstance(ctx, id)
			if err != nil {
				return "", err
			}
			return inst.Status, nil
		}
		if err := o.teardown(ctx, "instance", id, status, o.db.DeleteInstance); err != nil {
			errs = append(errs, NewError(KindCleanup, "cleanup", id, err))
		}
	}

	if o.artifactPath != "" {
		if err := os.Remove(o.artifactPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			o.logger.Error("Failed to remove local dump", "path", o.artifactPath, "err", err)
			errs = append(errs, NewError(KindCleanup, "cleanup", o.artifactPath, err))
		}
	}

	return errs
}

func (o *Orchestrator) teardown(
	ctx context.Context,
	kind, id string,
	status func(context.Context, string) (rds.Status, error),
	remove func(context.Context, string) error,
) error {
	var last rds.Status
	err := Poll(ctx, o.pollConfig(kind, id), func(ctx context.Context) (bool, error) {
		s, err := status(ctx, id)
		if err != nil {
			return false, err
		}
		last = s
		return s.Stable(), nil
	})
	if err != nil {
		o.logger.Error("Leaked "+kind+": it did not settle", "id", id, "err", err)
		return err
	}
	if last == rds.StatusDeleted {
		return nil
	}

	o.logger.Info("Deleting "+kind, "id", id)
	if err := remove(ctx, id); err != nil {
		o.logger.Error("Leaked "+kind+": delete failed", "id", id, "err", err)
		return err
	}
	return nil
}
