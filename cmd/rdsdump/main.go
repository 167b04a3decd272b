package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stacksnap/rdsdump/internal/backup"
	"github.com/stacksnap/rdsdump/internal/config"
	"github.com/stacksnap/rdsdump/internal/docker"
	"github.com/stacksnap/rdsdump/internal/dump"
	"github.com/stacksnap/rdsdump/internal/logger"
	"github.com/stacksnap/rdsdump/internal/rds"
	"github.com/stacksnap/rdsdump/internal/retention"
	"github.com/stacksnap/rdsdump/internal/storage"
)

var version = "0.1.0"

var optionUsage = map[string]string{
	"rds_instance_id":        "Identifier of the RDS instance to dump",
	"s3_bucket":              "S3 bucket the dump is uploaded to",
	"s3_prefix":              "Key prefix for dumps (default \"db_dumps\")",
	"s3_endpoint":            "S3 endpoint URL (for LocalStack/MinIO)",
	"aws_access_key_id":      "AWS Access Key ID (default: SDK credential chain)",
	"aws_secret_access_key":  "AWS Secret Access Key",
	"aws_region":             "AWS region (default \"us-east-1\")",
	"mysql_database":         "Database to dump",
	"mysql_username":         "MySQL user on the restored instance",
	"mysql_password":         "MySQL password on the restored instance",
	"dump_ttl":               "Number of old dumps to keep (0 keeps all)",
	"dump_directory":         "Where to store the temporary sql dump file (default \"/mnt/\")",
	"dump_executor":          "How to run mysqldump: local or docker",
	"dump_image":             "Image used by the docker executor (default \"mysql:8.0\")",
	"poll_interval":          "Delay between status checks (default 15s)",
	"poll_timeout":           "Give up waiting for a resource after this long, 0 waits forever (default 2h)",
	"upload_attempts":        "Total S3 upload attempts (default 3)",
	"restore_instance_class": "Instance class of the restored server (default: snapshot's)",
	"restore_subnet_group":   "DB subnet group of the restored server",
	"log_level":              "debug, info, warn or error",
}

type globalFlags struct {
	configFile string
	envFile    string
}

func main() {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		logger.New(os.Stderr, "info").Error("rdsdump failed", "err", err)
		os.Exit(backup.ExitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:           "rdsdump",
		Short:         "Dump an RDS MySQL database from a restored snapshot to S3",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return backup.NewError(backup.KindConfiguration, "flags", "", err)
	})

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configFile, "config-file", "", "YAML file of defaults for any option. Options given during execution override these.")
	pf.StringVar(&flags.envFile, "env-file", "", "dotenv file exporting RDSDUMP_<OPTION> variables")
	for _, name := range config.Options() {
		pf.String(flagName(name), "", optionUsage[name])
	}

	rootCmd.AddCommand(s3DumpCmd(&flags))
	rootCmd.AddCommand(listCmd(&flags))
	rootCmd.AddCommand(pruneCmd(&flags))
	return rootCmd
}

func flagName(option string) string {
	return strings.ReplaceAll(option, "_", "-")
}

// overrides collects the option flags set on the command line.
func overrides(cmd *cobra.Command) map[string]string {
	known := make(map[string]bool)
	for _, name := range config.Options() {
		known[flagName(name)] = true
	}

	out := make(map[string]string)
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if known[f.Name] {
			out[f.Name] = f.Value.String()
		}
	})
	return out
}

func loadConfig(cmd *cobra.Command, flags *globalFlags) (config.Config, error) {
	cfg, err := config.Load(config.Source{
		ConfigFile: flags.configFile,
		EnvFile:    flags.envFile,
		Overrides:  overrides(cmd),
	})
	if err != nil {
		return cfg, backup.NewError(backup.KindConfiguration, "config", flags.configFile, err)
	}
	return cfg, nil
}

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func awsConfig(ctx context.Context, cfg config.Config) (aws.Config, error) {
	awsCfg, err := cfg.AWSConfig(ctx)
	if err != nil {
		return aws.Config{}, backup.NewError(backup.KindConfiguration, "aws", "", err)
	}
	return awsCfg, nil
}

// newStore wraps S3 so listing and deletion survive transient errors.
func newStore(awsCfg aws.Config, cfg config.Config, l *log.Logger) *storage.RetryingProvider {
	retryCfg := storage.DefaultRetryConfig()
	retryCfg.OnRetry = func(attempt int, err error, next time.Duration) {
		l.Warn("Retrying S3 request", "attempt", attempt, "in", next.Round(time.Millisecond), "err", err)
	}
	return storage.NewRetryingProvider(storage.NewS3Provider(awsCfg, cfg.S3Bucket, cfg.S3Endpoint), retryCfg)
}

func newExecutor(cfg config.Config, l *log.Logger) (dump.Executor, func(), error) {
	switch cfg.DumpExecutor {
	case config.ExecutorDocker:
		client, err := docker.NewClient()
		if err != nil {
			return nil, nil, backup.NewError(backup.KindConfiguration, "executor", "docker", err)
		}
		return dump.NewDockerExecutor(client, cfg.DumpImage, l), func() { client.Close() }, nil
	default:
		return dump.NewLocalExecutor(l), func() {}, nil
	}
}

func s3DumpCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "s3-dump",
		Aliases: []string{"s3_dump"},
		Short:   "Runs a mysqldump from a restored snapshot of the specified RDS instance, and uploads the dump to S3",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return backup.NewError(backup.KindConfiguration, "validate", "", err)
			}

			l := logger.New(os.Stderr, cfg.LogLevel)
			l.Debug("Resolved configuration", "config", fmt.Sprintf("%+v", cfg.Redacted()))

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			awsCfg, err := awsConfig(ctx, cfg)
			if err != nil {
				return err
			}
			executor, closeExecutor, err := newExecutor(cfg, l)
			if err != nil {
				return err
			}
			defer closeExecutor()

			db := rds.NewClient(awsCfg, rds.RestoreOptions{
				InstanceClass: cfg.RestoreInstanceClass,
				SubnetGroup:   cfg.RestoreSubnetGroup,
			})

			orch := backup.New(backup.Options{
				Config:   cfg,
				Database: db,
				Storage:  newStore(awsCfg, cfg, l),
				Executor: executor,
				Logger:   l,
			})

			summary, err := orch.Run(ctx)
			logSummary(l, summary)
			return err
		},
	}
}

func logSummary(l *log.Logger, s *backup.Summary) {
	fields := []interface{}{"state", s.State, "duration", s.Duration.Round(time.Second)}
	if s.Artifact != nil {
		fields = append(fields, "size", humanize.IBytes(uint64(s.Artifact.Size)))
	}
	if s.ObjectKey != "" {
		fields = append(fields, "key", s.ObjectKey, "upload_attempts", s.UploadAttempts)
	}
	if len(s.Pruned) > 0 {
		fields = append(fields, "pruned", len(s.Pruned))
	}
	l.Info("Run summary", fields...)

	if s.PruneErr != nil {
		l.Warn("Retention was not fully applied", "err", s.PruneErr)
	}
	for _, err := range s.CleanupErrs {
		l.Warn("Cleanup incomplete", "err", err)
	}
}

func listCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the dumps stored in S3 for the RDS instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if err := cfg.ValidateStorage(); err != nil {
				return backup.NewError(backup.KindConfiguration, "validate", "", err)
			}

			l := logger.New(os.Stderr, cfg.LogLevel)
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			awsCfg, err := awsConfig(ctx, cfg)
			if err != nil {
				return err
			}
			store := newStore(awsCfg, cfg, l)

			items, err := store.List(ctx, backup.PrunePrefix(cfg.S3Prefix, cfg.RDSInstanceID))
			if err != nil {
				return err
			}

			if len(items) == 0 {
				fmt.Println("No dumps found")
				return nil
			}

			sort.Slice(items, func(i, j int) bool {
				return items[i].LastModified.After(items[j].LastModified)
			})

			fmt.Printf(" Dumps of %s in s3://%s:\n", cfg.RDSInstanceID, cfg.S3Bucket)
			for _, item := range items {
				fmt.Printf("  • %s  %s  %s\n", item.Key, humanize.IBytes(uint64(item.Size)), humanize.Time(item.LastModified))
			}
			return nil
		},
	}
}

func pruneCmd(flags *globalFlags) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest dump_ttl dumps of the RDS instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if err := cfg.ValidateStorage(); err != nil {
				return backup.NewError(backup.KindConfiguration, "validate", "", err)
			}
			if cfg.DumpTTL <= 0 {
				return backup.NewError(backup.KindConfiguration, "validate", "",
					fmt.Errorf("dump_ttl must be positive to prune (got %d)", cfg.DumpTTL))
			}

			l := logger.New(os.Stderr, cfg.LogLevel)
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			awsCfg, err := awsConfig(ctx, cfg)
			if err != nil {
				return err
			}
			store := newStore(awsCfg, cfg, l)

			prefix := backup.PrunePrefix(cfg.S3Prefix, cfg.RDSInstanceID)
			items, err := store.List(ctx, prefix)
			if err != nil {
				return err
			}

			if dryRun {
				for _, item := range retention.Plan(items, prefix, cfg.DumpTTL) {
					fmt.Printf("  • would delete %s (%s)\n", item.Key, humanize.Time(item.LastModified))
				}
				return nil
			}

			deleted, err := retention.Prune(ctx, store, items, prefix, cfg.DumpTTL)
			for _, key := range deleted {
				l.Info("Pruned old dump", "key", key)
			}
			if err != nil {
				return backup.NewError(backup.KindPrune, "prune", prefix, err)
			}
			l.Info("Retention applied", "kept", cfg.DumpTTL, "deleted", len(deleted))
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only print the dumps that would be deleted")
	return cmd
}
