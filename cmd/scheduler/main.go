// Command scheduler runs the persisted job schedule: the five built-in
// recurring operations plus any jobs queued for dispatch onto the jobs
// queue for a worker process to pick up.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cncaiprojem/projem-sub004/infrastructure/config"
	"github.com/cncaiprojem/projem-sub004/infrastructure/logging"
	"github.com/cncaiprojem/projem-sub004/infrastructure/metrics"
	"github.com/cncaiprojem/projem-sub004/infrastructure/queue"
	"github.com/cncaiprojem/projem-sub004/internal/scheduler"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "runs the persisted job schedule and dispatches due jobs",
	Run:   runScheduler,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.cad-scheduler.yaml, ./.cad-scheduler.yaml)")
	rootCmd.PersistentFlags().String("db-path", "scheduler.db", "path to the scheduler's bbolt job store")
	rootCmd.PersistentFlags().String("temp-dir", "", "scratch directory the built-in cleanup/optimization jobs operate on")
	rootCmd.PersistentFlags().Duration("poll-interval", time.Second, "how often interval/date-triggered jobs are checked")
	rootCmd.PersistentFlags().String("amqp-url", "", "RabbitMQ URL for dispatching non-builtin jobs; empty uses an in-process queue")
	rootCmd.PersistentFlags().String("queue-name", "cad-jobs", "queue name non-builtin jobs are published to")
	rootCmd.PersistentFlags().Bool("skip-builtins", false, "do not register the five built-in recurring operations on startup")

	for _, name := range []string{"db-path", "temp-dir", "poll-interval", "amqp-url", "queue-name", "skip-builtins"} {
		viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func initConfig() {
	_ = config.LoadDotEnv(".env")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".cad-scheduler")
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

func runScheduler(cmd *cobra.Command, args []string) {
	log := logging.NewFromEnv("scheduler")
	met := metrics.New("scheduler")
	ctx := context.Background()

	store, err := scheduler.OpenStore(viper.GetString("db-path"))
	if err != nil {
		log.Fatal(ctx, "failed to open scheduler store", err)
	}
	defer store.Close()

	tempDir := viper.GetString("temp-dir")
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	q := buildQueue(log)
	defer q.Close()

	builtins := scheduler.NewBuiltinDispatcher(store, scheduler.BuiltinHooks{})
	dispatcher := scheduler.DispatcherFunc(func(job scheduler.Job) (string, error) {
		switch job.Kind {
		case scheduler.KindNightlyOptimization, scheduler.KindTempFileCleanup, scheduler.KindDailyReport,
			scheduler.KindDatabaseBackup, scheduler.KindCacheRefresh:
			return builtins.DispatchJob(job)
		default:
			return dispatchToQueue(ctx, q, viper.GetString("queue-name"), job)
		}
	})

	pollInterval := viper.GetDuration("poll-interval")
	s := scheduler.New(store, dispatcher, pollInterval, log, met)

	if !viper.GetBool("skip-builtins") {
		for _, job := range scheduler.DefaultJobs(tempDir) {
			job.ReplaceExisting = true
			if err := s.AddJob(job); err != nil {
				log.Error(ctx, "failed to register built-in job", err, map[string]interface{}{"job_id": job.ID})
			}
		}
	}

	if err := s.Start(ctx); err != nil {
		log.Fatal(ctx, "failed to start scheduler", err)
	}
	log.Info(ctx, "scheduler started", map[string]interface{}{"db_path": viper.GetString("db-path"), "poll_interval": pollInterval.String()})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info(ctx, "scheduler shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Stop(shutdownCtx); err != nil {
		log.Error(ctx, "scheduler shutdown did not complete cleanly", err, nil)
	}
}

// dispatchToQueue publishes a non-builtin job's payload onto the jobs queue
// for a worker process to execute, using the job's configured priority.
func dispatchToQueue(ctx context.Context, q queue.Queue, queueName string, job scheduler.Job) (string, error) {
	body, err := json.Marshal(job.Payload)
	if err != nil {
		return "", err
	}
	priority := 0
	if p, ok := job.Payload["priority"].(float64); ok {
		priority = int(p)
	}
	if err := q.Publish(ctx, queueName, body, priority); err != nil {
		return "", err
	}
	return "dispatched", nil
}

func buildQueue(log *logging.Logger) queue.Queue {
	if url := viper.GetString("amqp-url"); url != "" {
		q, err := queue.NewAMQPQueue(url)
		if err == nil {
			return q
		}
		log.Error(context.Background(), "failed to connect to amqp broker, falling back to in-process queue", err, nil)
	}
	return queue.NewInProcessQueue(256)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
