// Command worker consumes job requests off a queue and runs them through
// the executor, backed by the same cache, object storage and document
// management layers the rest of the service uses.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cncaiprojem/projem-sub004/infrastructure/config"
	"github.com/cncaiprojem/projem-sub004/infrastructure/logging"
	"github.com/cncaiprojem/projem-sub004/infrastructure/metrics"
	"github.com/cncaiprojem/projem-sub004/infrastructure/objectstore"
	"github.com/cncaiprojem/projem-sub004/infrastructure/queue"
	"github.com/cncaiprojem/projem-sub004/internal/batch"
	"github.com/cncaiprojem/projem-sub004/internal/cache/l1"
	"github.com/cncaiprojem/projem-sub004/internal/cache/l2"
	"github.com/cncaiprojem/projem-sub004/internal/cache/manager"
	"github.com/cncaiprojem/projem-sub004/internal/cachekey"
	"github.com/cncaiprojem/projem-sub004/internal/document"
	"github.com/cncaiprojem/projem-sub004/internal/executor"
)

// envelope is the wire shape published onto the jobs queue. Kind "batch"
// runs Items through the batch processor concurrently; anything else runs
// Request through the executor directly.
type envelope struct {
	Kind    string           `json:"kind"`
	Request executor.Request `json:"request"`
	BatchID string           `json:"batch_id"`
	Items   []executor.Request `json:"items"`
	Options batch.Options    `json:"options"`
}

var cfgFile string

// rootCmd is the worker process entrypoint: drain the jobs queue and
// execute each request against the CAD engine until told to stop.
var rootCmd = &cobra.Command{
	Use:   "worker",
	Short: "runs CAD jobs pulled off the jobs queue",
	Run:   runWorker,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.cad-worker.yaml, ./.cad-worker.yaml)")
	rootCmd.PersistentFlags().String("engine-path", "", "path to the FreeCAD engine binary (auto-discovered if empty)")
	rootCmd.PersistentFlags().String("engine-min-version", "0.21.0", "minimum acceptable engine version")
	rootCmd.PersistentFlags().String("work-dir", "", "scratch directory root for job subprocesses (defaults to os.TempDir)")
	rootCmd.PersistentFlags().String("tier-config", "", "path to a resource tier YAML file (defaults to built-in tiers)")
	rootCmd.PersistentFlags().String("amqp-url", "", "RabbitMQ URL; empty uses an in-process queue")
	rootCmd.PersistentFlags().String("redis-url", "", "Redis URL for L2 cache and batch progress; empty disables both")
	rootCmd.PersistentFlags().String("queue-name", "cad-jobs", "queue name to consume job requests from")
	rootCmd.PersistentFlags().Int("prefetch", 4, "max unacknowledged deliveries in flight")
	rootCmd.PersistentFlags().Int("concurrency", 4, "max jobs executed concurrently")
	rootCmd.PersistentFlags().String("s3-bucket", "", "S3 bucket for object storage; empty uses an in-memory store")

	for _, name := range []string{
		"engine-path", "engine-min-version", "work-dir", "tier-config",
		"amqp-url", "redis-url", "queue-name", "prefetch", "concurrency", "s3-bucket",
	} {
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
		viper.SetConfigName(".cad-worker")
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

func runWorker(cmd *cobra.Command, args []string) {
	log := logging.NewFromEnv("worker")
	met := metrics.New("worker")
	ctx := context.Background()

	tiers := config.DefaultTierSet()
	if path := viper.GetString("tier-config"); path != "" {
		loaded, err := config.LoadTierSet(path)
		if err != nil {
			log.Fatal(ctx, "failed to load resource tiers", err)
		}
		tiers = loaded
	}

	store := buildObjectStore(ctx, log)
	cacheMgr := buildCacheManager(ctx, log, met)

	adapter := document.NewMockAdapter(os.TempDir())
	docMgr := document.New(adapter, store, viper.GetString("work-dir"), document.Config{}, log, met)

	exec := executor.New(tiers, executor.Config{
		EnginePath:       viper.GetString("engine-path"),
		MinEngineVersion: viper.GetString("engine-min-version"),
		WorkDir:          viper.GetString("work-dir"),
		Lifecycle:        &documentLifecycle{docMgr: docMgr},
	}, log, met)

	q := buildQueue(log)
	defer q.Close()

	progress := batch.NewInProcessProgressStore()
	if url := viper.GetString("redis-url"); url != "" {
		if client, err := newRedisClient(url); err == nil {
			progress = batch.NewRedisProgressStore(client, time.Hour)
		} else {
			log.Error(ctx, "failed to connect to redis for batch progress, falling back to in-process", err, nil)
		}
	}
	batchProc := batch.New(progress, met)

	w := &jobWorker{exec: exec, docMgr: docMgr, cache: cacheMgr, batch: batchProc, log: log}

	queueName := viper.GetString("queue-name")
	prefetch := viper.GetInt("prefetch")
	concurrency := viper.GetInt("concurrency")
	if concurrency <= 0 {
		concurrency = 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	deliveries, err := q.Consume(runCtx, queueName, prefetch)
	if err != nil {
		log.Fatal(ctx, "failed to start consuming jobs queue", err)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for delivery := range deliveries {
				sem <- struct{}{}
				w.handleDelivery(runCtx, delivery)
				<-sem
			}
		}()
	}

	log.Info(ctx, "worker started", map[string]interface{}{"queue": queueName, "concurrency": concurrency, "prefetch": prefetch})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info(ctx, "worker shutting down", nil)
	cancel()
	wg.Wait()
}

// jobWorker bundles the services a consumed delivery is dispatched against.
type jobWorker struct {
	exec   *executor.Executor
	docMgr *document.Manager
	cache  *manager.Manager
	batch  *batch.Processor
	log    *logging.Logger
}

func (w *jobWorker) handleDelivery(ctx context.Context, d queue.Delivery) {
	var env envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		w.log.Error(ctx, "dropping malformed job payload", err, nil)
		_ = d.Nack(false)
		return
	}

	var err error
	switch env.Kind {
	case "batch":
		err = w.runBatch(ctx, env)
	default:
		_, err = w.runSingle(ctx, env.Request)
	}

	if err != nil {
		w.log.Error(ctx, "job dispatch failed", err, map[string]interface{}{"kind": env.Kind})
		_ = d.Nack(true)
		return
	}
	_ = d.Ack()
}

// runSingle executes req through the executor, read-through caching the
// result by the request's script so identical scripts within the tenant's
// TTL skip the engine entirely. When req.DocumentID is set, the document
// is held under an exclusive lock for the duration of the run; the
// executor's documentLifecycle handles the transaction, undo snapshot,
// commit and save underneath that lock.
func (w *jobWorker) runSingle(ctx context.Context, req executor.Request) (*executor.Result, error) {
	if req.DocumentID != "" {
		lock, err := w.docMgr.AcquireLock(ctx, req.DocumentID, req.TenantID, document.LockExclusive)
		if err != nil {
			return nil, err
		}
		defer w.docMgr.ReleaseLock(ctx, req.DocumentID, req.TenantID, lock.LockID)
	}

	// a cached result skips Execute (and with it the lifecycle hooks
	// below) entirely, which is correct: nothing changed on the document.
	canonical := []byte(req.TenantID + "\x00" + req.OpType + "\x00" + req.Script)

	raw, err := w.cache.GetOrCompute(ctx, cachekey.FlowGeometry, canonical, "job-result", 10*time.Minute, func(ctx context.Context) ([]byte, error) {
		result, err := w.exec.Execute(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	})
	if err != nil {
		return nil, err
	}

	var result executor.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	w.log.Info(ctx, "job completed", map[string]interface{}{
		"job_id": req.JobID, "tenant_id": req.TenantID, "duration_ms": result.Duration.Milliseconds(),
		"peak_rss": humanize.Bytes(uint64(result.PeakRSSMB) * 1 << 20),
	})
	return &result, nil
}

// runBatch fans env.Items out through the batch processor under env.Options,
// reusing runSingle per item so batched jobs share the same result cache.
func (w *jobWorker) runBatch(ctx context.Context, env envelope) error {
	items := make([]batch.Item, len(env.Items))
	for i, req := range env.Items {
		payload, err := json.Marshal(req)
		if err != nil {
			return err
		}
		items[i] = batch.Item{Index: i, Payload: payload}
	}

	opts := env.Options
	opts.BatchID = env.BatchID

	result, err := w.batch.Process(ctx, items, func(ctx context.Context, item batch.Item) ([]byte, error) {
		var req executor.Request
		if err := json.Unmarshal(item.Payload, &req); err != nil {
			return nil, err
		}
		out, err := w.runSingle(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(out)
	}, opts)
	if err != nil {
		return err
	}

	w.log.Info(ctx, "batch completed", map[string]interface{}{
		"batch_id": env.BatchID, "total": result.Total, "successful": result.Successful, "failed": result.Failed, "skipped": result.Skipped,
	})
	return nil
}

// documentLifecycle adapts a *document.Manager to executor.DocumentLifecycle
// so the executor can drive a job's transaction, undo snapshot, commit and
// save without importing the document package itself.
type documentLifecycle struct {
	docMgr *document.Manager
}

func (d *documentLifecycle) BeginJob(ctx context.Context, docID, ownerID, jobID string) error {
	if _, err := d.docMgr.StartTransaction(ctx, docID, ownerID); err != nil {
		return err
	}
	return d.docMgr.LogOperation(ctx, docID, "execute:"+jobID)
}

func (d *documentLifecycle) CompleteJob(ctx context.Context, docID, ownerID, ext string) error {
	if err := d.docMgr.AddUndoSnapshot(ctx, docID, "job execution"); err != nil {
		return err
	}
	if err := d.docMgr.CommitTransaction(ctx, docID); err != nil {
		return err
	}
	_, err := d.docMgr.SaveDocument(ctx, docID, ownerID, ext)
	return err
}

func (d *documentLifecycle) AbortJob(ctx context.Context, docID string) error {
	return d.docMgr.AbortTransaction(ctx, docID)
}

func buildObjectStore(ctx context.Context, log *logging.Logger) objectstore.Store {
	bucket := viper.GetString("s3-bucket")
	if bucket == "" {
		return objectstore.NewMemoryStore()
	}
	store, err := objectstore.NewS3Store(ctx, bucket)
	if err != nil {
		log.Error(ctx, "failed to initialize S3 object store, falling back to in-memory", err, nil)
		return objectstore.NewMemoryStore()
	}
	return store
}

func buildCacheManager(ctx context.Context, log *logging.Logger, met *metrics.Metrics) *manager.Manager {
	l1c := l1.New(10_000, 512<<20)
	var l2c *l2.Cache
	if url := viper.GetString("redis-url"); url != "" {
		cache, err := l2.NewFromURL(ctx, url, l2.Config{})
		if err != nil {
			log.Error(ctx, "failed to connect L2 cache, running L1-only", err, nil)
		} else {
			l2c = cache
		}
	}
	return manager.New(l1c, l2c, manager.DefaultConfig(), log, met)
}

func newRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return client, nil
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
