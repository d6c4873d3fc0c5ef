package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ojcore/internal/common/cache"
	"ojcore/internal/common/db"
	commonmw "ojcore/internal/common/http/middleware"
	"ojcore/internal/common/metrics"
	"ojcore/internal/common/mq"
	"ojcore/internal/common/storage"
	contestController "ojcore/internal/contest/controller"
	contestModel "ojcore/internal/contest/model"
	contestRepo "ojcore/internal/contest/repository"
	contestService "ojcore/internal/contest/service"
	"ojcore/internal/judge/controller"
	"ojcore/internal/judge/execclient"
	"ojcore/internal/judge/model"
	"ojcore/internal/judge/repository"
	"ojcore/internal/judge/service"
	"ojcore/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultConfigPath = "configs/judge_engine.yaml"
	readinessTimeout  = 2 * time.Second
)

type stores struct {
	problems    repository.ProblemRepository
	submissions repository.SubmissionRepository
	executions  repository.ExecutionRepository
	stats       repository.StatsRepository
	contests    contestRepo.ContestRepository
	contestSubs contestRepo.ContestSubmissionRepository
	ping        func(ctx context.Context) error
	close       func()
}

// readinessCheck names a dependency probed by /readyz.
type readinessCheck struct {
	name string
	ping func(ctx context.Context) error
}

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()
	bootCtx := context.Background()

	st, err := openStores(appCfg.Store, &appCfg.Database)
	if err != nil {
		logger.Error(bootCtx, "init stores failed", zap.Error(err))
		return
	}
	defer st.close()
	var checks []readinessCheck
	if st.ping != nil {
		checks = append(checks, readinessCheck{name: "mysql", ping: st.ping})
	}

	var redisCache *cache.RedisCache
	if appCfg.Redis.Addr != "" {
		redisCache, err = cache.NewRedisCacheWithConfig(&appCfg.Redis)
		if err != nil {
			logger.Error(bootCtx, "init redis failed", zap.Error(err))
			return
		}
		defer func() {
			_ = redisCache.Close()
		}()
		checks = append(checks, readinessCheck{name: "redis", ping: redisCache.Ping})
	}

	var kafkaQueue *mq.KafkaQueue
	if len(appCfg.Kafka.Brokers) > 0 {
		kafkaQueue, err = mq.NewKafkaQueue(appCfg.Kafka)
		if err != nil {
			logger.Error(bootCtx, "init kafka failed", zap.Error(err))
			return
		}
		defer func() {
			_ = kafkaQueue.Close()
		}()
		checks = append(checks, readinessCheck{name: "kafka", ping: kafkaQueue.Ping})
	}

	var archive *storage.SourceArchive
	if appCfg.MinIO.Endpoint != "" {
		objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			logger.Error(bootCtx, "init minio failed", zap.Error(err))
			return
		}
		if err := objStorage.EnsureBucket(bootCtx, appCfg.Judge.SourceBucket); err != nil {
			logger.Error(bootCtx, "ensure source bucket failed", zap.Error(err))
			return
		}
		archive = storage.NewSourceArchive(objStorage, appCfg.Judge.SourceBucket, appCfg.Judge.SourcePrefix)
	}

	client, err := execclient.NewJudge0Client(execclient.Judge0Config{
		BaseURL:        appCfg.Execution.BaseURL,
		AuthToken:      appCfg.Execution.AuthToken,
		Languages:      appCfg.Execution.Languages,
		RequestTimeout: appCfg.Execution.RequestTimeout,
		MaxRetries:     appCfg.Execution.MaxRetries,
		RetryBackoff:   appCfg.Execution.RetryBackoff,
		MaxBackoff:     appCfg.Execution.MaxBackoff,
	}, nil)
	if err != nil {
		logger.Error(bootCtx, "init execution client failed", zap.Error(err))
		return
	}

	contestCfg := contestService.Config{
		Contests:      st.contests,
		Submissions:   st.contestSubs,
		LockTTL:       appCfg.Contest.LockTTL,
		LockWait:      appCfg.Contest.LockWait,
		MetaCacheSize: appCfg.Contest.MetaCacheSize,
		MetaCacheTTL:  appCfg.Contest.MetaCacheTTL,
	}
	var parked repository.ParkedResultStore = repository.NewMemoryParkedResultStore()
	var statusRepo *repository.StatusRepository
	engineCfg := service.Config{
		Client:         client,
		Problems:       st.problems,
		Submissions:    st.submissions,
		Executions:     st.executions,
		Archive:        archive,
		MaxSourceBytes: appCfg.Judge.MaxSourceBytes,
		IdempotencyTTL: appCfg.Judge.IdempotencyTTL,
		RateLimit:      appCfg.Judge.RateLimit,
		Timeouts:       appCfg.Judge.Timeouts,
	}
	if redisCache != nil {
		contestCfg.Locker = redisCache
		parked = repository.NewRedisParkedResultStore(redisCache, appCfg.Results.ParkedTTL)
		statusRepo = repository.NewStatusRepository(redisCache, appCfg.Judge.StatusTTL, appCfg.Judge.StatusEmptyTTL)
		engineCfg.Cache = redisCache
		engineCfg.StatusRepo = statusRepo
	}

	contests, err := contestService.NewService(contestCfg)
	if err != nil {
		logger.Error(bootCtx, "init contest service failed", zap.Error(err))
		return
	}
	engineCfg.Contests = contests

	handlers := []service.FinalStatusHandler{
		service.NewProblemStatsHandler(st.stats, appCfg.Judge.CASRetries),
		service.NewContestHandler(contests),
	}
	if kafkaQueue != nil {
		publisher := repository.NewMQStatusEventPublisher(kafkaQueue, appCfg.Judge.FinalTopic)
		handlers = append(handlers, service.NewStatusEventHandler(publisher))
	}
	if statusRepo != nil {
		handlers = append(handlers, service.NewStatusCacheHandler(statusRepo))
	}
	hooks := service.NewHookRunner(st.submissions, appCfg.Judge.CASRetries, handlers...)
	collector := service.NewCollector(st.submissions, st.executions, parked, hooks, appCfg.Judge.CASRetries)

	var signer *service.CallbackSigner
	var intake *service.ResultIntake
	if appCfg.Results.Mode == modePush {
		signer, err = service.NewCallbackSigner(appCfg.Results.CallbackURL, appCfg.Results.CallbackSecret, appCfg.Results.CallbackTTL)
		if err != nil {
			logger.Error(bootCtx, "init callback signer failed", zap.Error(err))
			return
		}
		if kafkaQueue != nil {
			intake = service.NewResultIntake(signer, collector, kafkaQueue, appCfg.Results.Topic)
		} else {
			intake = service.NewResultIntake(signer, collector, nil, "")
		}
	}

	dispatcher := service.NewDispatcher(client, st.submissions, st.executions, collector, signer,
		appCfg.Judge.DispatchConcurrency, appCfg.Judge.CASRetries)
	engineCfg.Dispatcher = dispatcher
	engine, err := service.NewEngine(engineCfg)
	if err != nil {
		logger.Error(bootCtx, "init engine failed", zap.Error(err))
		return
	}
	sweeper := service.NewSweeper(appCfg.Judge.Sweep, st.submissions, st.executions, collector, dispatcher, hooks)

	workerCtx, stopWorkers := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopWorkers()

	if intake != nil && kafkaQueue != nil {
		opts := appCfg.Results.subscribeOptions()
		if err := intake.Subscribe(workerCtx, kafkaQueue, &opts); err != nil {
			logger.Error(bootCtx, "subscribe result topic failed", zap.Error(err))
			return
		}
	}
	if kafkaQueue != nil {
		if err := kafkaQueue.Start(); err != nil {
			logger.Error(bootCtx, "start kafka consumer failed", zap.Error(err))
			return
		}
	}

	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		sweeper.Run(workerCtx)
	}()
	if appCfg.Results.Mode == modePoll {
		poller := service.NewPoller(service.PollConfig{
			Interval:       appCfg.Results.PollInterval,
			Concurrency:    appCfg.Results.PollConcurrency,
			BatchSize:      appCfg.Results.PollBatch,
			RequestTimeout: appCfg.Results.PollTimeout,
		}, client, st.submissions, st.executions, collector)
		workers.Add(1)
		go func() {
			defer workers.Done()
			poller.Run(workerCtx)
		}()
	}

	httpServer := buildHTTPServer(appCfg.Server, checks,
		controller.NewJudgeController(engine, intake), contestController.NewContestController(contests))
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(bootCtx, "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(bootCtx, "judge engine started",
			zap.String("addr", appCfg.Server.Addr),
			zap.String("store", appCfg.Store.Driver),
			zap.String("results", appCfg.Results.Mode),
		)
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(bootCtx, "http server stopped", zap.Error(err))
		}
	case <-workerCtx.Done():
		logger.Info(bootCtx, "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(bootCtx, "http server shutdown failed", zap.Error(err))
	}
	stopWorkers()
	workers.Wait()
	if kafkaQueue != nil {
		_ = kafkaQueue.Stop()
	}
}

func buildHTTPServer(cfg ServerConfig, checks []readinessCheck, judge *controller.JudgeController, contests *contestController.ContestController) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.RequestLogger())

	router.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	router.GET("/readyz", readyHandler(checks))
	router.GET("/metrics", metrics.Handler())

	api := router.Group("/api/v1")
	judge.RegisterRoutes(api)
	contests.RegisterRoutes(api)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func readyHandler(checks []readinessCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
		defer cancel()
		failed := make(map[string]string)
		for _, check := range checks {
			if err := check.ping(ctx); err != nil {
				failed[check.name] = err.Error()
			}
		}
		if len(failed) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "failed": failed})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

func openStores(cfg StoreConfig, dbCfg *db.MySQLConfig) (*stores, error) {
	if cfg.Driver == storeMySQL {
		mysqlDB, err := db.NewMySQLWithConfig(dbCfg)
		if err != nil {
			return nil, err
		}
		return &stores{
			problems:    repository.NewMySQLProblemRepository(mysqlDB),
			submissions: repository.NewMySQLSubmissionRepository(mysqlDB),
			executions:  repository.NewMySQLExecutionRepository(mysqlDB),
			stats:       repository.NewMySQLStatsRepository(mysqlDB),
			contests:    contestRepo.NewMySQLContestRepository(mysqlDB),
			contestSubs: contestRepo.NewMySQLContestSubmissionRepository(mysqlDB),
			ping:        mysqlDB.Ping,
			close:       func() { _ = mysqlDB.Close() },
		}, nil
	}

	problems := repository.NewMemoryProblemRepository()
	contests := contestRepo.NewMemoryContestRepository()
	if cfg.SeedFile != "" {
		if err := loadSeed(cfg.SeedFile, problems, contests); err != nil {
			return nil, err
		}
	}
	return &stores{
		problems:    problems,
		submissions: repository.NewMemorySubmissionRepository(),
		executions:  repository.NewMemoryExecutionRepository(),
		stats:       repository.NewMemoryStatsRepository(),
		contests:    contests,
		contestSubs: contestRepo.NewMemoryContestSubmissionRepository(),
		close:       func() {},
	}, nil
}

// seed is the fixture format of the memory store.
type seed struct {
	Problems []*model.Problem        `json:"problems"`
	Contests []*contestModel.Contest `json:"contests"`
}

func loadSeed(path string, problems *repository.MemoryProblemRepository, contests *contestRepo.MemoryContestRepository) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file failed: %w", err)
	}
	var s seed
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parse seed file failed: %w", err)
	}
	for _, p := range s.Problems {
		problems.Put(p)
	}
	for _, c := range s.Contests {
		contests.Put(c)
	}
	return nil
}
