package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"

	"dsched"
	"dsched/config"
	"dsched/dispatch"
	"dsched/logging"
	"dsched/mq"
	"dsched/node"
	"dsched/store"

	"github.com/urfave/cli"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func run(ctx *cli.Context) error {
	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	exit := make(chan struct{})
	rdb := cfg.Redis.Client()
	defer rdb.Close()

	queues := mq.NewRedisQueue(rdb, mq.WithNamespace(cfg.Redis.Namespace))
	var producer mq.Producer = queues
	if cfg.Transport == config.TransportKafka {
		kafkaProducer, err := mq.NewProducer(cfg.Kafka, logger)
		if err != nil {
			return err
		}
		defer kafkaProducer.Close()
		producer = kafkaProducer
	}

	schedules, err := store.Open(cfg.Store, rdb, logger)
	if err != nil {
		return err
	}
	defer schedules.Close()

	current, err := newNode(exit, cfg, logger)
	if err != nil {
		return err
	}

	loc, err := cfg.TimeLocation()
	if err != nil {
		return err
	}
	funcOptions := []dsched.FuncOption{
		dsched.WithEnv(cfg.Env),
		dsched.WithDynamic(cfg.Dynamic),
		dsched.WithNamespace(cfg.Redis.Namespace),
		dsched.WithLocation(loc),
		dsched.WithStore(schedules),
		dsched.WithWorkers(cfg.Workers),
		dsched.WithTickInterval(cfg.Tick.Interval),
		dsched.WithDispatchTimeout(cfg.Tick.DispatchTimeout),
		dsched.WithPollInterval(cfg.Poll.Interval),
		dsched.WithPollBatch(cfg.Poll.Batch),
	}
	if cfg.Transport == config.TransportRedis {
		funcOptions = append(funcOptions, dsched.WithQueueReader(queues))
	}
	dispatcher := dispatch.New(producer, cfg.DispatchHandlers(), logger)
	s := dsched.New(exit, logger, rdb, current, dispatcher, funcOptions...)

	watchCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.Schedule != "" {
		entries, err := config.LoadSchedule(cfg.Schedule)
		if err != nil {
			close(exit)
			s.Wait()
			return err
		}
		if err := s.LoadSchedule(watchCtx, entries); err != nil {
			close(exit)
			s.Wait()
			return err
		}
		go func() {
			if err := config.Watch(watchCtx, cfg.Schedule, logger, s.LoadSchedule); err != nil {
				logger.Error("[Daemon] watch schedule", zap.Error(err))
			}
		}()
	}

	if cfg.Listen != "" {
		lis, err := net.Listen("tcp", cfg.Listen)
		if err != nil {
			close(exit)
			s.Wait()
			return err
		}
		go func() {
			if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				logger.Error("[Daemon] serve management API", zap.Error(err))
			}
		}()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals
	logger.Info("[Daemon] shutting down", zap.String("signal", sig.String()))

	cancel()
	close(exit)
	s.Wait()
	return nil
}

func newNode(exit chan struct{}, cfg *config.Config, logger *zap.Logger) (node.Node, error) {
	if len(cfg.Etcd.Endpoints) == 0 {
		logger.Info("[Daemon] no etcd endpoints, running standalone")
		return node.NewStandalone(exit, cfg.Address), nil
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Etcd.Endpoints,
		DialTimeout: cfg.Etcd.DialTimeout,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, err
	}

	funcOptions := []node.FuncOption{node.WithTTL(cfg.Etcd.TTL)}
	if cfg.Etcd.ElectionKey != "" {
		funcOptions = append(funcOptions, node.WithElectionKey(cfg.Etcd.ElectionKey))
	}
	return node.NewNode(exit, logger, client, cfg.Address, funcOptions...)
}
