package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/tokenlottery/config"
	"github.com/lvdashuaibi/tokenlottery/internal/api/graph"
	"github.com/lvdashuaibi/tokenlottery/internal/api/rest"
	"github.com/lvdashuaibi/tokenlottery/internal/entropy"
	intkafka "github.com/lvdashuaibi/tokenlottery/internal/kafka"
	"github.com/lvdashuaibi/tokenlottery/internal/keeper"
	"github.com/lvdashuaibi/tokenlottery/internal/lock"
	applog "github.com/lvdashuaibi/tokenlottery/internal/logger"
	"github.com/lvdashuaibi/tokenlottery/internal/lottery"
	"github.com/lvdashuaibi/tokenlottery/internal/repository"
	"github.com/lvdashuaibi/tokenlottery/internal/service"
	"github.com/lvdashuaibi/tokenlottery/internal/token"
)

const shutdownTimeout = 10 * time.Second

var (
	configPath = flag.String("config", "config/config.yaml", "配置文件路径")
	instanceID = flag.Int("instance", 1, "实例ID，用于区分多个实例")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	logger, err := applog.New(cfg.Log)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer logger.Sync()
	logger = logger.With(zap.Int("instance", *instanceID))
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 开发账本
	custody := common.HexToAddress(cfg.Treasury.CustodyAddress)
	ledger, bank, err := token.FromGenesis(cfg.Tokens, cfg.Native, custody)
	if err != nil {
		logger.Fatal("初始化开发账本失败", zap.Error(err))
	}
	logger.Info("开发账本初始化成功", zap.Int("tokens", len(cfg.Tokens)))

	source, err := entropy.New(cfg.Lottery)
	if err != nil {
		logger.Fatal("初始化随机源失败", zap.Error(err))
	}
	creationFee, buyFee, err := cfg.Treasury.Fees()
	if err != nil {
		logger.Fatal("解析手续费失败", zap.Error(err))
	}
	treasury, err := lottery.NewTreasury(creationFee, buyFee,
		common.HexToAddress(cfg.Treasury.ReserveFund), cfg.Lottery.BurnPercent, cfg.Lottery.PrizePercent)
	if err != nil {
		logger.Fatal("初始化金库失败", zap.Error(err))
	}

	// 以下外部组件未配置时跳过
	var store service.EventStore
	if cfg.MySQL.Master != "" {
		mysqlRepo, err := repository.NewMySQLRepository(logger)
		if err != nil {
			logger.Fatal("初始化MySQL仓库失败", zap.Error(err))
		}
		defer mysqlRepo.Close()
		if err := mysqlRepo.EnsureSchema(ctx); err != nil {
			logger.Fatal("初始化表结构失败", zap.Error(err))
		}
		store = mysqlRepo
		logger.Info("MySQL仓库初始化成功")
	} else {
		logger.Warn("未配置MySQL，状态仅保存在内存中")
	}

	var cache service.SnapshotCache
	if cfg.Redis.DataAddress != "" {
		redisRepo, err := repository.NewRedisRepository(ctx)
		if err != nil {
			logger.Fatal("初始化Redis仓库失败", zap.Error(err))
		}
		defer redisRepo.Close()
		cache = redisRepo
		logger.Info("Redis仓库初始化成功")
	}

	var (
		producer service.EventProducer
		consumer *intkafka.Consumer
	)
	if len(cfg.Kafka.Brokers) > 0 {
		p, err := intkafka.NewProducer(logger)
		if err != nil {
			logger.Fatal("初始化Kafka生产者失败", zap.Error(err))
		}
		defer p.Close()
		producer = p

		consumer, err = intkafka.NewConsumer(cfg.Kafka.Workers, logger)
		if err != nil {
			logger.Fatal("初始化Kafka消费者失败", zap.Error(err))
		}
	}

	engine, err := lottery.NewEngine(lottery.Options{
		Treasury: treasury,
		Custody:  custody,
		Tokens:   ledger,
		Native:   bank,
		Clock:    lottery.SystemClock{},
		Entropy:  source,
		Events:   service.NewEventPublisher(producer, store, cache, logger),
		Logger:   logger.Named("engine"),

		MaxTicketsPerRound: cfg.Lottery.MaxTicketsPerRound,
	})
	if err != nil {
		logger.Fatal("初始化彩票引擎失败", zap.Error(err))
	}
	svc := service.NewLotteryService(engine, store, cache, logger)

	restored, err := svc.Restore(ctx)
	if err != nil {
		logger.Fatal("恢复彩票状态失败", zap.Error(err))
	}
	logger.Info("彩票状态已恢复", zap.Int("lotteries", restored))

	if consumer != nil {
		consumer.StartConsuming(svc.ProcessLotteryEvent)
		defer consumer.Stop()
	}

	if cfg.Keeper.Enabled {
		dl, err := lock.New(cfg.Keeper.LockDriver, logger)
		if err != nil {
			logger.Fatal("初始化分布式锁失败", zap.Error(err))
		}
		defer dl.Close()

		k, err := keeper.New(cfg.Keeper, svc, dl, logger)
		if err != nil {
			logger.Fatal("初始化开奖任务失败", zap.Error(err))
		}
		k.Start()
		defer k.Stop()
	}

	// 多实例时端口按实例ID顺延
	graphqlPort := cfg.Server.Port + *instanceID - 1
	restPort := cfg.Server.RESTPort + *instanceID - 1

	graphqlServer := graph.NewGraphQLServer(svc, cfg.GraphQL.Path, logger)
	restServer := rest.NewServer(rest.NewRouter(logger,
		&rest.LotteryHandler{Service: svc},
		&rest.TokenHandler{Tokens: ledger, Native: bank, Custody: custody},
	), logger)

	go func() {
		if err := graphqlServer.Start(graphqlPort); err != nil {
			logger.Error("GraphQL服务器异常退出", zap.Error(err))
			stop()
		}
	}()
	go func() {
		if err := restServer.Start(restPort); err != nil {
			logger.Error("REST服务器异常退出", zap.Error(err))
			stop()
		}
	}()

	logger.Info("Token Lottery 已启动",
		zap.Int("graphql_port", graphqlPort),
		zap.Int("rest_port", restPort))

	<-ctx.Done()
	logger.Info("正在关闭服务...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := graphqlServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("关闭GraphQL服务器失败", zap.Error(err))
	}
	if err := restServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("关闭REST服务器失败", zap.Error(err))
	}
}
