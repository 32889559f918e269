package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/cloudwego/eino/components/model"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/spf13/pflag"

	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"

	"job-agent-go/internal/analytics"
	"job-agent-go/internal/api/handler"
	"job-agent-go/internal/api/router"
	"job-agent-go/internal/config"
	"job-agent-go/internal/ingestion"
	appCoreLogger "job-agent-go/internal/logger"
	"job-agent-go/internal/outbox"
	"job-agent-go/internal/outcome"
	"job-agent-go/internal/recorder"
	"job-agent-go/internal/scorer"
	"job-agent-go/internal/storage"
)

var (
	version     = "1.0.0"        //nolint:gochecknoglobals
	serviceName = "job-agent-go" //nolint:gochecknoglobals
)

// @title Job Agent API
// @version 1.0
// @description 求职自动化核心服务：岗位摄入、投递记录、结果回流与市场漂移追踪。
// @BasePath /api/v1
func main() {
	initLogger()

	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "internal/config/config.yaml", "Path to config file")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		glog.Fatalf("加载配置失败: %v", err)
	}
	glog.Info("配置加载成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		glog.Fatalf("初始化存储失败: %v", err)
	}
	defer storageManager.Close()
	glog.Info("存储服务初始化成功")

	db := storageManager.MySQL.DB()

	// 消息中继：把事务内落库的阶段变更事件异步发布出去
	var messageRelay *outbox.MessageRelay
	if storageManager.RabbitMQ != nil {
		relayLogger := log.New(appCoreLogger.Logger, "[MessageRelay] ", log.LstdFlags|log.Lshortfile)
		messageRelay = outbox.NewMessageRelay(db, storageManager.RabbitMQ, relayLogger)
		messageRelay.Start()
		glog.Info("消息中继服务已启动")
	} else {
		glog.Warn("RabbitMQ不可用，消息中继未启动，阶段变更事件将积压在outbox表")
	}

	// 岗位摄入组件（公司缓存显式注入，进程级复用）
	ingestionSvc := ingestion.New(db, ingestion.NewCompanyCache())
	glog.Info("岗位摄入组件初始化成功")

	// 投递记录组件
	var objectStore storage.ObjectStorage
	if storageManager.MinIO != nil {
		objectStore = storageManager.MinIO
	}
	recorderSvc := recorder.New(db, objectStore)
	glog.Info("投递记录组件初始化成功")

	// 结果回流组件
	reconciler := outcome.New(db, storageManager.Redis, outcome.Options{
		GhostWindowDays:        cfg.Outcome.GhostWindowDays,
		StageChangedExchange:   cfg.RabbitMQ.OutcomeEventsExchange,
		StageChangedRoutingKey: cfg.RabbitMQ.StageChangedKey,
	})
	glog.Info("结果回流组件初始化成功")

	// 漏斗与漂移组件
	analyticsSvc := analytics.New(db, analytics.Options{
		ShiftThreshold:   cfg.Drift.ShiftThreshold,
		AlertDedupWindow: time.Duration(cfg.Drift.AlertDedupWindowHours) * time.Hour,
	})
	glog.Info("漏斗与漂移组件初始化成功")

	// 岗位评分器：未配置LLM端点时回退到Mock模型
	var llmChatModel model.ToolCallingChatModel
	if cfg.Scorer.APIKey == "" || cfg.Scorer.APIURL == "" {
		glog.Warn("未配置Scorer LLM端点，回退到MockChatModel")
		llmChatModel = &scorer.MockChatModel{}
	} else {
		// TODO(scorer): 接入eino的OpenAI兼容ChatModel初始化后替换这里的回退
		glog.Warn("Eino OpenAI兼容聊天模型初始化暂未接通，回退到MockChatModel")
		llmChatModel = &scorer.MockChatModel{}
	}

	var scorerLogger *log.Logger
	if cfg.Logger.Level == "debug" {
		scorerLogger = log.New(os.Stderr, "[ScorerMain] ", log.LstdFlags|log.Lshortfile)
	} else {
		scorerLogger = log.New(io.Discard, "", 0)
	}
	scorerOpts := []scorer.LLMJobScorerOption{}
	if storageManager.Redis != nil {
		scorerOpts = append(scorerOpts, scorer.WithRedisCache(storageManager.Redis, 0))
	}
	jobScorer := scorer.NewLLMJobScorer(llmChatModel, cfg.Scorer.ResumeText, scorerLogger, scorerOpts...)
	glog.Info("岗位评分器初始化成功")

	// 邮件信号消费者
	if storageManager.RabbitMQ != nil {
		consumer := outcome.NewEmailSignalConsumer(storageManager.RabbitMQ, reconciler, &cfg.RabbitMQ)
		go func() {
			if _, err := consumer.Start(context.Background()); err != nil {
				glog.Fatalf("启动邮件信号消费者失败: %v", err)
			}
			glog.Info("邮件信号消费者已启动")
		}()
	} else {
		glog.Warn("RabbitMQ不可用，邮件信号仅可经HTTP接口摄入")
	}

	jobHandler := handler.NewJobHandler(ingestionSvc, jobScorer)
	appHandler := handler.NewApplicationHandler(recorderSvc, reconciler)
	signalHandler := handler.NewSignalHandler(reconciler)
	analyticsHandler := handler.NewAnalyticsHandler(analyticsSvc)
	glog.Info("HTTP处理器初始化成功")

	h := server.New(
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
	)
	h.Use(func(c context.Context, ctx *app.RequestContext) {
		glog.CtxInfof(c, "Request: %s %s", string(ctx.Method()), string(ctx.Path()))
		ctx.Next(c)
		glog.CtxInfof(c, "Response: status %d", ctx.Response.StatusCode())
	})

	router.RegisterRoutes(h, jobHandler, appHandler, signalHandler, analyticsHandler)
	glog.Info("HTTP路由注册成功")

	glog.Infof("HTTP 服务器启动中，监听地址: %s", cfg.Server.Address)

	go func() {
		if err := h.Run(); err != nil {
			glog.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("接收到终止信号，正在优雅退出...")

	if messageRelay != nil {
		messageRelay.Stop()
		glog.Info("消息中继服务已停止")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		glog.Fatalf("服务器关闭失败: %v", err)
	}
	glog.Info("优雅退出完成")
}

func initLogger() {
	logFilePath := "logs/app.log"
	if err := os.MkdirAll("logs", 0755); err != nil {
		log.Fatalf("无法创建日志目录: %v", err)
	}
	fileWriter, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Fatalf("无法打开日志文件 %s: %v", logFilePath, err)
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	}

	multiWriter := zerolog.MultiLevelWriter(consoleWriter, fileWriter)

	level := zerolog.InfoLevel
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = "15:04:05"

	logger := zerolog.New(multiWriter).With().Timestamp().Caller().Logger()

	appCoreLogger.Logger = logger
	zlog.Logger = logger

	hertzCompatibleLogger := hertzadapter.From(appCoreLogger.Logger)
	glog.SetLogger(hertzCompatibleLogger)
	glog.SetLevel(glog.LevelInfo)

	log.Printf("Logger initialized with Zerolog, writing to console and file: %s (service=%s version=%s)", logFilePath, serviceName, version)
}
