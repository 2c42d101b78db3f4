package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docuchat-go/internal/config"
	"docuchat-go/internal/handler"
	"docuchat-go/internal/middleware"
	"docuchat-go/internal/model"
	"docuchat-go/internal/pipeline"
	"docuchat-go/internal/provider"
	"docuchat-go/internal/repository"
	"docuchat-go/internal/service"
	"docuchat-go/internal/vectorindex"
	"docuchat-go/pkg/database"
	"docuchat-go/pkg/kafka"
	"docuchat-go/pkg/log"
	"docuchat-go/pkg/storage"
	"docuchat-go/pkg/tika"
	"docuchat-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 1. 初始化配置与日志
	config.Init(*configPath)
	log.Init(config.Conf.Log.Level, config.Conf.Log.Format, config.Conf.Log.OutputPath)
	defer log.Sync()
	log.Info("配置与日志初始化成功")

	// 2. 初始化数据库
	database.InitMySQL(config.Conf.Database.MySQL.DSN)
	database.InitRedis(config.Conf.Database.Redis.Addr,
		config.Conf.Database.Redis.Password, config.Conf.Database.Redis.DB)

	if err := database.DB.AutoMigrate(
		&model.Document{},
		&model.Chunk{},
		&model.ChatSession{},
		&model.ChatMessage{},
	); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}

	// 3. 初始化对象存储
	store, err := storage.NewMinIOStore(config.Conf.MinIO)
	if err != nil {
		log.Fatalf("初始化 MinIO 失败: %v", err)
	}

	// 4. 初始化向量索引，维度取默认提供方的嵌入维度
	defaultProvider, ok := config.Conf.AI.Providers[config.Conf.AI.DefaultProvider]
	if !ok {
		log.Fatalf("默认提供方 '%s' 未配置", config.Conf.AI.DefaultProvider)
	}
	index, err := vectorindex.NewESIndex(config.Conf.Elasticsearch, defaultProvider.Dimensions)
	if err != nil {
		log.Fatalf("初始化 Elasticsearch 向量索引失败: %v", err)
	}

	// 5. 构造依赖
	docRepo := repository.NewDocumentRepository(database.DB)
	chunkRepo := repository.NewChunkRepository(database.DB)
	chatRepo := repository.NewChatRepository(database.DB)

	prefs := provider.NewConfigPreferenceProvider(config.Conf.AI)
	creds := provider.NewConfigCredentialProvider(config.Conf.AI)
	factory := provider.NewFactory(prefs, creds)
	extractor := tika.NewClient(config.Conf.Tika)

	producer := kafka.NewProducer(config.Conf.Kafka)
	defer producer.Close()

	processor := pipeline.NewProcessor(store, extractor, factory, index, docRepo, chunkRepo, pipeline.Options{
		ChunkSize:      config.Conf.Pipeline.ChunkSize,
		ChunkOverlap:   config.Conf.Pipeline.ChunkOverlap,
		EmbedBatchSize: config.Conf.Pipeline.EmbedBatchSize,
	})

	documentService := service.NewDocumentService(docRepo, chunkRepo, store, index,
		producer, config.Conf.Pipeline.MaxFileSizeBytes)
	retrievalService := service.NewRetrievalService(docRepo, index, factory,
		config.Conf.Retrieval.TopK, config.Conf.Retrieval.MaxTopK)
	locker := service.NewRedisSessionLocker(database.RDB,
		time.Duration(config.Conf.Chat.SessionLockTTLSecs)*time.Second,
		time.Duration(config.Conf.Chat.SessionLockRetryMS)*time.Millisecond,
		time.Duration(config.Conf.Chat.SessionLockWaitSecs)*time.Second,
	)
	chatService := service.NewChatService(chatRepo, retrievalService, factory, locker,
		config.Conf.Chat, config.Conf.AI.Prompt, config.Conf.AI.Generation)
	sessionService := service.NewSessionService(chatRepo)

	jwtManager := token.NewJWTManager(config.Conf.JWT.Secret, config.Conf.JWT.AccessTokenExpireHours)

	// 6. 启动 Kafka 消费者驱动处理管道
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	go kafka.StartConsumer(consumerCtx, config.Conf.Kafka, processor)

	// 7. 注册路由
	gin.SetMode(config.Conf.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger())

	documentHandler := handler.NewDocumentHandler(documentService)
	sessionHandler := handler.NewSessionHandler(sessionService)
	chatHandler := handler.NewChatHandler(chatService)

	api := router.Group("/api/v1")
	api.Use(middleware.JWTAuth(jwtManager))
	{
		docs := api.Group("/documents")
		{
			docs.POST("", documentHandler.Upload)
			docs.GET("", documentHandler.List)
			docs.GET("/:id", documentHandler.GetStatus)
			docs.DELETE("/:id", documentHandler.Delete)
			docs.POST("/:id/reprocess", documentHandler.Reprocess)
		}

		sessions := api.Group("/sessions")
		{
			sessions.GET("", sessionHandler.List)
			sessions.GET("/:id/messages", sessionHandler.Messages)
			sessions.DELETE("/:id", sessionHandler.Delete)
		}

		api.POST("/chat", chatHandler.Ask)
		api.GET("/chat/stream", chatHandler.AskStream)
	}

	// 8. 启动服务并处理优雅退出
	srv := &http.Server{
		Addr:    ":" + config.Conf.Server.Port,
		Handler: router,
	}

	go func() {
		log.Infof("服务器启动，监听端口 %s", config.Conf.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务器启动失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("收到退出信号，开始优雅关闭")

	stopConsumer()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("服务器关闭出错: %v", err)
	}
	log.Info("服务器已退出")
}
