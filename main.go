package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"dm-service/internal/assets"
	"dm-service/internal/auth"
	"dm-service/internal/cache"
	"dm-service/internal/chat"
	"dm-service/internal/config"
	"dm-service/internal/db"
	grpcserver "dm-service/internal/grpc"
	"dm-service/internal/handlers"
	"dm-service/internal/logger"
	"dm-service/internal/middleware"
	"dm-service/internal/observability"
	"dm-service/internal/rabbitmq"
	"dm-service/internal/repositories"
	"dm-service/internal/telemetry"
	"dm-service/internal/ws"
)

const (
	serviceName     = "dm-service"
	auditRoutingKey = "audit_events"
	uploadTimeout   = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, envLoaded := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogDevelopment)
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)
	if envLoaded {
		log.Info("loaded .env")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, serviceName, cfg.Environment, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal("failed to init tracer", zap.Error(err))
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	messages, users, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer closeStore()

	resolver, closeResolver, err := newResolver(cfg)
	if err != nil {
		log.Fatal("failed to set up identity", zap.Error(err))
	}
	defer closeResolver()

	uploader, err := newUploader(cfg)
	if err != nil {
		log.Fatal("failed to set up uploads", zap.Error(err))
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	log.Info("event publisher ready", zap.String("mode", rabbitmq.PublisherMode(publisher)), zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)))
	audit := telemetry.NewAuditEmitter(publisher, auditRoutingKey, serviceName, cfg.Environment, log)

	var mirror ws.PresenceMirror
	var online handlers.OnlineReader
	if cfg.RedisAddr != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Warn("redis unavailable, presence mirror disabled", zap.Error(err))
		} else {
			defer rdb.Close()
			presence := cache.NewRedisPresence(rdb, log)
			go presence.Run(ctx)
			mirror = presence
			online = presence
		}
	}

	registry := ws.NewRegistry(ws.NewBroadcaster(mirror, log), log)
	if online == nil {
		online = registry
	}
	tracker := chat.NewViewTracker()
	locks := chat.NewConversationLocks()
	router := chat.NewRouter(messages, uploader, registry, tracker, locks, log)
	conversations := chat.NewConversationService(messages, users, tracker, locks, log)
	dispatcher := chat.NewDispatcher(router, conversations, tracker, log)

	messageHandler := handlers.NewMessageHandler(router, conversations, audit)
	liveHandler := ws.NewHandler(registry, resolver, dispatcher, cfg.AllowQueryUserID, cfg.MaxBodyBytes, log)

	if cfg.LogDevelopment {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware(serviceName))
	engine.Use(observability.HTTPMetricsMiddleware())
	engine.Use(middleware.BodyLimit(cfg.MaxBodyBytes))

	if local, ok := uploader.(*assets.LocalUploader); ok {
		engine.Static("/uploads", local.Dir())
	}
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/api/status", handlers.Status(online))

	authMiddleware := middleware.AuthMiddleware(resolver)
	api := engine.Group("/api/messages", authMiddleware)
	api.GET("/users", messageHandler.ListUsers)
	api.GET("/:id", messageHandler.GetMessages)
	api.POST("/send/:id", messageHandler.SendMessage)
	api.PUT("/mark/:id", messageHandler.MarkSeen)

	engine.GET("/ws", liveHandler.Handle)
	handlers.RegisterDebugRoutes(engine, audit, cfg.DebugRoutes, cfg.JWTSecret)

	grpcSrv, health := grpcserver.NewHealthServer()
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		log.Fatal("failed to listen for grpc", zap.String("port", cfg.GRPCPort), zap.Error(err))
	}
	go func() {
		health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
		if err := grpcSrv.Serve(lis); err != nil {
			log.Error("grpc server stopped", zap.Error(err))
		}
	}()

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: engine}
	go func() {
		log.Info("http server listening", zap.String("port", cfg.Port), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	health.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	grpcSrv.GracefulStop()
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (repositories.MessageRepository, repositories.UserRepository, func(), error) {
	switch cfg.StoreDriver {
	case "postgres":
		database, err := db.Connect(cfg.DBDSN, log)
		if err != nil {
			return nil, nil, nil, err
		}
		return repositories.NewMessageRepo(database), repositories.NewUserRepo(database), func() { _ = database.Close() }, nil
	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, nil, err
		}
		if err := client.Ping(ctx, nil); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, nil, err
		}
		database := client.Database(cfg.MongoDB)
		messages := repositories.NewMongoMessageRepo(database)
		if err := messages.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, nil, err
		}
		return messages, repositories.NewMongoUserRepo(database), func() { _ = client.Disconnect(context.Background()) }, nil
	case "memory":
		store := repositories.NewMemoryStore()
		return store, store, func() {}, nil
	default:
		return nil, nil, nil, errors.New("unknown STORE_DRIVER " + cfg.StoreDriver)
	}
}

func newResolver(cfg config.Config) (auth.Resolver, func(), error) {
	if cfg.IdentityGRPCAddr != "" {
		conn, err := grpcserver.Dial(cfg.IdentityGRPCAddr)
		if err != nil {
			return nil, nil, err
		}
		return grpcserver.NewIdentityClient(conn), func() { _ = conn.Close() }, nil
	}
	if cfg.JWTSecret == "" {
		return nil, nil, errors.New("JWT_SECRET or IDENTITY_GRPC_ADDR must be set")
	}
	return auth.NewJWTVerifier(cfg.JWTSecret), func() {}, nil
}

func newUploader(cfg config.Config) (assets.Uploader, error) {
	if cfg.UploadURL != "" {
		return assets.NewHTTPUploader(cfg.UploadURL, cfg.UploadPreset, uploadTimeout), nil
	}
	return assets.NewLocalUploader(cfg.UploadDir, cfg.PublicBaseURL)
}
