package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/yourorg/chatserver/internal/auth"
	"github.com/yourorg/chatserver/internal/chat"
	"github.com/yourorg/chatserver/internal/config"
	"github.com/yourorg/chatserver/internal/handlers"
	"github.com/yourorg/chatserver/internal/logger"
	"github.com/yourorg/chatserver/internal/repository"
	"github.com/yourorg/chatserver/internal/routes"
	"github.com/yourorg/chatserver/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logg, err := logger.New(logger.Config{Development: cfg.App.Development})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logg.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	mongoClient, err := repository.Connect(ctx, cfg.Mongo.URI)
	cancel()
	if err != nil {
		logg.Fatalw("mongo connect failed", "uri", cfg.Mongo.URI, "error", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mongoClient.Disconnect(ctx)
	}()

	db := mongoClient.Database(cfg.Mongo.Database)
	users := repository.NewUserRepository(db.Collection("users"))
	convs := repository.NewConversationRepository(db.Collection("conversations"))
	msgs := repository.NewMessageRepository(db.Collection("messages"))

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logg.Warnw("redis unavailable, running without presence and fanout backbone", "addr", cfg.Redis.Addr, "error", err)
		rdb = nil
	}

	tokens := auth.NewTokenManager(cfg.JWT.Secret, cfg.JWTTTL)
	authSvc := auth.NewService(users, tokens, logg)
	chatSvc := chat.NewService(users, convs, msgs, logg)

	hub := ws.NewHub(rdb, cfg.Redis.Prefix, logg)
	chatSvc.SetBroadcaster(hub)

	gateway := ws.NewGateway(chatSvc, tokens, hub, logg, cfg.WS.SendBuffer, float64(cfg.WS.RatePerSecond))

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	routes.Register(app, routes.Deps{
		Auth:    handlers.NewAuthHandler(authSvc),
		Chat:    handlers.NewChatHandler(chatSvc),
		Gateway: gateway,
		Tokens:  tokens,
		Redis:   rdb,
		Prefix:  cfg.Redis.Prefix,
	})

	go func() {
		if err := app.Listen(":" + cfg.App.Port); err != nil {
			logg.Fatalw("server stopped", "error", err)
		}
	}()
	logg.Infow("server started", "port", cfg.App.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logg.Info("shutting down")
	hub.Shutdown()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Errorw("shutdown failed", "error", err)
	}
	if rdb != nil {
		_ = rdb.Close()
	}
}
