package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"memorylane/internal/auth"
	"memorylane/internal/config"
	"memorylane/internal/db"
	"memorylane/internal/handlers"
	"memorylane/internal/middleware"
	"memorylane/internal/observability"
	"memorylane/internal/rabbitmq"
	"memorylane/internal/repositories"
	"memorylane/internal/telemetry"
	"memorylane/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.JWTSecret == "" {
		log.Fatalf("JWT_SECRET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer shutdownTracing(context.Background())

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	log.Printf("event publisher mode=%s reason=%q", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))
	observability.SetPublisher(publisher)
	events := telemetry.NewEmitter(publisher, cfg.ServiceName, cfg.Environment)

	tokens := auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL)
	documentRepo := repositories.NewDocumentRepo(database)
	hub := ws.NewHub(documentRepo)

	if err := db.Listen(ctx, cfg.DBDSN, db.ChangesChannel, func(collection string) {
		hub.Refresh(ctx, collection)
	}); err != nil {
		log.Fatalf("failed to listen for document changes: %v", err)
	}

	documentHandler := handlers.NewDocumentHandler(documentRepo, events)
	subscribeWS := ws.NewSubscribeHandler(hub, documentRepo, tokens)

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authMiddleware := middleware.AuthMiddleware(tokens)

	v1 := router.Group("/v1", authMiddleware)
	v1.GET("/me", documentHandler.Me)
	v1.GET("/documents/:collection/:id", documentHandler.GetDocument)
	v1.PATCH("/documents/:collection/:id", documentHandler.PatchDocument)
	v1.DELETE("/documents/:collection/:id", documentHandler.DeleteDocument)

	router.GET("/ws/:kind", subscribeWS.Handle)

	handlers.RegisterDebugRoutes(router, events, hub, cfg.DebugRoutes)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()
	log.Printf("gateway listening port=%s", cfg.Port)

	<-ctx.Done()
	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods: []string{"GET", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Device-Id"},
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c
}
