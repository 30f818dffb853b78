package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pipeflow/internal/config"
	"pipeflow/internal/handlers"
	"pipeflow/internal/middleware"
	"pipeflow/internal/observability"
	"pipeflow/internal/scheduler"
	"pipeflow/internal/services"
	"pipeflow/pkg/db"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	// 读取配置文件（默认 ./config.yml）并初始化日志
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()
	if cfg.Server.Port == 0 {
		cfg = config.GetDefaultConfig()
	}

	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	// OpenTelemetry 初始化（可选）
	shutdownOTel, err := observability.SetupTracing(context.Background(), cfg)
	if err != nil {
		appLogger.Warnf("init tracing: %v", err)
	} else {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	conn, err := db.Open(cfg)
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if cfg.Monitoring.Tracing.Enabled {
		_ = conn.Use(gormtracing.NewPlugin())
	}
	if err := db.Migrate(conn); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	// 服务装配。自动化引擎通过事件回调挂到工单服务上，
	// 周期引擎创建的工单照常发布 ticket_created。
	wsHub := services.NewWebSocketHub()
	go wsHub.Run()

	ticketService := services.NewTicketService(conn, appLogger)
	processService := services.NewProcessService(conn, appLogger)
	notificationService := services.NewNotificationService(conn, appLogger, wsHub)

	var emailSender services.EmailSender
	if cfg.SMTP.Enabled {
		emailSender = services.NewSMTPSender(services.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}, appLogger)
	} else {
		emailSender = services.NewLogEmailSender(appLogger)
	}

	automationService := services.NewAutomationService(conn, appLogger, ticketService, notificationService, emailSender)
	ticketService.SetEventHandler(automationService)

	recurringService := services.NewRecurringService(conn, appLogger, ticketService, cfg.Scheduler.DefaultIntervalMinutes)

	// 到期轮询器
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Scheduler.Enabled {
		poller, err := scheduler.NewPoller(recurringService, appLogger, cfg.Scheduler.PollInterval)
		if err != nil {
			appLogger.Fatalf("Failed to create poller: %v", err)
		}
		if err := poller.Start(ctx); err != nil {
			appLogger.Fatalf("Failed to start poller: %v", err)
		}
		defer poller.Stop()
	}

	if cfg.Server.Host != "localhost" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, conn, routerServices{
		tickets:       ticketService,
		processes:     processService,
		notifications: notificationService,
		automation:    automationService,
		recurring:     recurringService,
		hub:           wsHub,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		appLogger.Infof("Server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	appLogger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Errorf("Server shutdown: %v", err)
		os.Exit(1)
	}
	appLogger.Info("Server stopped")
}

type routerServices struct {
	tickets       *services.TicketService
	processes     *services.ProcessService
	notifications *services.NotificationService
	automation    *services.AutomationService
	recurring     *services.RecurringService
	hub           *services.WebSocketHub
}

func setupRouter(cfg *config.Config, conn *gorm.DB, svcs routerServices) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	if cfg.Monitoring.Tracing.Enabled {
		router.Use(otelgin.Middleware(cfg.Monitoring.Tracing.ServiceName))
	}
	if cfg.Security.CORS.Enabled {
		router.Use(middleware.CORSMiddleware(cfg))
	}
	router.Use(middleware.RateLimitMiddleware(cfg))

	healthHandler := handlers.NewHealthHandler(cfg, conn)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	notificationHandler := handlers.NewNotificationHandler(svcs.notifications, svcs.hub)
	router.GET("/ws", notificationHandler.HandleWebSocket)

	api := router.Group("/api")
	{
		handlers.RegisterProcessRoutes(api, handlers.NewProcessHandler(svcs.processes))
		handlers.RegisterTicketRoutes(api, handlers.NewTicketHandler(svcs.tickets))
		handlers.RegisterRecurringRoutes(api, handlers.NewRecurringHandler(svcs.recurring))
		handlers.RegisterAutomationRoutes(api, handlers.NewAutomationHandler(svcs.automation))
		handlers.RegisterNotificationRoutes(api, notificationHandler)
	}
	return router
}
