package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"RoomGroup/config"
	"RoomGroup/internal/bus"
	"RoomGroup/internal/discovery"
	"RoomGroup/internal/logic"
	"RoomGroup/internal/matchmaker"
	"RoomGroup/internal/middleware"
	"RoomGroup/internal/protocol"
	"RoomGroup/internal/registry"
	"RoomGroup/internal/room"
	"RoomGroup/internal/storage"
	"RoomGroup/internal/telemetry"
	"RoomGroup/internal/udp"
	"RoomGroup/internal/utils"
	"RoomGroup/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func main() {
	if err := config.Load("config/config.yaml"); err != nil {
		utils.Log.Fatal("config load failed", "err", err)
	}
	utils.Init(config.C.Log.Level)
	logger := utils.Logger("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	instanceID := config.C.Server.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	shutdownTracing, err := telemetry.Setup(ctx, config.C.Registry.Name, instanceID, config.C.Telemetry.Endpoint)
	if err != nil {
		logger.Fatal("tracing setup failed", "err", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	//-------------------------------------------------------
	// 1. 初始化 Redis
	//-------------------------------------------------------
	rdb, err := storage.NewRedis(ctx, config.C.Redis.Addr, config.C.Redis.Password, config.C.Redis.DB)
	if err != nil {
		logger.Fatal("redis init failed", "err", err)
	}
	defer rdb.Close()

	//-------------------------------------------------------
	// 2. Transports: websocket hub + udp server
	//-------------------------------------------------------
	hub := websocket.NewHub()
	go hub.Run()
	defer hub.Close()

	var udpServer *udp.Server
	var udpInfo room.UDPInfo
	if config.C.UDP.Enabled && config.C.UDP.Port != "" {
		udpServer = udp.NewServer(config.C.UDP.Port, time.Duration(config.C.UDP.PeerTimeout)*time.Millisecond)
		if err := udpServer.Listen(); err != nil {
			logger.Fatal("udp listen failed", "err", err)
		}
		udpInfo = udpServer
	}

	//-------------------------------------------------------
	// 3. Room group server
	//-------------------------------------------------------
	eventBus := bus.NewRedis(rdb, config.C.Server.BusTopic, instanceID)
	srv, err := room.New(room.Options{
		InstanceID:  instanceID,
		QueueGroup:  config.C.Server.QueueGroup,
		LobbySize:   config.C.Server.LobbySize,
		SulHertz:    config.C.Server.SulHertz,
		SulDuration: time.Duration(config.C.Server.SulDuration) * time.Millisecond,
		UDPEnabled:  config.C.UDP.Enabled,
		UDPPort:     config.C.UDP.Port,
	}, room.Deps{
		Registry:      registry.NewRedis(rdb),
		Confirmations: matchmaker.NewRedisConfirmations(rdb),
		States:        logic.NewRedisStates(rdb),
		Bus:           eventBus,
		Hub:           hub,
		UDP:           udpInfo,
	})
	if err != nil {
		logger.Fatal("room server setup failed", "err", err)
	}
	if err := srv.Open(ctx); err != nil {
		logger.Fatal("room server open failed", "err", err)
	}
	defer srv.Close()

	hub.OnIncoming = func(clientID string, env protocol.Envelope) {
		srv.HandleMessage(ctx, clientID, env)
	}
	hub.OnClose = func(clientID string) {
		srv.HandleClose(context.WithoutCancel(ctx), clientID)
	}

	if udpServer != nil {
		udpServer.OnPacket = srv.HandleDatagram
		go func() {
			if err := udpServer.Run(ctx); err != nil {
				logger.Error("udp server stopped", "err", err)
			}
		}()
	}

	if config.C.Server.AutoMatchmaking {
		if err := srv.RunAutoMatchmaking(ctx); err != nil {
			logger.Fatal("automatic matchmaking failed", "err", err)
		}
	}

	//-------------------------------------------------------
	// 4. Service discovery
	//-------------------------------------------------------
	roomHandler := room.NewHandler(srv)
	if config.C.Registry.Enabled {
		reg := discovery.NewRegistrar(rdb, discovery.Service{
			Name:       config.C.Registry.Name,
			Zone:       config.C.Registry.Zone,
			Host:       config.C.Registry.Host,
			InstanceID: instanceID,
			TCP:        config.C.Server.Port,
			UDP:        config.C.UDP.Port,
		}, time.Duration(config.C.Registry.TTL)*time.Second)
		if err := reg.Register(ctx); err != nil {
			logger.Fatal("service registration failed", "err", err)
		}
		roomHandler.Peers = reg.Peers
		defer func() {
			if err := reg.Deregister(context.Background()); err != nil {
				logger.Warn("service deregistration failed", "err", err)
			}
		}()
	}

	//-------------------------------------------------------
	// 5. Gin + CORS
	//-------------------------------------------------------
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "instance": instanceID})
	})
	roomHandler.Register(r)

	secret := []byte(config.C.JWT.Secret)
	authed := r.Group("/", middleware.JwtAuthMiddleware(secret))
	authed.GET("/ws", websocket.ServeWS(hub))

	//-------------------------------------------------------
	// 6. 启动服务器
	//-------------------------------------------------------
	httpServer := &http.Server{Addr: config.C.Server.Port, Handler: r}
	go func() {
		logger.Info("server running", "addr", config.C.Server.Port, "instance", instanceID)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", "err", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", "err", err)
	}
}
