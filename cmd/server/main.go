package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"tictactoe-room-server/internal/api"
	"tictactoe-room-server/internal/config"
	"tictactoe-room-server/internal/game"
	"tictactoe-room-server/internal/handlers"
	"tictactoe-room-server/internal/registry"
	"tictactoe-room-server/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS/origin policy is out of scope; left permissive for development.
	},
}

// Server wires the transport (hub) to the request handlers.
type Server struct {
	hub      *ws.Hub
	handlers *handlers.Handlers
}

func newServer(cfg config.Config) (*Server, func(), error) {
	hub := ws.NewHub()

	var cache registry.RoomCache
	var closeCache func()
	if cfg.RedisAddr != "" {
		redisCache, err := registry.NewRedisRoomCache(cfg.RedisAddr)
		if err != nil {
			logrus.WithError(err).Warn("failed to connect to redis, falling back to in-process room cache")
		} else {
			cache = redisCache
			closeCache = func() { redisCache.Close() }
			logrus.WithField("addr", cfg.RedisAddr).Info("connected to redis room cache")
		}
	}
	if cache == nil {
		ristrettoCache, err := registry.NewRistrettoRoomCache()
		if err != nil {
			return nil, nil, err
		}
		cache = ristrettoCache
	}

	reg := registry.New(context.Background(), cache)
	codeGen := game.NewCodeGenerator(cfg.RoomCodeLength, cfg.RoomCodeAlphabet, nil)
	bus := handlers.NewBroadcaster(hub)
	services := game.NewServices(reg, reg, reg, bus, game.ServiceConfig{
		ReconnectionGracePeriod: cfg.ReconnectionGracePeriod,
		TurnTimeout:             cfg.TurnTimeout,
		RematchWindow:           cfg.RematchWindow,
	})

	h := handlers.New(reg, hub, services, codeGen, cfg.MaxPlayersPerRoom, cfg.RoomCacheTimeout)

	sweeper := registry.NewSweeper(reg, bus, cfg.IdleRoomTimeout)
	if err := sweeper.Start(cfg.RoomSweepInterval); err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		sweeper.Stop()
		reg.Clear()
		if closeCache != nil {
			closeCache()
		}
	}

	return &Server{hub: hub, handlers: h}, cleanup, nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("websocket upgrade failed")
		return
	}

	connectionID := api.NewCorrelationID()
	client := ws.NewClient(s.hub, conn, connectionID)
	client.OnDisconnect = s.handlers.OnDisconnect
	s.hub.Register(client)

	go client.WritePump()
	client.ReadPump(s.dispatch)
}

// dispatch is the single inbound RPC router, matching each client
// message to its C11 handler and replying with the uniform envelope
// (§6 "Result envelope").
func (s *Server) dispatch(client *ws.Client, env *ws.Envelope) {
	var reply api.Envelope

	switch env.Type {
	case ws.MsgCreateGame:
		reply = s.handlers.CreateGame(client.ConnectionID)

	case ws.MsgJoinGame:
		var payload struct {
			Code     string `json:"code"`
			PlayerID string `json:"playerId,omitempty"`
		}
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			reply = api.Fail(api.ErrInvalid, nil)
			break
		}
		reply = s.handlers.JoinGame(client.ConnectionID, payload.Code, payload.PlayerID)

	case ws.MsgReconnect:
		var payload struct {
			Code     string `json:"code"`
			PlayerID string `json:"playerId"`
		}
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			reply = api.Fail(api.ErrInvalid, nil)
			break
		}
		reply = s.handlers.Reconnect(client.ConnectionID, payload.Code, payload.PlayerID)

	case ws.MsgGetGameState:
		var payload struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			reply = api.Fail(api.ErrInvalid, nil)
			break
		}
		reply = s.handlers.GetGameState(client.ConnectionID, payload.Code)

	case ws.MsgMakeMove:
		var payload struct {
			Code  string `json:"code"`
			Index int    `json:"index"`
		}
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			reply = api.Fail(api.ErrInvalid, nil)
			break
		}
		reply = s.handlers.MakeMove(client.ConnectionID, payload.Code, payload.Index)

	case ws.MsgOfferRematch:
		var payload struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			reply = api.Fail(api.ErrInvalid, nil)
			break
		}
		reply = s.handlers.OfferRematch(client.ConnectionID, payload.Code)

	case ws.MsgAcceptRematch:
		var payload struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			reply = api.Fail(api.ErrInvalid, nil)
			break
		}
		reply = s.handlers.AcceptRematch(client.ConnectionID, payload.Code)

	default:
		logrus.WithField("type", env.Type).Warn("unknown inbound message type")
		reply = api.Fail(api.ErrInvalid, "unknown message type")
	}

	s.hub.SendToConnection(client.ConnectionID, ws.MessageType(env.Type), reply)
}

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	cfg := config.Load()

	server, cleanup, err := newServer(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("failed to initialize server")
	}

	go server.hub.Run()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.handleWebSocket)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		logrus.WithField("port", cfg.Port).Info("server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("listen and serve failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logrus.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpServer.Shutdown(ctx)
	cleanup()
}
