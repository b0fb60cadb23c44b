// Package api exposes the rooms, quizzes and markets over HTTP, WebSocket and gRPC, and forwards user
// notifications to Redis pub/sub.
package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/sam-thetutor/wahala/internal/domain"
	"github.com/sam-thetutor/wahala/internal/event"
	"github.com/sam-thetutor/wahala/internal/leaderboard"
	"github.com/sam-thetutor/wahala/internal/market"
	"github.com/sam-thetutor/wahala/internal/quiz"
	"github.com/sam-thetutor/wahala/internal/room"
	"github.com/sam-thetutor/wahala/internal/ws"
)

type Config struct {
	Engine      *gin.Engine
	GRPC        *grpc.Server
	EventBus    *event.Bus
	Quizzes     *quiz.Service
	Rooms       *room.Registry
	Hub         *ws.Hub
	Leaderboard *leaderboard.Service
	Markets     *market.Service
	// Token is used for markets that do not name one.
	Token string

	Redis        Redis
	PubsubPrefix string

	// OriginPatterns lists the hosts allowed to open WebSocket connections from a browser.
	OriginPatterns []string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	quizzes *quiz.Service
	rooms   *room.Registry
	hub     *ws.Hub
	ls      *leaderboard.Service
	markets *market.Service
	token   string

	redis  Redis
	prefix string

	origins []string
}

func New(c Config) *API {
	a := &API{
		quizzes: c.Quizzes,
		rooms:   c.Rooms,
		hub:     c.Hub,
		ls:      c.Leaderboard,
		markets: c.Markets,
		token:   c.Token,
		redis:   c.Redis,
		prefix:  c.PubsubPrefix,
		origins: c.OriginPatterns,
	}

	// HTTP and WebSocket APIs
	if c.Engine != nil {
		a.routes(c.Engine)
	}

	// gRPC APIs
	if c.GRPC != nil {
		RegisterRoomControlServer(c.GRPC, a)
	}

	// Register event handlers
	if c.EventBus != nil && c.Redis != nil {
		c.EventBus.Subscribe(domain.EventNameSessionFinished, func(ctx context.Context, e event.Event) error {
			return a.PublishSessionFinished(ctx, e.(domain.EventSessionFinished))
		})
		c.EventBus.Subscribe(domain.EventNamePayoutUpdated, func(ctx context.Context, e event.Event) error {
			return a.PublishPayoutUpdated(ctx, e.(domain.EventPayoutUpdated))
		}, event.WithConcurrency(1))
	}

	return a
}

func (a *API) routes(e *gin.Engine) {
	e.POST("/quizzes", a.createQuiz)
	e.GET("/quizzes/:id", a.getQuiz)

	rooms := e.Group("/rooms")
	rooms.POST("", a.createRoom)
	rooms.GET("/:id", a.getRoom)
	rooms.POST("/:id/join", a.joinRoom)
	rooms.POST("/:id/leave", a.leaveRoom)
	rooms.POST("/:id/ready", a.setReady)
	rooms.POST("/:id/start", a.startCountdown)
	rooms.POST("/:id/start-now", a.startImmediately)
	rooms.POST("/:id/deactivate", a.deactivateRoom)
	rooms.POST("/:id/answers", a.submitAnswer)
	rooms.GET("/:id/leaderboard", a.getLeaderboard)
	rooms.GET("/:id/payouts", a.getPayouts)

	e.GET("/ws/rooms/:id", a.serveWS)

	markets := e.Group("/markets")
	markets.POST("", a.createMarket)
	markets.GET("/:id", a.getMarket)
	markets.POST("/:id/trades", a.trade)
	markets.POST("/:id/resolve", a.resolveMarket)
	markets.POST("/:id/claims", a.claim)
}
