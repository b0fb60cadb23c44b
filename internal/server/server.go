package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/sam-thetutor/wahala/internal/api"
	"github.com/sam-thetutor/wahala/internal/event"
	"github.com/sam-thetutor/wahala/internal/leaderboard"
	"github.com/sam-thetutor/wahala/internal/ledger"
	"github.com/sam-thetutor/wahala/internal/market"
	"github.com/sam-thetutor/wahala/internal/payout"
	"github.com/sam-thetutor/wahala/internal/quiz"
	"github.com/sam-thetutor/wahala/internal/room"
	"github.com/sam-thetutor/wahala/internal/store"
	"github.com/sam-thetutor/wahala/internal/telemetry"
	"github.com/sam-thetutor/wahala/internal/ws"
)

type Config struct {
	HTTP struct {
		Port int32
		// OriginPatterns lists the browser origins allowed to open WebSockets, e.g. "app.example.com".
		OriginPatterns []string
	}

	GRPC struct {
		Port int32
	}

	Redis struct {
		Leaderboard struct {
			Addrs  []string
			Pass   string
			Prefix string
			TTL    time.Duration
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	// Postgres is optional, rooms and plans are kept in memory when Addr is empty.
	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
	}

	Room struct {
		MinParticipants   int
		MaxParticipants   int
		CountdownSeconds  int
		TickInterval      time.Duration
		RevealDelay       time.Duration
		Retention         time.Duration
		AutoStartInterval time.Duration
	}

	WS struct {
		PingInterval         time.Duration
		PongTimeout          time.Duration
		WriteTimeout         time.Duration
		SendBuffer           int
		MaxMessagesPerSecond int
	}

	Payout struct {
		Concurrency int
		MaxAttempts int
		RetryDelay  time.Duration
		Token       string
		// TreasuryFunds seeds the simulated ledger's treasury in Token.
		TreasuryFunds string
		LedgerLatency time.Duration
	}

	Settlement struct {
		PlatformFeePercentage string
	}

	Market struct {
		// MaxBlockLag is how far behind the chain indexed totals may be and still be served.
		MaxBlockLag uint64
	}
}

// DefaultConfig returns the values used for every key the config file and environment leave out.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 8081
	c.Redis.Leaderboard.Prefix = "wahala:leaderboard"
	c.Redis.Leaderboard.TTL = 24 * time.Hour
	c.Redis.Pubsub.Prefix = "wahala"
	c.Room.MinParticipants = 1
	c.Room.MaxParticipants = 100
	c.Room.CountdownSeconds = 5
	c.Room.TickInterval = time.Second
	c.Room.RevealDelay = 3 * time.Second
	c.Room.Retention = 10 * time.Minute
	c.Room.AutoStartInterval = 5 * time.Second
	c.WS.PingInterval = 15 * time.Second
	c.WS.PongTimeout = 10 * time.Second
	c.WS.WriteTimeout = 10 * time.Second
	c.WS.SendBuffer = 256
	c.WS.MaxMessagesPerSecond = 10
	c.Payout.Concurrency = 5
	c.Payout.MaxAttempts = 3
	c.Payout.RetryDelay = 500 * time.Millisecond
	c.Payout.Token = "cUSD"
	c.Payout.TreasuryFunds = "1000000"
	c.Settlement.PlatformFeePercentage = "15"
	c.Market.MaxBlockLag = 10
	return c
}

func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.GRPC.Port <= 0 {
		return fmt.Errorf("HTTP.Port and GRPC.Port must be positive")
	}
	if len(c.Redis.Leaderboard.Addrs) == 0 || len(c.Redis.Pubsub.Addrs) == 0 {
		return fmt.Errorf("Redis.Leaderboard.Addrs and Redis.Pubsub.Addrs are required")
	}
	if c.Room.MinParticipants > c.Room.MaxParticipants {
		return fmt.Errorf("Room.MinParticipants %d exceeds Room.MaxParticipants %d", c.Room.MinParticipants, c.Room.MaxParticipants)
	}

	fee, err := decimal.NewFromString(c.Settlement.PlatformFeePercentage)
	if err != nil {
		return fmt.Errorf("Settlement.PlatformFeePercentage: %v", err)
	}
	if fee.IsNegative() || fee.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("Settlement.PlatformFeePercentage must be within [0, 100], got %s", fee)
	}
	if _, err := decimal.NewFromString(c.Payout.TreasuryFunds); err != nil {
		return fmt.Errorf("Payout.TreasuryFunds: %v", err)
	}

	return nil
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}

		postgres *pgxpool.Pool
		store    store.Store
		ledger   *ledger.Simulated
	}

	service struct {
		quiz        *quiz.Service
		rooms       *room.Registry
		autostart   *room.AutoStarter
		payouts     *payout.Dispatcher
		leaderboard *leaderboard.Service
		markets     *market.Service
	}

	hub  *ws.Hub
	http *http.Server
	grpc *grpc.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initStore(); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	s.infra.ledger = ledger.NewSimulated(s.c.Payout.LedgerLatency)
	s.infra.ledger.Fund(ledger.Treasury, s.c.Payout.Token, decimal.RequireFromString(s.c.Payout.TreasuryFunds))

	return nil
}

func (s *Server) initRedis() error {
	connect := func(name string, addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r, name); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.leaderboard, err = connect("leaderboard", s.c.Redis.Leaderboard.Addrs, s.c.Redis.Leaderboard.Pass)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect("pubsub", s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initStore() error {
	pg := s.c.Postgres
	if pg.Addr == "" {
		slog.Warn("server: Postgres.Addr not set, keeping state in memory")
		s.infra.store = store.NewMemory()
		store.Record(s.eb, s.infra.store)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", pg.User, pg.Pass, pg.Addr, pg.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return err
	}

	s.infra.postgres = db
	s.infra.store = store.NewPostgres(db)
	store.Record(s.eb, s.infra.store)

	return nil
}

func (s *Server) initService() error {
	s.service.quiz = quiz.NewService(quiz.Config{
		Store: s.infra.store,
		Token: s.c.Payout.Token,
	})

	s.service.payouts = payout.NewDispatcher(payout.Config{
		Store:       s.infra.store,
		Ledger:      s.infra.ledger,
		Concurrency: s.c.Payout.Concurrency,
		MaxAttempts: s.c.Payout.MaxAttempts,
		RetryDelay:  s.c.Payout.RetryDelay,
	})

	s.hub = ws.NewHub(ws.Config{
		PingInterval:         s.c.WS.PingInterval,
		PongTimeout:          s.c.WS.PongTimeout,
		WriteTimeout:         s.c.WS.WriteTimeout,
		SendBuffer:           s.c.WS.SendBuffer,
		MaxMessagesPerSecond: s.c.WS.MaxMessagesPerSecond,
	})

	s.service.rooms = room.NewRegistry(room.Config{
		Store:            s.infra.store,
		EventBus:         s.eb,
		Broadcaster:      s.hub,
		Payouts:          s.service.payouts,
		MinParticipants:  s.c.Room.MinParticipants,
		MaxParticipants:  s.c.Room.MaxParticipants,
		CountdownSeconds: s.c.Room.CountdownSeconds,
		TickInterval:     s.c.Room.TickInterval,
		RevealDelay:      s.c.Room.RevealDelay,
		Retention:        s.c.Room.Retention,
	})

	var err error
	s.service.autostart, err = room.NewAutoStarter(s.service.rooms, s.c.Room.AutoStartInterval)
	if err != nil {
		return fmt.Errorf("autostart: %w", err)
	}

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis.leaderboard,
		Prefix:   s.c.Redis.Leaderboard.Prefix,
		TTL:      s.c.Redis.Leaderboard.TTL,
		Store:    s.infra.store,
	})

	book := market.NewBook(s.eb)
	s.service.markets = market.NewService(market.Config{
		Book:                  book,
		Totals:                market.NewReconciler(book, market.NewIndex(s.eb), s.c.Market.MaxBlockLag),
		Payouts:               s.service.payouts,
		Store:                 s.infra.store,
		PlatformFeePercentage: decimal.RequireFromString(s.c.Settlement.PlatformFeePercentage),
	})

	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery(), telemetry.GinLogger())

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor())

	api.New(api.Config{
		Engine:         e,
		GRPC:           s.grpc,
		EventBus:       s.eb,
		Quizzes:        s.service.quiz,
		Rooms:          s.service.rooms,
		Hub:            s.hub,
		Leaderboard:    s.service.leaderboard,
		Markets:        s.service.markets,
		Token:          s.c.Payout.Token,
		Redis:          s.infra.redis.pubsub,
		PubsubPrefix:   s.c.Redis.Pubsub.Prefix,
		OriginPatterns: s.c.HTTP.OriginPatterns,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	s.service.autostart.Start()

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

// Shutdown stops accepting traffic, then stops the rooms and drains the event bus so that write-behind
// persistence finishes before the connections close.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.grpc.GracefulStop()
	s.hub.Close()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	if err := s.service.autostart.Stop(); err != nil {
		slog.ErrorContext(ctx, "server: stop auto-start failed", "error", err)
	}
	s.service.rooms.Stop()

	s.eb.Stop()

	if s.infra.postgres != nil {
		s.infra.postgres.Close()
	}
	for _, r := range []redis.UniversalClient{s.infra.redis.leaderboard, s.infra.redis.pubsub} {
		if err := r.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "error", err)
		}
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
