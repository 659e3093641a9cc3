package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/vaultmind/vaultmind/config"
	agentcore "github.com/vaultmind/vaultmind/internal/agent/core"
	"github.com/vaultmind/vaultmind/internal/agent/ratelimit"
	agenttele "github.com/vaultmind/vaultmind/internal/agent/telemetry"
	"github.com/vaultmind/vaultmind/internal/knowledge"
	"github.com/vaultmind/vaultmind/internal/mail"
	"github.com/vaultmind/vaultmind/internal/runtime"
	"github.com/vaultmind/vaultmind/internal/store"
	"github.com/vaultmind/vaultmind/internal/usage"
	"github.com/vaultmind/vaultmind/tools/web_search"
)

// Run wires every dependency and serves the API until the process exits.
func Run(cfg *appconfig.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	origins := cfg.Server.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()
	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		baseLogger.Printf("migrate: %v", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Storage.Redis.Host != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr(),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
		}
	}

	idx, err := knowledge.Open(cfg.Knowledge.IndexPath, log.New(log.Writer(), "[KNOWLEDGE] ", log.LstdFlags))
	if err != nil {
		return err
	}
	// rebuild retrieval state from persisted chunks
	byDoc := map[string]*struct {
		filename string
		chunks   []string
	}{}
	var order []string
	err = st.ListChunks(ctx, func(docID, filename, content string) error {
		entry, ok := byDoc[docID]
		if !ok {
			entry = &struct {
				filename string
				chunks   []string
			}{filename: filename}
			byDoc[docID] = entry
			order = append(order, docID)
		}
		entry.chunks = append(entry.chunks, content)
		return nil
	})
	if err != nil {
		return fmt.Errorf("reload chunks: %w", err)
	}
	for _, docID := range order {
		entry := byDoc[docID]
		if err := idx.IndexDocument(docID, entry.filename, entry.chunks); err != nil {
			return fmt.Errorf("reindex %s: %w", docID, err)
		}
	}

	provider, err := agentcore.NewCompletionProvider(cfg.LLM)
	if err != nil {
		return err
	}
	searchTool, err := web_search.NewTool(cfg.Search, log.New(log.Writer(), "[SEARCH] ", log.LstdFlags))
	if err != nil {
		return err
	}
	limiter := ratelimit.New(cfg.Agent.RateLimitCalls, cfg.Agent.RateLimitWindow)
	recorder := usage.NewRecorder(rdb, log.New(log.Writer(), "[USAGE] ", log.LstdFlags))
	tele := agenttele.New(prometheus.DefaultRegisterer)
	orch := agentcore.NewOrchestrator(
		cfg.Agent,
		log.New(log.Writer(), "[AGENT] ", log.LstdFlags),
		provider,
		searchTool,
		limiter,
		recorder,
		tele,
	)

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}
	mailer := mail.New(cfg.Mail, log.New(log.Writer(), "[MAIL] ", log.LstdFlags))

	api := e.Group("/api")
	auth := newAuthHandler(cfg, st, mailer, secret)
	auth.Register(api.Group("/auth"))

	protected := api.Group("", runtime.EchoAuthMiddleware(secret))
	protected.GET("/me", func(c echo.Context) error {
		userID, _ := c.Get("user_id").(string)
		email, err := st.GetUserEmail(c.Request().Context(), userID)
		if err != nil {
			return echo.NewHTTPError(http.StatusNotFound, "user not found")
		}
		return c.JSON(http.StatusOK, map[string]string{"user_id": userID, "email": email})
	})

	ch := &ChatHandler{
		Store:        st,
		Agent:        orch,
		Retriever:    idx,
		TopK:         cfg.Knowledge.TopK,
		HistoryTurns: cfg.Agent.HistoryTurns,
		Logger:       log.New(log.Writer(), "[CHAT] ", log.LstdFlags),
	}
	ch.Register(protected.Group("/chat"))

	dh := &DocumentsHandler{
		Store:  st,
		Index:  idx,
		Cfg:    cfg.Knowledge,
		Logger: log.New(log.Writer(), "[DOCS] ", log.LstdFlags),
	}
	dh.Register(protected.Group("/documents"))

	sched := &Scheduler{Store: st, Rdb: rdb, Cfg: cfg.Retention, Stop: make(chan struct{})}
	sched.Start()

	if addr == "" {
		addr = cfg.Server.Address
	}
	if addr == "" {
		addr = ":8000"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
