package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"stockbot/internal/api"
	"stockbot/internal/chat"
	"stockbot/internal/config"
	"stockbot/internal/llm"
	"stockbot/internal/market"
	"stockbot/internal/prompt"
	"stockbot/internal/session"
	"stockbot/internal/store"
	"stockbot/internal/web"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env loaded: %v", err)
	}

	cfg, err := config.Load("configs/app.yaml")
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	hlog.SetLevel(logLevel(cfg.Log.Level))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	h := server.Default(server.WithHostPorts(addr))

	ctx := context.Background()

	// Without a working store the app still serves, with per-session
	// in-memory history.
	var st store.Store
	st, err = store.Open(ctx, store.Options{
		Driver:               cfg.Store.Driver,
		SqlitePath:           cfg.Store.Sqlite.Path,
		RedisAddr:            cfg.Store.Redis.Addr,
		RedisPassword:        cfg.Store.Redis.Password,
		RedisDB:              cfg.Store.Redis.DB,
		RedisPrefix:          cfg.Store.Redis.Prefix,
		BoltPath:             cfg.Store.Bolt.Path,
		FirestoreProjectID:   cfg.Store.Firestore.ProjectID,
		FirestoreCredentials: cfg.Store.Firestore.CredentialsJSON,
		AppID:                cfg.App.ID,
	})
	if err != nil {
		hlog.Warnf("store error, history kept in memory only: driver=%s err=%v", cfg.Store.Driver, err)
		st = nil
	} else {
		defer func() {
			if err := st.Close(); err != nil {
				hlog.Errorf("store close error: %v", err)
			}
		}()
	}

	gen, err := newGenerator(ctx, cfg)
	if err != nil {
		log.Fatalf("llm error: %v", err)
	}

	mktTimeout := time.Duration(cfg.Market.TimeoutMs) * time.Millisecond
	mktSvc := market.NewService(newQuoteProvider(cfg, mktTimeout), mktTimeout)

	maxAge := time.Duration(cfg.Session.MaxAgeSec) * time.Second
	sessions := session.NewManager(cfg.App.AuthToken, maxAge)

	chatSvc := chat.NewService(mktSvc, gen, st, sessions, prompt.NewComposer(cfg.Prompt.HistoryWindow), chat.Config{
		Grounding: cfg.LLM.Grounding,
	})

	page, err := web.NewPage()
	if err != nil {
		log.Fatalf("page error: %v", err)
	}

	api.RegisterRoutes(h, chatSvc, mktSvc, gen, page, api.CookieConfig{
		Name:   cfg.Session.CookieName,
		MaxAge: cfg.Session.MaxAgeSec,
	})

	hlog.Infof("server starting on %s (log.level=%s store=%s llm=%s)", addr, cfg.Log.Level, cfg.Store.Driver, cfg.LLM.Provider)
	if err := h.Run(); err != nil {
		log.Fatalf("server run error: %v", err)
	}
}

func newGenerator(ctx context.Context, cfg *config.Config) (llm.Generator, error) {
	timeout := time.Duration(cfg.LLM.TimeoutMs) * time.Millisecond
	switch cfg.LLM.Provider {
	case "openai":
		return llm.NewOpenAI(ctx, llm.OpenAIConfig{
			Model:      cfg.LLM.OpenAI.Model,
			APIKey:     cfg.LLM.OpenAI.APIKey,
			BaseURL:    cfg.LLM.OpenAI.BaseURL,
			ByAzure:    cfg.LLM.OpenAI.ByAzure,
			APIVersion: cfg.LLM.OpenAI.APIVersion,
			Timeout:    timeout,
		})
	default:
		if cfg.LLM.Gemini.APIKey == "" {
			hlog.Warnf("llm disabled: GEMINI_API_KEY is not set")
			return llm.Disabled{Reason: "GEMINI_API_KEY is not set"}, nil
		}
		return llm.NewGemini(llm.GeminiConfig{
			APIKey:  cfg.LLM.Gemini.APIKey,
			Model:   cfg.LLM.Gemini.Model,
			BaseURL: cfg.LLM.Gemini.BaseURL,
			Timeout: timeout,
		}), nil
	}
}

func newQuoteProvider(cfg *config.Config, timeout time.Duration) market.QuoteProvider {
	var providers []market.QuoteProvider
	for _, name := range cfg.Market.Providers {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "yahoo":
			providers = append(providers, market.NewYahooProvider(timeout, market.WithBaseURL(cfg.Market.YahooURL)))
		case "finance-go", "financego":
			providers = append(providers, market.NewFinanceGoProvider())
		default:
			hlog.Warnf("unknown market provider ignored: %s", name)
		}
	}
	if len(providers) == 1 {
		return providers[0]
	}
	return market.NewMultiProvider(providers...)
}

func logLevel(s string) hlog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return hlog.LevelDebug
	case "warn", "warning":
		return hlog.LevelWarn
	case "error":
		return hlog.LevelError
	default:
		return hlog.LevelInfo
	}
}
