package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"auto_telegram_post_publisher/archive"
	"auto_telegram_post_publisher/backlog"
	"auto_telegram_post_publisher/config"
	"auto_telegram_post_publisher/events"
	"auto_telegram_post_publisher/factcheck"
	"auto_telegram_post_publisher/generator"
	"auto_telegram_post_publisher/logging"
	"auto_telegram_post_publisher/metrics"
	"auto_telegram_post_publisher/pipeline"
	"auto_telegram_post_publisher/publisher"
	"auto_telegram_post_publisher/scheduler"
	"auto_telegram_post_publisher/server"
)

const shutdownTimeout = 2 * time.Minute

var verbose bool

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	once := flag.Bool("once", false, "run a single publishing cycle and exit")
	addr := flag.String("addr", "", "status server listen address (overrides server.addr)")
	flag.BoolVar(&verbose, "v", false, "enable info logs")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := logging.New(log.Default(), verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer a.close()

	if *once {
		res, err := a.agent.Execute(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			a.close()
			os.Exit(1)
		}
		log.Printf("[cli] cycle %s finished outcome=%s", res.CycleID, res.Outcome)
		if res.Delivery != nil {
			fmt.Println(res.Delivery.Permalink)
		}
		return
	}

	listen := cfg.Server.Addr
	if *addr != "" {
		listen = *addr
	}
	if err := serve(ctx, a, cfg, listen, logger); err != nil {
		fmt.Fprintln(os.Stderr, err)
		a.close()
		os.Exit(1)
	}
	log.Printf("Shutting down")
}

type app struct {
	agent    *pipeline.Agent
	store    *archive.Store
	registry *prometheus.Registry
	events   *events.Publisher
}

func (a *app) close() {
	if a.events != nil {
		a.events.Close()
		a.events = nil
	}
	if a.store != nil {
		_ = a.store.Close()
		a.store = nil
	}
}

func build(ctx context.Context, cfg config.Config, logger *logging.Logger) (*app, error) {
	a := &app{registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sheet, err := backlog.NewSheetsTable(ctx, cfg.Sheets.CredentialsJSON, cfg.Sheets.SheetID, cfg.Sheets.WorksheetName)
	if err != nil {
		return nil, fmt.Errorf("google sheets: %w", err)
	}
	ideas := backlog.New(sheet, backlog.Options{
		PendingMarker: cfg.Sheets.StatusPending,
		DoneMarker:    cfg.Sheets.StatusDone,
		Logger:        logger,
	})

	templates := generator.Templates{
		Post:     cfg.Prompts.Post,
		Headline: cfg.Prompts.Headline,
		Grammar:  cfg.Prompts.Grammar,
	}.Merge()

	textLLM, err := buildLLM(cfg, cfg.OpenAI.TextModel)
	if err != nil {
		return nil, err
	}
	writer, err := generator.NewWriter(textLLM, templates, cfg.OpenAI.Temperature())
	if err != nil {
		return nil, err
	}
	correctionLLM, err := buildLLM(cfg, cfg.OpenAI.CorrectionModel)
	if err != nil {
		return nil, err
	}
	// nil *SerpAPI 不能直接赋给接口
	var searcher factcheck.Searcher
	if s := factcheck.NewSerpAPI(cfg.SerpAPI.APIKey, nil); s != nil {
		searcher = s
	}
	corrector, err := generator.NewCorrector(correctionLLM, templates, searcher, logger)
	if err != nil {
		return nil, err
	}
	images, err := generator.NewOpenAIImagesFromConfig(settings(cfg, cfg.OpenAI.ImageModel), cfg.OpenAI.ImageSize)
	if err != nil {
		return nil, err
	}
	embedder, err := generator.NewOpenAIEmbedderFromConfig(settings(cfg, cfg.OpenAI.EmbeddingModel))
	if err != nil {
		return nil, err
	}

	a.store, err = archive.Open(cfg.Memory.PersistDirectory, cfg.Memory.CollectionName, embedder, logger)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}

	bot, err := publisher.New(publisher.Config{
		Token:         cfg.Telegram.BotCredential(),
		APIBaseURL:    cfg.Telegram.APIBaseURL,
		ChannelChatID: cfg.Telegram.Channel(),
		ChannelHandle: cfg.Telegram.Handle(),
	}, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	if name, err := bot.Verify(ctx); err != nil {
		logger.Warnf("Telegram getMe failed: %v", err)
	} else {
		logger.Infof("Telegram bot @%s ready", name)
	}

	observers := []pipeline.Observer{metrics.NewRecorder(a.registry)}
	if cfg.NATS.URL != "" {
		a.events, err = events.Connect(cfg.NATS.URL, cfg.NATS.Subject, logger)
		if err != nil {
			// 事件只是通知，连不上不影响发布
			logger.Warnf("NATS connect failed, cycle events disabled: %v", err)
		} else {
			observers = append(observers, a.events)
		}
	}

	a.agent, err = pipeline.NewAgent(pipeline.Deps{
		Backlog:   ideas,
		Writer:    writer,
		Corrector: corrector,
		Images:    images,
		Notifier:  bot,
		Archive:   a.store,
		Observers: observers,
	}, pipeline.Destinations{
		ChannelChatID: cfg.Telegram.Channel(),
		ChannelHandle: cfg.Telegram.Handle(),
		OwnerChatID:   cfg.Telegram.OwnerChatID,
	}, pipeline.Options{
		ImagePrompt: cfg.OpenAI.ImagePrompt,
		Logger:      logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// serve runs the scheduler and, when listen is set, the status server until
// ctx is cancelled.
func serve(ctx context.Context, a *app, cfg config.Config, listen string, logger *logging.Logger) error {
	sched, err := scheduler.New(cfg.Scheduling.Timezone, cfg.Scheduling.Crons(), func(jobCtx context.Context) {
		if _, err := a.agent.Execute(jobCtx); err != nil {
			logger.Errorf("Scheduled cycle failed: %v", err)
		}
	}, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sched.Start()
		log.Printf("Scheduler started (%d jobs, zone %s)", len(sched.Entries()), sched.Location())
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sched.Stop(stopCtx); err != nil {
			logger.Warnf("Running cycle did not finish before shutdown: %v", err)
		}
		return nil
	})

	if listen != "" {
		if !verbose {
			gin.SetMode(gin.ReleaseMode)
		}
		srv, err := server.New(a.agent, server.Options{
			Archive:  a.store,
			Schedule: sched,
			Metrics:  promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		httpSrv := &http.Server{Addr: listen, Handler: srv.Routes(), ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			log.Printf("Starting status server on %s", listen)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutCtx)
		})
	}

	return g.Wait()
}

func settings(cfg config.Config, model string) *generator.LLMSettings {
	return &generator.LLMSettings{
		Model:   model,
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
	}
}

func buildLLM(cfg config.Config, model string) (generator.LLMClient, error) {
	if cfg.OpenAI.APIKey == "" {
		return nil, fmt.Errorf("openai.api_key missing; please set it in config or OPENAI_API_KEY")
	}
	return generator.NewOpenAILLMFromConfig(settings(cfg, model))
}
