package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"streambadge/integrations/webhooks"
	"streambadge/services/badge-indexer/config"
	"streambadge/services/badge-indexer/indexer"
	"streambadge/services/badge-indexer/models"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/badge-indexer/config.yaml", "path to badge-indexer config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatalf("database connection error: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		log.Fatalf("auto migrate error: %v", err)
	}

	var dispatcher *webhooks.Dispatcher
	if cfg.Webhook.Enabled() {
		var opts []webhooks.Option
		if cfg.Webhook.OutboxPath != "" {
			outbox, err := webhooks.NewOutbox(cfg.Webhook.OutboxPath)
			if err != nil {
				log.Fatalf("open webhook outbox: %v", err)
			}
			defer outbox.Close()
			opts = append(opts, webhooks.WithOutbox(outbox))
		}
		dispatcher, err = webhooks.NewDispatcher(cfg.Webhook.Endpoint, []byte(cfg.Webhook.Secret), opts...)
		if err != nil {
			log.Fatalf("webhook dispatcher error: %v", err)
		}
		defer dispatcher.Close()
	}

	ix, err := indexer.New(indexer.Config{DB: db, Webhooks: dispatcher})
	if err != nil {
		log.Fatalf("indexer init error: %v", err)
	}

	cursors, err := indexer.NewCursorStore(cfg.CursorPath)
	if err != nil {
		log.Fatalf("open cursor store: %v", err)
	}
	defer cursors.Close()

	sub, err := indexer.NewSubscriber(indexer.SubscriberConfig{
		NodeURL: cfg.NodeURL,
		Indexer: ix,
		Cursors: cursors,
	})
	if err != nil {
		log.Fatalf("subscriber init error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go ix.ExportLoop(ctx, cfg.ExportDir, cfg.ExportInterval.Duration)

	log.Printf("badge-indexer consuming %s", cfg.NodeURL)
	if err := sub.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("subscriber error: %v", err)
	}
	log.Println("shutdown signal received")
}
