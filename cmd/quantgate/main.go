package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quantgate/internal/domain"
	"quantgate/internal/event"
	"quantgate/internal/gateway"
	_ "quantgate/internal/gateway/bybit" // register the BYBIT gateway
	"quantgate/internal/history"
	"quantgate/internal/notify"
	"quantgate/internal/store"
	"quantgate/pkg/config"
)

func main() {
	configPath := flag.String("config", "", "path to YAML settings (env/.env used when empty)")
	backfillSymbol := flag.String("backfill", "", "load bar history for this symbol into the journal and exit")
	backfillInterval := flag.String("interval", "1m", "bar interval for -backfill (1m, 1h, d, w)")
	backfillDays := flag.Int("days", 7, "how many days back -backfill reaches")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dispatcher := event.NewDispatcher()

	var db *store.Store
	if cfg.JournalPath != "" {
		db, err = store.Open(cfg.JournalPath)
		if err != nil {
			log.Fatalf("open journal: %v", err)
		}
		defer db.Close()
		journal := store.NewJournal(db, dispatcher)
		defer journal.Close()
	}

	if cfg.WebhookURL != "" {
		notifier := notify.New(cfg.WebhookURL, 0)
		defer notifier.Stop()
		dispatcher.Subscribe(event.TypeError, func(_ event.Type, payload any) {
			if p, ok := payload.(event.ErrorPayload); ok {
				notifier.Push(notify.Message{
					Severity: notify.SeverityError,
					Title:    "quantgate error",
					Text:     p.Err.Error(),
				})
			}
		})
	}

	dispatcher.Subscribe(event.TypeOrder, func(_ event.Type, payload any) {
		if o, ok := payload.(domain.OrderData); ok {
			log.Printf("order %s %s %s %v@%v filled %v status %s",
				o.OrderID, o.Symbol, o.Direction, o.Volume, o.Price, o.Traded, o.Status)
		}
	})
	dispatcher.Subscribe(event.TypeTrade, func(_ event.Type, payload any) {
		if t, ok := payload.(domain.TradeData); ok {
			log.Printf("trade %s %s %s %v@%v", t.TradeID, t.Symbol, t.Direction, t.Volume, t.Price)
		}
	})

	manager := gateway.NewManager(dispatcher)
	gw, err := manager.Connect("BYBIT", cfg.GatewaySetting())
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer manager.CloseAll()

	if *backfillSymbol != "" {
		if db == nil {
			log.Fatal("backfill needs a journal path")
		}
		backfill(db, gw, *backfillSymbol, domain.Interval(*backfillInterval), *backfillDays)
		return
	}

	if err := manager.StartAll(); err != nil {
		log.Fatalf("start: %v", err)
	}

	for _, symbol := range cfg.Symbols {
		if err := manager.Subscribe("BYBIT", domain.SubscribeRequest{Symbol: symbol}); err != nil {
			log.Printf("subscribe %s: %v", symbol, err)
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("shutting down")
}

// backfill pulls bar history through the gateway and stores it in the journal.
func backfill(db *store.Store, gw gateway.Gateway, symbol string, interval domain.Interval, days int) {
	end := time.Now().Truncate(interval.Duration())
	loader := history.NewLoader(gw, 0)
	bars, err := loader.Load(domain.HistoryRequest{
		Symbol:   symbol,
		Interval: interval,
		Start:    end.AddDate(0, 0, -days),
		End:      end,
	})
	if err != nil {
		log.Fatalf("backfill %s: %v", symbol, err)
	}
	if err := db.InsertBars(context.Background(), bars); err != nil {
		log.Fatalf("backfill %s: store bars: %v", symbol, err)
	}
	log.Printf("backfill %s: stored %d %s bars", symbol, len(bars), interval)
}
