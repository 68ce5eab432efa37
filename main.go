package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	scalargo "github.com/bdpiprava/scalar-go"
	"github.com/robfig/cron/v3"

	"pricewatch/pkg/aiextractor"
	"pricewatch/pkg/api"
	"pricewatch/pkg/checkrunner"
	"pricewatch/pkg/config"
	"pricewatch/pkg/logger"
	"pricewatch/pkg/notifier"
	"pricewatch/pkg/pipeline"
	"pricewatch/pkg/renderedfetcher"
	"pricewatch/pkg/store"
	"pricewatch/pkg/sweep"
)

func main() {
	cfg := config.Load()

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	logger.Info("store initialized at %s", cfg.DBPath)

	notif := notifier.New(db, cfg.DiscordWebhookURL)

	httpClient := &http.Client{Timeout: time.Duration(cfg.ScrapeTimeoutMs) * time.Millisecond}

	var fetcher renderedfetcher.Fetcher
	if cfg.EnablePlaywright {
		fetcher = renderedfetcher.NewChromeDPFetcher()
	}

	var aiClient aiextractor.Client
	if cfg.OpenAIAPIKey != "" {
		aiClient = aiextractor.NewOpenAIClient()
	}

	pl := pipeline.New(httpClient, fetcher, aiClient)

	runner := checkrunner.New(db, pl, notif, checkrunner.Config{
		AllowPlaywright:        cfg.EnablePlaywright,
		Model:                  cfg.OpenAIModelSmall,
		TimeoutMs:              cfg.ScrapeTimeoutMs,
		DailyBudgetUSD:         cfg.AIDailyBudgetUSD,
		AIConfidenceThreshold:  cfg.AIFallbackConfidenceThreshold,
		OutOfStockVerifyThresh: cfg.OutOfStockVerifyThreshold,
		AIMaxOutputTokens:      cfg.AIMaxOutputTokens,
		AIEvidenceMaxChars:     cfg.AIEvidenceMaxChars,
	})

	sweeper := sweep.New(db, runner)

	server := api.NewServer(db, runner, notif)

	http.HandleFunc("/", rootHandler)
	http.HandleFunc("/items", server.ItemsHandler)
	http.HandleFunc("/items/", server.ItemsHandler)
	http.HandleFunc("/discord/test", server.DiscordTestHandler)
	http.HandleFunc("/healthz", server.HealthzHandler)

	scheduleSweeps(sweeper, cfg)

	ip := GetOutboundIP()
	if ip != nil {
		fmt.Printf("Local Network URL: http://%s:%s\n", ip.String(), cfg.Port)
	} else {
		fmt.Println("Could not determine local IP address.")
	}
	fmt.Printf("Access URL: http://localhost:%s\n", cfg.Port)
	fmt.Printf("API Docs: http://localhost:%s/\n", cfg.Port)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           nil,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Fatal(httpServer.ListenAndServe())
}

// scheduleSweeps registers DailySweep on cfg.CheckScheduleCron and,
// honoring WORKER_RUN_ON_BOOT, fires one immediately.
func scheduleSweeps(sweeper *sweep.Sweeper, cfg config.Config) {
	c := cron.New()
	_, err := c.AddFunc(cfg.CheckScheduleCron, func() {
		runSweep(sweeper)
	})
	if err != nil {
		logger.Error("invalid CHECK_SCHEDULE_CRON %q: %v", cfg.CheckScheduleCron, err)
	} else {
		c.Start()
	}

	if cfg.WorkerRunOnBoot {
		go runSweep(sweeper)
	}
}

func runSweep(sweeper *sweep.Sweeper) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	if err := sweeper.Run(ctx); err != nil {
		logger.Error("sweep run failed: %v", err)
	}
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	html, err := scalargo.NewV2(
		scalargo.WithSpecDir("./"),
		scalargo.WithMetaDataOpts(
			scalargo.WithTitle("Price Watch API"),
		),
	)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, html)
}

func GetOutboundIP() net.IP {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		addrs, _ := net.InterfaceAddrs()
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					return ipnet.IP
				}
			}
		}
		return nil
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	return localAddr.IP
}
