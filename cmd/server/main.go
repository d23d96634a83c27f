package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/ivelashvili/royal-exchange/internal/auth"
	"github.com/ivelashvili/royal-exchange/internal/config"
	"github.com/ivelashvili/royal-exchange/internal/game"
	"github.com/ivelashvili/royal-exchange/internal/roundlog"
	srv "github.com/ivelashvili/royal-exchange/internal/server"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func main() {
	// Load environment variables from .env file if it exists
	_ = godotenv.Load()

	var (
		httpPort     = flag.String("http-port", envOr("HTTP_PORT", "8080"), "HTTP port")
		httpsPort    = flag.String("https-port", envOr("HTTPS_PORT", "8443"), "HTTPS port")
		certFile     = flag.String("cert", os.Getenv("TLS_CERT"), "Path to certificate file")
		keyFile      = flag.String("key", os.Getenv("TLS_KEY"), "Path to private key file")
		tlsOnly      = flag.Bool("tls-only", false, "Only serve HTTPS")
		configPath   = flag.String("config", os.Getenv("ROYAL_CONFIG"), "Game tables YAML (embedded defaults when empty)")
		seed         = flag.Int64("seed", int64(envInt("ROYAL_SEED", 0)), "Event deck seed (0 picks one from the clock)")
		dataDir      = flag.String("data-dir", os.Getenv("ROYAL_DATA_DIR"), "Directory for the round log and index (disabled when empty)")
		openAdmin    = flag.Bool("open-admin", false, "Serve admin routes without a host token")
		issueToken   = flag.String("issue-host-token", "", "Print a host token for this subject and exit")
		tokenTTL     = flag.Duration("host-token-ttl", 24*time.Hour, "Lifetime of issued host tokens")
		pushInterval = flag.Duration("push-interval", time.Second, "Game state push interval for websocket clients")
		actionRate   = flag.Float64("action-rate", envFloat("ACTION_RATE", 5), "Player actions per second per client address (0 disables)")
		actionBurst  = flag.Int("action-burst", envInt("ACTION_BURST", 10), "Player action burst per client address")
	)
	flag.Parse()

	var hostAuth *auth.HostAuth
	if !*openAdmin || *issueToken != "" {
		var err error
		hostAuth, err = auth.NewHostAuthFromEnv()
		if err != nil {
			log.Fatalf("Host auth: %v (set HOST_JWT_SECRET or pass -open-admin)", err)
		}
	}
	if *issueToken != "" {
		token, err := hostAuth.IssueToken(*issueToken, *tokenTTL)
		if err != nil {
			log.Fatalf("Issue host token: %v", err)
		}
		fmt.Println(token)
		return
	}

	tables, err := loadTables(*configPath)
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	var opts []game.Option
	if *seed != 0 {
		opts = append(opts, game.WithSeed(*seed))
	}
	g, err := game.New(tables, opts...)
	if err != nil {
		log.Fatalf("Create game: %v", err)
	}

	serverOpts := srv.Options{
		Logger:       log.New(os.Stdout, "[server] ", log.LstdFlags),
		ActionRate:   rate.Limit(*actionRate),
		ActionBurst:  *actionBurst,
		PushInterval: *pushInterval,
	}
	var archive *roundlog.Archive
	if *dataDir != "" {
		archive, err = roundlog.Open(*dataDir, log.New(os.Stdout, "[roundlog] ", log.LstdFlags))
		if err != nil {
			log.Fatalf("Open round archive: %v", err)
		}
		serverOpts.Archive = archive
		log.Printf("Archiving rounds to %s", archive.LogPath())
	}

	gs := srv.NewGameServer(g, serverOpts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go gs.Run(ctx)
	go func() {
		<-ctx.Done()
		log.Printf("Shutting down")
		if archive != nil {
			if err := archive.Close(); err != nil {
				log.Printf("Close round archive: %v", err)
			}
		}
		os.Exit(0)
	}()

	r := mux.NewRouter()

	// Add CORS headers first (but allow health checks to bypass any issues)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.HandleFunc("/health", health).Methods("GET")
	r.HandleFunc("/ping", ping).Methods("GET")

	var admin mux.MiddlewareFunc
	if hostAuth != nil {
		admin = hostAuth.AuthMiddleware
	} else {
		log.Printf("WARNING: admin routes are open (-open-admin)")
	}
	gs.Routes(r, admin)

	// Determine certificate paths
	var certPath, keyPath string
	if *certFile != "" && *keyFile != "" {
		certPath = *certFile
		keyPath = *keyFile
	} else {
		// Default to generated certificates relative to working directory
		certPath = "certs/server-san.crt"
		keyPath = "certs/server-san.key"
	}

	for _, path := range []string{certPath, keyPath} {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			log.Printf("TLS file not found at %s", path)
			if *tlsOnly {
				log.Fatal("Exiting due to missing certificates in TLS-only mode")
			}
			log.Printf("Falling back to HTTP only on port %s", *httpPort)
			log.Fatal(http.ListenAndServe(":"+*httpPort, r))
		}
	}

	// Configure TLS
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}

	go func() {
		httpsAddr := ":" + *httpsPort
		log.Printf("Royal Exchange (HTTPS) listening on %s", httpsAddr)

		server := &http.Server{
			Addr:      httpsAddr,
			Handler:   r,
			TLSConfig: tlsConfig,
		}
		if err := server.ListenAndServeTLS(certPath, keyPath); err != nil {
			log.Fatal("HTTPS server failed:", err)
		}
	}()

	if *tlsOnly {
		select {}
	}

	httpAddr := ":" + *httpPort
	log.Printf("Royal Exchange (HTTP->HTTPS redirect) listening on %s", httpAddr)

	// Health endpoints stay on plain HTTP; everything else redirects.
	httpRouter := mux.NewRouter()
	httpRouter.HandleFunc("/health", health).Methods("GET")
	httpRouter.HandleFunc("/ping", ping).Methods("GET")
	httpRouter.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpsURL := "https://" + r.Host
		if *httpsPort != "443" {
			httpsURL += ":" + *httpsPort
		}
		httpsURL += r.RequestURI
		http.Redirect(w, r, httpsURL, http.StatusMovedPermanently)
	})

	httpServer := &http.Server{
		Addr:    httpAddr,
		Handler: httpRouter,
	}
	log.Fatal(httpServer.ListenAndServe())
}

func loadTables(path string) (config.Config, error) {
	if path == "" {
		return config.Default()
	}
	return config.Load(path)
}

func health(w http.ResponseWriter, r *http.Request) {
	log.Printf("Health check requested from %s", r.RemoteAddr)
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Simple ping endpoint for basic connectivity
func ping(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}
