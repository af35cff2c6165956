package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fristrack/tracker/internal/ble"
	"github.com/fristrack/tracker/internal/gps"
	"github.com/fristrack/tracker/internal/location"
	"github.com/fristrack/tracker/internal/playback"
	"github.com/fristrack/tracker/internal/recording"
	"github.com/fristrack/tracker/internal/server"
	"github.com/fristrack/tracker/internal/store"
	"github.com/fristrack/tracker/web"
)

func main() {
	configPath := flag.String("config", "/etc/fristrack/config.yaml", "Path to config file")
	demo := flag.Bool("demo", false, "Run with a simulated GPS source")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] fristrack tracker starting")

	cfg := server.LoadConfig(*configPath)

	if *demo {
		cfg.GPS.Type = "demo"
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	// BLE transport — availability is probed once here; a host without a
	// usable adapter still runs with the phone source only.
	transport := ble.New(ble.NewNativeCentral(), ble.Config{
		ServiceUUID:        cfg.BLE.ServiceUUID,
		CharacteristicUUID: cfg.BLE.CharacteristicUUID,
		ConnectTimeout:     time.Duration(cfg.BLE.ConnectTimeoutMs) * time.Millisecond,
	})
	defer transport.Close()

	// Phone-side GPS provider
	var phone gps.Provider
	switch cfg.GPS.Type {
	case "nmea":
		phone = gps.NewNMEA(gps.NMEAConfig{
			PortPath: cfg.GPS.PortPath,
			BaudRate: cfg.GPS.BaudRate,
		})
	case "disabled":
		phone = nil
	default:
		phone = gps.NewDemo()
	}

	loc := location.New(phone, transport, location.Config{
		MaxAge:       time.Duration(cfg.Location.MaxAgeMs) * time.Millisecond,
		PollInterval: time.Duration(cfg.Location.PollMs) * time.Millisecond,
	})
	defer loc.Close()
	if cfg.Location.Source == string(gps.SourceBluetooth) {
		loc.SetSource(gps.SourceBluetooth)
	}
	if phone != nil {
		// Non-blocking: the daemon starts even while the receiver is
		// still coming up.
		go watchWithRetry(ctx, loc, 10)
	}

	// Persistence collaborator: remote REST API when configured,
	// embedded SQLite otherwise.
	var st recording.Store
	if cfg.Recording.APIURL != "" {
		st = store.NewAPI(cfg.Recording.APIURL, cfg.Recording.APIToken, 10*time.Second)
		log.Printf("[main] using remote store at %s", cfg.Recording.APIURL)
	} else {
		db, err := store.OpenSQLite(cfg.Recording.DatabasePath)
		if err != nil {
			log.Fatalf("[main] open database: %v", err)
		}
		defer db.Close()
		if err := db.InitSchema(ctx); err != nil {
			log.Fatalf("[main] init schema: %v", err)
		}
		st = db
		log.Printf("[main] using embedded store at %s", cfg.Recording.DatabasePath)
	}

	backups := recording.NewBackupDir(cfg.Recording.BackupPath)
	rec := recording.NewManager(st, loc, backups, recording.Config{
		Interval: time.Duration(cfg.Recording.IntervalMs) * time.Millisecond,
		Field:    cfg.Field,
	})
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rec.Close(shutCtx)
	}()

	loader := playback.NewLoader(backups, st)

	srv := server.New(cfg, loc, transport, rec, loader, st, web.FS)
	if err := srv.Run(ctx); err != nil {
		log.Printf("[main] server exited: %v", err)
	}
}

// watchWithRetry starts the phone location watch with exponential
// backoff. Starts at 1s, doubles each attempt up to 60s, retries up to
// maxAttempts then continues at max interval indefinitely.
func watchWithRetry(ctx context.Context, loc *location.Manager, maxAttempts int) {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := loc.StartWatch(); err != nil {
			attempt++
			if attempt <= maxAttempts {
				log.Printf("[gps] watch attempt %d/%d failed: %v (retry in %v)",
					attempt, maxAttempts, err, delay)
			} else {
				log.Printf("[gps] watch attempt %d failed: %v (retry in %v)",
					attempt, err, delay)
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		} else {
			return
		}
	}
}
