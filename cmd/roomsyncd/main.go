package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Strum355/log"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/spf13/viper"

	"github.com/roomsync-live/roomsync/config"
	"github.com/roomsync-live/roomsync/lookup"
	"github.com/roomsync-live/roomsync/server"
	"github.com/roomsync-live/roomsync/store"
)

func main() {
	production := flag.Bool("p", false, "enables production with json logging")
	flag.Parse()
	if *production {
		log.InitJSONLogger(&log.Config{Output: os.Stdout})
	} else {
		log.InitSimpleLogger(&log.Config{Output: os.Stdout})
	}

	config.InitConfig()

	var rdb *redis.Client
	var st store.Store
	switch backend := viper.GetString("storage.backend"); backend {
	case "redis":
		rdb = redis.NewClient(&redis.Options{
			Addr: viper.GetString("redis.address"),
		})
		st = store.NewRedisStore(rdb)
	case "memory":
		st = store.NewMemoryStore()
		log.Info("using in-memory storage, sessions will not survive a restart")
	default:
		log.WithFields(log.Fields{"backend": backend}).Error("unknown storage backend")
		os.Exit(1)
	}

	resolver := lookup.NewYouTubeResolver(rdb)
	srv := server.NewServer(st, resolver)

	mux := server.NewRestMux(srv)
	mux.HandleFunc("/ws", server.WSHandler(srv))

	addr := viper.GetString("server.address")
	httpServer := &http.Server{
		Addr:    addr,
		Handler: cors.Default().Handler(mux),
	}

	go func() {
		log.WithFields(log.Fields{"addr": addr}).Info("roomsync listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server failed")
			os.Exit(1)
		}
	}()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	<-sc
	gracefulShutdown(srv, httpServer)
}

// gracefulShutdown snapshots every live room to the cache and drains
// connections before exiting.
func gracefulShutdown(srv *server.Server, httpServer *http.Server) {
	log.Info("Starting graceful shutdown...")

	srv.Shutdown()
	time.Sleep(time.Second)

	httpServer.Close()

	log.Info("Cleanly exiting")
}
