package main

import (
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"lago/tickpipe/configs"
	"lago/tickpipe/internal/api"
	"lago/tickpipe/internal/stage"
)

func main() {
	cfg := configs.AppLoad()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	store := stage.NewStore(rdb)

	routerConfig := &api.Config{
		MonitorHandler: api.NewMonitorHandler(store),
	}
	router := api.NewRouter(routerConfig)

	if err := router.Run(fmt.Sprintf(":%s", cfg.APIPort)); err != nil {
		log.Fatalf("API server stopped: %v", err)
	}
}
