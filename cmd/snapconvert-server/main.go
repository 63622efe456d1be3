package main

import (
	"log"

	"github.com/snapconvert/snapconvert/core/infra/buildinfo"
	"github.com/snapconvert/snapconvert/core/infra/config"
	"github.com/snapconvert/snapconvert/core/server"
)

func main() {
	log.Println("snapconvert server starting...")
	buildinfo.Log("snapconvert-server")
	cfg := config.Load()
	if err := server.Run(cfg); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
