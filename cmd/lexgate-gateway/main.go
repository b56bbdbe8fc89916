package main

import (
	"log"

	"github.com/lexgate/lexgate/core/controlplane/gateway"
	"github.com/lexgate/lexgate/core/infra/buildinfo"
	"github.com/lexgate/lexgate/core/infra/config"
)

func main() {
	log.Println("lexgate gateway starting...")
	buildinfo.Log("lexgate-gateway")
	cfg := config.Load()
	if err := gateway.Run(cfg); err != nil {
		log.Fatalf("gateway error: %v", err)
	}
}
