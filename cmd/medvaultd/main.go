package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/medvault/internal/config"
	"github.com/dmitrijs2005/medvault/internal/server"
)

func main() {

	ctx := context.Background()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// "medvaultd token ..." mints a development bearer token and exits
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := server.IssueToken(cfg, os.Args[2:], os.Stdout); err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)

}
