package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/fileflow/internal/logging"
	"github.com/dmitrijs2005/fileflow/internal/server"
	"github.com/dmitrijs2005/fileflow/internal/server/config"
)

func main() {

	ctx := context.Background()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("%v", err)
	}

	logger := logging.NewJSON(os.Stdout, cfg.LogLevel)

	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer app.Close()

	if err := app.Migrate(ctx); err != nil {
		logger.Error(ctx, err.Error())
		return
	}

	if err := app.Run(ctx); err != nil {
		logger.Error(ctx, err.Error())
	}

}
