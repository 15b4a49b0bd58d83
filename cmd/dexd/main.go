package main

import (
	"log"

	"github.com/uhyunpark/spotdex/params"
	"github.com/uhyunpark/spotdex/pkg/api"
	"github.com/uhyunpark/spotdex/pkg/host"
	"github.com/uhyunpark/spotdex/pkg/state"
	"github.com/uhyunpark/spotdex/pkg/storage"
	"github.com/uhyunpark/spotdex/pkg/token"
	"github.com/uhyunpark/spotdex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables.
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, util.ParseLevel(cfg.Node.LogLevel))
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	programID, err := state.ParsePubkey(cfg.Program.ID)
	if err != nil {
		sugar.Fatalw("bad PROGRAM_ID", "err", err)
	}

	store, err := storage.Open(cfg.Node.DataDir)
	if err != nil {
		sugar.Fatalw("open store", "data_dir", cfg.Node.DataDir, "err", err)
	}
	defer store.Close()

	ledger := token.NewLedger(store)
	rt := host.New(programID, store, ledger, util.RealClock{}, logger)

	sugar.Infow("dexd starting",
		"program_id", programID.Hex(),
		"data_dir", cfg.Node.DataDir,
		"listen", cfg.Node.ListenAddr)

	server := api.NewServer(rt, logger)
	if err := server.Start(cfg.Node.ListenAddr); err != nil {
		sugar.Fatalw("api server", "err", err)
	}
}
