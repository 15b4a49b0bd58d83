package params

import (
	"os"

	"github.com/joho/godotenv"
)

type Node struct {
	// DataDir holds the Pebble database.
	DataDir string
	// ListenAddr is the REST/WebSocket bind address.
	ListenAddr string
	// LogFile receives the JSON log stream alongside stdout.
	LogFile string
	// LogLevel is the minimum level for both streams: debug, info, warn
	// or error.
	LogLevel string
}

type Program struct {
	// ID is the 32-byte program identity, 0x-hex. Account ownership and
	// derived authorities are scoped to it.
	ID string
	// FeeRecipient is the default fee token account the CLI settles into.
	FeeRecipient string
}

type Config struct {
	Node    Node
	Program Program
}

func Default() Config {
	return Config{
		Node: Node{
			DataDir:    "data/spotdex",
			ListenAddr: ":8080",
			LogFile:    "data/spotdex.log",
			LogLevel:   "info",
		},
		Program: Program{
			ID: "0x73706f746465782d70726f6772616d2d6964000000000000000000000000babe",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Node.ListenAddr = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Node.LogLevel = v
	}
	if v := os.Getenv("PROGRAM_ID"); v != "" {
		cfg.Program.ID = v
	}
	if v := os.Getenv("FEE_RECIPIENT"); v != "" {
		cfg.Program.FeeRecipient = v
	}

	return cfg
}
