package config

import (
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var AppConfig Config

func InitConfig() {
	viper.AutomaticEnv()

	// Default config
	viper.SetDefault("HTTP_PORT", "8080")
	viper.SetDefault("DB_DIR", "/app/db")
	viper.SetDefault("WALLET_RPC", "https://rpc.wallet.example.com")
	viper.SetDefault("WALLET_RPC_QA", "")
	viper.SetDefault("EXPLORER_API", "https://explorer.example.com/api")
	viper.SetDefault("EXPLORER_API_QA", "")
	viper.SetDefault("EXPLORER_API_SECRET", "")
	viper.SetDefault("EXPLORER_API_KEY", "")
	viper.SetDefault("SYNC_INTERVAL", "60s")
	viper.SetDefault("HTTP_TIMEOUT", "30s")
	viper.SetDefault("LOG_LEVEL", "info")

	logLevel, err := logrus.ParseLevel(strings.ToLower(viper.GetString("LOG_LEVEL")))
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}

	AppConfig = Config{
		HTTPPort:          viper.GetString("HTTP_PORT"),
		DbDir:             viper.GetString("DB_DIR"),
		WalletRPC:         viper.GetString("WALLET_RPC"),
		WalletRPCQA:       viper.GetString("WALLET_RPC_QA"),
		ExplorerAPI:       viper.GetString("EXPLORER_API"),
		ExplorerAPIQA:     viper.GetString("EXPLORER_API_QA"),
		ExplorerAPISecret: viper.GetString("EXPLORER_API_SECRET"),
		ExplorerAPIKey:    viper.GetString("EXPLORER_API_KEY"),
		SyncInterval:      viper.GetDuration("SYNC_INTERVAL"),
		HTTPTimeout:       viper.GetDuration("HTTP_TIMEOUT"),
		LogLevel:          logLevel,
	}

	if AppConfig.SyncInterval < 10*time.Second {
		logrus.Warnf("Sync interval %v is too low, set to 10s", AppConfig.SyncInterval)
		AppConfig.SyncInterval = 10 * time.Second
	}

	logrus.Infof("Init config, SyncInterval %v, DbDir %s", AppConfig.SyncInterval, AppConfig.DbDir)

	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(AppConfig.LogLevel)
}

type Config struct {
	HTTPPort          string
	DbDir             string
	WalletRPC         string
	WalletRPCQA       string
	ExplorerAPI       string
	ExplorerAPIQA     string
	ExplorerAPISecret string
	ExplorerAPIKey    string
	SyncInterval      time.Duration
	HTTPTimeout       time.Duration
	LogLevel          logrus.Level
}
