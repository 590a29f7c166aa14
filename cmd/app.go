package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/walletsync/ledgersync/internal/config"
	"github.com/walletsync/ledgersync/internal/events"
	"github.com/walletsync/ledgersync/internal/explorer"
	"github.com/walletsync/ledgersync/internal/gateway"
	"github.com/walletsync/ledgersync/internal/http"
	"github.com/walletsync/ledgersync/internal/store"
	"github.com/walletsync/ledgersync/internal/syncer"
	"github.com/walletsync/ledgersync/internal/ui"
)

type Application struct {
	EventBus        *events.EventBus
	Registry        *ui.Registry
	Bridge          *ui.Bridge
	Syncer          *syncer.Syncer
	ExplorerService *explorer.Service
	HTTPServer      *http.HTTPServer
}

func NewApplication() *Application {
	config.InitConfig()

	bus := events.NewEventBus()
	registry := ui.NewRegistry()
	gw := gateway.NewHTTPGateway()

	ledgerStore := store.NewLedgerStore(config.AppConfig.DbDir)
	heightStore := explorer.NewHeightStore(config.AppConfig.DbDir)

	sy := syncer.NewSyncer(gw, ledgerStore, bus, registry)
	ex := explorer.NewService(gw, heightStore, bus)
	httpServer := http.NewHTTPServer(sy, ex, registry)

	return &Application{
		EventBus:        bus,
		Registry:        registry,
		Bridge:          ui.NewBridge(bus, registry),
		Syncer:          sy,
		ExplorerService: ex,
		HTTPServer:      httpServer,
	}
}

func (app *Application) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.Bridge.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.Syncer.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.HTTPServer.Start(ctx)
	}()

	<-stop
	log.Info("Receiving exit signal...")

	cancel()

	wg.Wait()
	log.Info("Server stopped")
}

func main() {
	app := NewApplication()
	app.Run()
}
