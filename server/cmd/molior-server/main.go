package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/molior-deb/molior/common/util"
	"github.com/molior-deb/molior/common/version"
	"github.com/molior-deb/molior/server/app"
)

func main() {
	fmt.Printf("starting molior v%s\n", version.VersionToString())
	fmt.Printf("Starting with args: %v\n", util.FilterOSArgs(os.Args, app.LogSafeFlags))

	config, err := app.ConfigFromFlags()
	if err != nil {
		log.Fatalf("Error parsing flags: %s", err)
	}

	ctx := context.Background()
	server, cleanup, err := app.New(ctx, config)
	if err != nil {
		log.Fatalf("Error creating server: %s", err)
	}
	defer cleanup()
	server.Start(ctx)

	// Wait for SIGINT or SIGTERM before shutting down server
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	sig := <-done
	log.Printf("received %s, terminating...", sig)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Minute*5)
	defer cancel()
	err = server.Stop(stopCtx)
	if err != nil {
		log.Fatal(err.Error())
	}
	log.Print("Server shutdown complete")
}
