// Command simulator drives a fake OCPP 1.6J charge point against the
// proxy's acceptor endpoint, for exercising the mediator and standalone
// responder without real hardware.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

var (
	serverURL     = flag.String("server", "ws://localhost:9000/ocpp", "Acceptor WebSocket base URL")
	chargePointID = flag.String("id", "CP001", "Charge point ID")
	authToken     = flag.String("token", "", "Bearer token sent as the Authorization header on connect")
	vendor        = flag.String("vendor", "OyeSim", "Charge point vendor")
	model         = flag.String("model", "SimulatorV1", "Charge point model")
	idTag         = flag.String("idtag", "USERTAG1", "idTag used for Authorize/StartTransaction")
	interactive   = flag.Bool("interactive", false, "Enable interactive mode")
	verbose       = flag.Bool("verbose", false, "Enable verbose logging")
)

func main() {
	flag.Parse()

	var logger *zap.Logger
	var err error
	if *verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	config := &SimulatorConfig{
		ServerURL:     *serverURL,
		ChargePointID: *chargePointID,
		AuthToken:     *authToken,
		Vendor:        *vendor,
		Model:         *model,
		IDTag:         *idTag,
	}

	sim := NewSimulator(config, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nshutting down simulator...")
		sim.Stop()
		os.Exit(0)
	}()

	if err := sim.Connect(); err != nil {
		logger.Fatal("failed to connect to acceptor", zap.Error(err))
	}

	if *interactive {
		runInteractiveMode(sim)
		return
	}

	fmt.Printf("OCPP 1.6J charge point simulator started\n")
	fmt.Printf("  id: %s\n", *chargePointID)
	fmt.Printf("  server: %s\n", *serverURL)
	fmt.Println("\npress Ctrl+C to stop")
	select {}
}

func runInteractiveMode(sim *Simulator) {
	fmt.Println("\nOCPP 1.6J Charge Point Simulator - Interactive Mode")
	fmt.Println("====================================================")
	fmt.Println("Commands:")
	fmt.Println("  status <connector> <status>  - send StatusNotification (Preparing/Charging/Available/Faulted)")
	fmt.Println("  start <connector>             - send StartTransaction")
	fmt.Println("  stop <transactionId>          - send StopTransaction")
	fmt.Println("  meter <connector> <wh>        - send MeterValues")
	fmt.Println("  authorize                     - send Authorize")
	fmt.Println("  heartbeat                     - send Heartbeat")
	fmt.Println("  quit                          - exit simulator")
	fmt.Println("")

	sim.RunInteractive()
}
