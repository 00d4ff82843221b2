package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.bug.st/serial"

	"grblhub/internal/config"
	"grblhub/internal/controller"
	"grblhub/internal/monitor"
	"grblhub/internal/server"
	"grblhub/internal/sim"
	"grblhub/internal/taskrunner"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: grblhub [options] [<device>]

Connects to Grbl at <device> (e.g. "/dev/ttyUSB0") and serves the
websocket API.

options:
	--addr <addr>   HTTP listen address (default ":8000").
	--baud <rate>   Serial baud rate (default from config).
	--config <file> Config file (default under the user config dir).
	--sim           Use the built-in simulator instead of hardware.
	--list          List serial ports and exit.
	--help          Show this help.
`)
}

func main() {
	flag.Usage = usage
	addr := flag.String("addr", ":8000", "HTTP listen address")
	baud := flag.Int("baud", 0, "serial baud rate")
	confPath := flag.String("config", "", "config file path")
	useSim := flag.Bool("sim", false, "use the simulator")
	list := flag.Bool("list", false, "list serial ports and exit")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	if *list {
		listSerial()
		return
	}

	path := *confPath
	if path == "" {
		path = config.File()
	}
	conf, err := config.Load(path)
	if err != nil {
		log.Error("load config failed", "error", err)
		os.Exit(1)
	}
	if *baud != 0 {
		conf.Serial.BaudRate = *baud
	}

	port := conf.Serial.Port
	if flag.NArg() > 1 {
		usage()
		os.Exit(1)
	}
	if flag.NArg() == 1 {
		port = flag.Arg(0)
	}

	var transport controller.Transport
	switch {
	case *useSim:
		port = "<sim>"
		transport = sim.New()
	case port != "":
		sp, err := serial.Open(port, &serial.Mode{BaudRate: conf.Serial.BaudRate})
		if err != nil {
			log.Error("open serial port failed", "port", port, "error", err)
			os.Exit(1)
		}
		transport = sp
	default:
		fmt.Fprintln(os.Stderr, "no serial port given and none configured")
		usage()
		os.Exit(1)
	}

	mon := monitor.New(conf.WatchDir)

	ctrl := controller.New(
		controller.Options{Port: port, BaudRate: conf.Serial.BaudRate},
		controller.Deps{
			Transport: transport,
			Macros:    conf,
			Monitor:   fileReader(mon),
			Runner:    taskrunner.New(log),
			Triggers:  conf.Triggers,
			Logger:    log,
		},
	)
	if err := ctrl.Open(); err != nil {
		log.Error("open controller failed", "error", err)
		os.Exit(1)
	}

	srv := server.New(ctrl, mon, log)
	httpServer := &http.Server{Addr: *addr, Handler: srv.Handler()}

	go func() {
		log.Info("listening", "addr", *addr, "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	httpServer.Close()
	if ctrl.IsOpen() {
		ctrl.Close()
	}
}

// fileReader adapts the monitor, which may be nil when no watch
// directory is configured, to the controller's optional dependency.
func fileReader(m *monitor.Monitor) controller.FileReader {
	if m == nil {
		return nil
	}
	return m
}

func listSerial() {
	ports, err := serial.GetPortsList()
	if err != nil {
		fmt.Fprintf(os.Stderr, "list serial ports: %v\n", err)
		return
	}
	for _, port := range ports {
		fmt.Printf("port: %s\n", port)
	}
}
