// atomdemo is a tiny two-element demo: a "ping" element sends a command to
// a "pong" element and prints the response. It exists to give the ambient
// stack (config loading, logging, signal handling) a real entry point, the
// way the teacher repo ships cmd/orchestrator for cellorg.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatash89/atom/internal/broker"
	"github.com/fatash89/atom/internal/config"
	"github.com/fatash89/atom/internal/logging"
	"github.com/fatash89/atom/public/element"
)

func main() {
	configFlag := flag.String("config", "", "path to atomdemo.yaml")
	flag.Parse()

	cfg, err := config.Load("atomdemo", configFlag)
	if err != nil {
		logging.GlobalError("load config: %v", err)
		os.Exit(1)
	}

	log, err := logging.New("atomdemo", "", false, 6, nil)
	if err != nil {
		logging.GlobalError("init logger: %v", err)
		os.Exit(1)
	}
	defer log.Close()
	logging.SetGlobal(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Notice("shutdown signal received")
		cancel()
	}()

	b, err := broker.NewRedisBroker(ctx, cfg.BrokerAddr)
	if err != nil {
		log.Emergency("connect to broker at %s: %v", cfg.BrokerAddr, err)
		os.Exit(1)
	}
	defer b.Close()

	pong, err := element.New(ctx, "pong", "localhost", b, cfg, log)
	if err != nil {
		log.Emergency("create pong element: %v", err)
		os.Exit(1)
	}
	defer pong.Close()

	pong.Handle("ping", func(data map[string]interface{}, kwargs map[string]interface{}) (*element.Result, error) {
		return &element.Result{Data: map[string]interface{}{"reply": "pong"}}, nil
	}, true, 0, "")

	go pong.Serve(ctx)

	ping, err := element.New(ctx, "ping", "localhost", b, cfg, log)
	if err != nil {
		log.Emergency("create ping element: %v", err)
		os.Exit(1)
	}
	defer ping.Close()

	time.Sleep(50 * time.Millisecond) // let pong's dispatch loop start

	resp, err := ping.Send(ctx, "pong", "ping", map[string]interface{}{"hello": "world"}, true, true, 0, nil, "")
	if err != nil {
		log.Error("ping command failed: %v", err)
		os.Exit(1)
	}
	log.Notice("pong replied: %v", resp.Data["reply"])
}
