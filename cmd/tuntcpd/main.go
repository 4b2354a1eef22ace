// Command tuntcpd opens a TUN device and echoes every byte received on a
// listening port back to its sender, exercising the full passive-open,
// data-transfer, and close path end to end.
package main

import (
	"flag"
	"io"
	"log/slog"
	"os"

	"github.com/go-tuntcp/tuntcp/stack"
	"github.com/go-tuntcp/tuntcp/tun"
)

func main() {
	var (
		ifname = flag.String("if", "tun0", "TUN interface name")
		addr   = flag.String("addr", "10.0.0.1/24", "address to assign the interface, CIDR notation")
		port   = flag.Uint("port", 7, "TCP port to listen on")
		debug  = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	dev, err := tun.Open(*ifname, *addr)
	if err != nil {
		logger.Error("open tun device", slog.String("err", err.Error()))
		os.Exit(1)
	}

	iface := stack.NewInterface(dev, stack.WithLogger(logger))
	defer iface.Close()

	ln, err := iface.Bind(uint16(*port))
	if err != nil {
		logger.Error("bind port", slog.String("err", err.Error()))
		os.Exit(1)
	}

	logger.Info("listening", slog.String("if", *ifname), slog.Uint64("port", uint64(*port)))
	for {
		conn, err := ln.Accept()
		if err != nil {
			logger.Error("accept", slog.String("err", err.Error()))
			return
		}
		go echo(conn, logger)
	}
}

func echo(conn *stack.Stream, logger *slog.Logger) {
	buf := make([]byte, 2048)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if _, werr := conn.Write(buf[:n]); werr != nil {
				logger.Warn("echo write", slog.String("err", werr.Error()))
			}
		}
		if err == io.EOF {
			conn.Shutdown()
			return
		}
		if err != nil {
			logger.Warn("echo read", slog.String("err", err.Error()))
			return
		}
	}
}
