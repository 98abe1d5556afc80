package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"tcp-tcp-team-pa/lnxconfig"
	protocol "tcp-tcp-team-pa/pkg"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const tickPeriod = 10 * time.Millisecond

func main() {
	configPath := flag.String("config", "", "path to the host's config file")
	debug := flag.Bool("debug", false, "log at debug level")
	flag.Parse()
	if *configPath == "" {
		fmt.Println("Usage: ./vhost --config <lnx file>")
		os.Exit(1)
	}

	logger := newLogger(*debug)
	err := run(*configPath, logger)
	if err != nil {
		logger.Error("vhost stopped", zap.Error(err))
	}
	logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// run brings the host up from its lnx file and serves the REPL until quit or
// interrupt.
func run(configPath string, logger *zap.Logger) error {
	lnxConfig, err := lnxconfig.ParseConfig(configPath)
	if err != nil {
		return errors.Wrap(err, "parsing config file")
	}

	conn, err := net.ListenUDP("udp4", net.UDPAddrFromAddrPort(lnxConfig.Interface.UDPAddr))
	if err != nil {
		return errors.Wrapf(err, "binding interface %s", lnxConfig.Interface.UDPAddr)
	}
	defer conn.Close()

	ipStack := protocol.NewIPStack(lnxConfig, conn, logger)
	tcpStack := protocol.NewTCPStack(ipStack.LocalAddr(), ipStack, lnxConfig.TCP, logger)
	ipStack.RegisterRecvHandler(protocol.TCPProtocol, tcpStack.TCPHandler)
	go ipStack.Listen()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	done := make(chan struct{})
	go func() {
		tcpStack.Run(ctx, tickPeriod)
		close(done)
	}()

	go repl(ipStack, tcpStack, stop)
	<-done
	return nil
}

func newLogger(debug bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	if !debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func repl(ipStack *protocol.IPStack, tcpStack *protocol.TCPStack, quit func()) {
	out := os.Stdout
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("Enter command:")
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "li":
			fmt.Println(ipStack.Li())
		case "ln":
			fmt.Println(ipStack.Ln())
		case "down":
			ipStack.Down()
		case "up":
			ipStack.Up()
		case "ls":
			fmt.Println(tcpStack.ListSockets())
		case "a":
			port, err := parsePort(fields, 1)
			if err != nil {
				fmt.Println(err)
				continue
			}
			go tcpStack.ACommand(out, port)
		case "c":
			if len(fields) < 3 {
				fmt.Println("Usage: c <vip> <port>")
				continue
			}
			ip, err := netip.ParseAddr(fields[1])
			if err != nil {
				fmt.Println(err)
				continue
			}
			port, err := parsePort(fields, 2)
			if err != nil {
				fmt.Println(err)
				continue
			}
			tcpStack.CCommand(out, ip, port)
		case "s":
			socketID, err := parsePort(fields, 1)
			if err != nil || len(fields) < 3 {
				fmt.Println("Usage: s <socket ID> <bytes>")
				continue
			}
			go tcpStack.SCommand(out, socketID, strings.Join(fields[2:], " "))
		case "r":
			socketID, err := parsePort(fields, 1)
			if err != nil || len(fields) < 3 {
				fmt.Println("Usage: r <socket ID> <numbytes>")
				continue
			}
			numBytes, err := strconv.Atoi(fields[2])
			if err != nil || numBytes <= 0 {
				fmt.Println("Usage: r <socket ID> <numbytes>")
				continue
			}
			go tcpStack.RCommand(out, socketID, numBytes)
		case "cl":
			socketID, err := parsePort(fields, 1)
			if err != nil {
				fmt.Println(err)
				continue
			}
			tcpStack.CloseCommand(out, socketID)
		case "ab":
			socketID, err := parsePort(fields, 1)
			if err != nil {
				fmt.Println(err)
				continue
			}
			tcpConn, err := tcpStack.Socket(socketID)
			if err != nil {
				fmt.Println(err)
				continue
			}
			tcpConn.VAbort()
		case "sf":
			if len(fields) < 4 {
				fmt.Println("Usage: sf <file path> <addr> <port>")
				continue
			}
			addr, err := netip.ParseAddr(fields[2])
			if err != nil {
				fmt.Println(err)
				continue
			}
			port, err := parsePort(fields, 3)
			if err != nil {
				fmt.Println(err)
				continue
			}
			go func(path string) {
				sent, err := tcpStack.SendFile(path, addr, port)
				if err != nil {
					fmt.Println(err)
				}
				fmt.Printf("Sent %d total bytes\n", sent)
			}(fields[1])
		case "rf":
			if len(fields) < 3 {
				fmt.Println("Usage: rf <dest file> <port>")
				continue
			}
			port, err := parsePort(fields, 2)
			if err != nil {
				fmt.Println(err)
				continue
			}
			go func(path string) {
				received, err := tcpStack.ReceiveFile(path, port)
				if err != nil {
					fmt.Println(err)
				}
				fmt.Printf("Received %d total bytes\n", received)
			}(fields[1])
		case "q", "exit":
			quit()
			return
		default:
			fmt.Println("Invalid command.")
		}
	}
	quit()
}

func parsePort(fields []string, i int) (uint16, error) {
	if len(fields) <= i {
		return 0, errors.Errorf("missing argument %d", i)
	}
	n, err := strconv.ParseUint(fields[i], 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(n), nil
}
