// Command enms-terminal attaches the local terminal to a device shell
// through an eNMS terminal server. Ctrl-] detaches; the transcript of
// everything displayed is sent to the server on exit.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/eNMS-automation/eNMS-sub001/internal/beacon"
	"github.com/eNMS-automation/eNMS-sub001/internal/bridge"
	"github.com/eNMS-automation/eNMS-sub001/internal/channel"
	"github.com/eNMS-automation/eNMS-sub001/internal/console"
	"github.com/eNMS-automation/eNMS-sub001/internal/logging"
)

// beaconGrace bounds how long the process waits for the transcript to leave.
const beaconGrace = 3 * time.Second

type options struct {
	server   string
	session  string
	device   string
	logLevel string
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := pflag.NewFlagSet("enms-terminal", pflag.ContinueOnError)
	fs.StringVarP(&o.server, "server", "s", os.Getenv("ENMS_SERVER_URL"), "terminal server URL (ENMS_SERVER_URL)")
	fs.StringVar(&o.session, "session", os.Getenv("ENMS_SESSION"), "session token (ENMS_SESSION)")
	fs.StringVarP(&o.device, "device", "d", os.Getenv("ENMS_DEVICE"), "device id (ENMS_DEVICE)")
	fs.StringVar(&o.logLevel, "log-level", "warn", "log level written to stderr")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.server == "" || o.session == "" || o.device == "" {
		return o, errors.New("--server, --session and --device are required")
	}
	return o, nil
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "enms-terminal: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(logging.Config{Level: o.logLevel, Console: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "enms-terminal: %v\n", err)
		os.Exit(2)
	}

	code := run(o, logger)
	logger.Sync()
	os.Exit(code)
}

func run(o options, logger *zap.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	con := console.New(os.Stdin, os.Stdout, logger)
	defer con.Close()
	bc := beacon.New(beaconGrace, logger)

	sess := bridge.NewSession(bridge.Config{
		ServerURL: o.server,
		SessionID: o.session,
		DeviceID:  o.device,
	}, con, channel.NewDialer(o.server, logger), bc, logger)

	if err := sess.Initialize(ctx); err != nil {
		logger.Error("initialize terminal", zap.Error(err))
		fmt.Fprintf(os.Stderr, "enms-terminal: %v\n", err)
		return 1
	}

	runErr := sess.Run(ctx)
	sess.Unload()
	if !bc.Wait(beaconGrace) {
		logger.Warn("transcript beacon still in flight at exit")
	}
	con.Close()

	if errors.Is(runErr, bridge.ErrChannelClosed) {
		fmt.Fprintln(os.Stderr, "\r\nConnection closed.")
	}
	return 0
}
