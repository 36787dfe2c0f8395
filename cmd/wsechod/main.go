// Command wsechod runs a standalone WebSocket echo server: bind,
// signal-driven shutdown, single-threaded readiness loop instead of a
// goroutine per connection.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harborws/harbor/wsevent"
	"github.com/harborws/harbor/wsframe"
	"github.com/harborws/harbor/wslog"
	"github.com/harborws/harbor/wsserver"
)

type runFlags struct {
	address    string
	identifier string
	autoAccept bool
	logLevel   string
}

var flagVals runFlags

var rootCmd = &cobra.Command{
	Use:   "wsechod",
	Short: "Run a single-threaded WebSocket echo server",
	Long: `wsechod runs a WebSocket server that echoes every Text and Binary
message back to its sender, driven by a single-threaded readiness loop
rather than a goroutine per connection.`,
	Example: `  # Listen on the default address
  wsechod

  # Listen on a specific TCP address
  wsechod --addr tcp://0.0.0.0:9001

  # Listen on a UNIX-domain socket
  wsechod --addr unix:///tmp/wsechod.sock`,
	RunE: runEchod,
}

func init() {
	rootCmd.Flags().StringVar(&flagVals.address, "addr", "tcp://127.0.0.1:9001", "listen address (tcp://, tls://, or unix://)")
	rootCmd.Flags().StringVar(&flagVals.identifier, "identifier", "", "value sent as the handshake Server header (default: auto-generated)")
	rootCmd.Flags().BoolVar(&flagVals.autoAccept, "auto-accept", true, "accept connections inline instead of requiring a manual accept call")
	rootCmd.Flags().StringVar(&flagVals.logLevel, "log-level", "info", "minimum log level: debug, info, notice, warning, err, crit, alert, emerg")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "wsechod: %v\n", err)
		os.Exit(1)
	}
}

func runEchod(cmd *cobra.Command, args []string) error {
	logger := wslog.NewStd()
	logger.Threshold = parseLevel(flagVals.logLevel)

	srv, err := wsserver.New(
		wsserver.WithAddress(flagVals.address),
		wsserver.WithAutoAccept(flagVals.autoAccept),
		wsserver.WithIdentifier(flagVals.identifier),
		wsserver.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	defer srv.Close()

	logger.Log(wslog.Notice, fmt.Sprintf("listening on %s", flagVals.address), true)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	tick := 250 * time.Millisecond
	for {
		select {
		case <-sigCh:
			logger.Log(wslog.Notice, "shutdown signal received", true)
			return nil
		default:
		}

		updates := srv.Update(&tick)
		for _, u := range updates {
			handleUpdate(logger, u)
		}
	}
}

// handleUpdate implements the echo behavior itself: every completed
// non-empty text or binary message is sent back verbatim to its own
// connection. An empty message (READ_EMPTY_FRAME, which carries no
// opcode) is echoed as an empty Text frame.
func handleUpdate(logger wslog.Logger, u wsevent.Update) {
	switch u.Tag {
	case wsevent.TagRead:
		switch u.Read.Kind {
		case wsevent.NewConnection:
			logger.Log(wslog.Info, "connection opened", false)
		case wsevent.Read:
			echo(u.Read.Conn, u.Read.Message.IsText, u.Read.Message.Payload)
		case wsevent.ReadEmptyFrame:
			echo(u.Read.Conn, true, nil)
		case wsevent.Disconnect, wsevent.SockDisconnect:
			logger.Log(wslog.Info, "connection closed", false)
		case wsevent.HandshakeFailure:
			logger.Log(wslog.Warning, "handshake rejected", false)
		case wsevent.HandshakeTimeout:
			logger.Log(wslog.Warning, "handshake timed out", false)
		}
	case wsevent.TagError:
		logger.Log(wslog.Err, u.Error.Err.Error(), false)
	}
}

func echo(handle wsevent.ConnHandle, isText bool, payload []byte) {
	type sender interface {
		Send(opcode wsframe.Opcode, payload []byte)
	}
	c, ok := handle.(sender)
	if !ok {
		return
	}
	opcode := wsframe.OpBinary
	if isText {
		opcode = wsframe.OpText
	}
	c.Send(opcode, payload)
}

func parseLevel(s string) wslog.Level {
	switch s {
	case "debug":
		return wslog.Debug
	case "notice":
		return wslog.Notice
	case "warning":
		return wslog.Warning
	case "err":
		return wslog.Err
	case "crit":
		return wslog.Crit
	case "alert":
		return wslog.Alert
	case "emerg":
		return wslog.Emerg
	default:
		return wslog.Info
	}
}
