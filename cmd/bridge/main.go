package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/cliremote/cliremote/internal/agent/guard"
	"github.com/cliremote/cliremote/internal/agent/session"
	"github.com/cliremote/cliremote/internal/bridge/app"
	"github.com/cliremote/cliremote/internal/bridge/auth"
	bridgeconfig "github.com/cliremote/cliremote/internal/bridge/config"
	"github.com/cliremote/cliremote/internal/bridge/queue"
	"github.com/cliremote/cliremote/internal/logging"
)

// terminalTransport is the reference Bridge transport: a single fixed
// operator identity reading from stdin and writing to stdout. A real
// chat-platform transport (Slack, Telegram, ...) would implement the
// same app.Transport interface.
type terminalTransport struct{}

func (terminalTransport) Send(identity, text string) error {
	fmt.Println(text)
	return nil
}

func main() {
	for _, path := range []string{".env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	development := os.Getenv("GO_ENV") != "production"
	if err := logging.Initialize(development); err != nil {
		panic(err)
	}

	cfg, err := bridgeconfig.Load(os.Getenv)
	if err != nil {
		logging.Error(nil, "configuration invalid", zap.Error(err))
		os.Exit(1)
	}

	g := guard.New(cfg.AllowedWorkingDirs)
	mux := session.New(cfg.SessionCap, cfg.CLIBinaryPath, cfg.WorkerRestartDelay, g)
	gate := auth.New(cfg.Password)
	q := queue.New()
	transport := terminalTransport{}

	bridge := app.New(mux, gate, q, transport, false)

	in := make(chan app.Inbound)
	go bridge.Run(in)

	logging.Info(nil, "bridge ready, reading operator input from stdin")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		in <- app.Inbound{Identity: "console", Text: scanner.Text()}
	}
	close(in)
}
