// Command nagarectl is the operator CLI for a Nagare server.
//
// Flow, run and connector commands talk to the HTTP API. principal,
// hash-key and keygen work locally (principal writes straight to DATABASE_URL).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

// Globals are the connection flags shared by every API command.
type Globals struct {
	Server  string `kong:"name='server',env='NAGARE_SERVER',default='http://localhost:8080',help='Base URL of the Nagare server.'"`
	Token   string `kong:"name='token',env='NAGARE_TOKEN',help='Bearer token. Takes precedence over --subject/--api-key.'"`
	Subject string `kong:"name='subject',env='NAGARE_SUBJECT',default='admin',help='Principal used to obtain a token.'"`
	APIKey  string `kong:"name='api-key',env='NAGARE_API_KEY',help='API key used to obtain a token.'"`
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cli struct {
		Globals `kong:"embed"`

		Validate   ValidateCmd   `kong:"cmd,help='Validates a flow definition file without contacting the server.'"`
		Flow       FlowCmd       `kong:"cmd,help='Creates, inspects and modifies flows.'"`
		Run        RunCmd        `kong:"cmd,help='Executes flows and inspects runs.'"`
		Connectors ConnectorsCmd `kong:"cmd,help='Lists and tests connectors.'"`
		Principal  PrincipalCmd  `kong:"cmd,help='Manages API principals in the database.'"`
		HashKey    HashKeyCmd    `kong:"cmd,name='hash-key',help='Prints the Argon2id hash of an API key.'"`
		Keygen     KeygenCmd     `kong:"cmd,help='Generates the Ed25519 key pair used to sign API tokens.'"`
	}

	parser := kong.Must(&cli,
		kong.Name("nagarectl"),
		kong.Description("Operates a Nagare flow server."),
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.Bind(&cli.Globals),
		kong.UsageOnError())

	app, parseErr := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(parseErr)

	appErr := app.Run()
	app.FatalIfErrorf(appErr)
}
