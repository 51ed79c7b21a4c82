package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/tendant/esimkit/pkg/client"
	"github.com/tendant/esimkit/pkg/domain"
	"github.com/tendant/esimkit/pkg/provision"
	"github.com/tendant/esimkit/pkg/repository"
	"github.com/tendant/esimkit/pkg/session"
	"github.com/urfave/cli/v2"
)

var flagBFFURL = &cli.StringFlag{
	Name:    "bff-url",
	Value:   "http://127.0.0.1:8080",
	Usage:   "BFF base URL",
	EnvVars: []string{"ESIM_BFF_URL"},
}
var flagAccessKey = &cli.StringFlag{
	Name:    "access-key",
	Usage:   "shared BFF access key",
	EnvVars: []string{"ESIM_ACCESS_KEY"},
}
var flagStateFile = &cli.StringFlag{
	Name:    "state-file",
	Value:   defaultStateFile(),
	Usage:   "where the provisioning session is kept between runs",
	EnvVars: []string{"ESIM_STATE_FILE"},
}
var flagStatePassphrase = &cli.StringFlag{
	Name:    "state-passphrase",
	Usage:   "seal the state file with this passphrase",
	EnvVars: []string{"ESIM_STATE_PASSPHRASE"},
}
var flagClientID = &cli.StringFlag{
	Name:    "client-id",
	Value:   "esim-web",
	Usage:   "carrier OAuth client id",
	EnvVars: []string{"ESIM_CLIENT_ID"},
}
var flagRedirectURI = &cli.StringFlag{
	Name:    "redirect-uri",
	Value:   "giffgaff://auth/callback/",
	Usage:   "carrier OAuth redirect URI",
	EnvVars: []string{"ESIM_REDIRECT_URI"},
}
var flagAuthorizeURL = &cli.StringFlag{
	Name:    "authorize-url",
	Value:   "https://id.giffgaff.com/auth/oauth/authorize",
	Usage:   "carrier OAuth authorization endpoint",
	EnvVars: []string{"ESIM_AUTHORIZE_URL"},
}
var flagVerbose = &cli.BoolFlag{
	Name:    "verbose",
	Aliases: []string{"v"},
	Usage:   "debug logging",
}

func defaultStateFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".esim-session.json"
	}
	return filepath.Join(dir, "esimkit", "session.json")
}

func main() {
	app := &cli.App{
		Name:           "esim",
		Usage:          "provision a carrier eSIM through the BFF",
		DefaultCommand: "status",
		Flags: []cli.Flag{
			flagBFFURL,
			flagAccessKey,
			flagStateFile,
			flagStatePassphrase,
			flagClientID,
			flagRedirectURI,
			flagAuthorizeURL,
			flagVerbose,
		},
		Commands: commands(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if action := domain.ActionFor(err); action != "" {
			fmt.Fprintf(os.Stderr, "next: %s\n", hint(action))
		}
		os.Exit(1)
	}
}

func hint(action domain.Action) string {
	switch action {
	case domain.ActionReauthenticate:
		return "log in again (esim login) or paste a fresh cookie (esim cookie)"
	case domain.ActionWait:
		return "wait a few minutes, then run the command again"
	case domain.ActionFixInput:
		return "check the input and try again"
	}
	return "try again"
}

// app bundles the client components for one command run.
type app struct {
	store  *session.Store
	oauth  *client.OAuthHandler
	cookie *client.CookieHandler
	mfa    *client.MFAHandler
	esim   *client.ESimService
	logger *slog.Logger
}

func newApp(cCtx *cli.Context) (*app, error) {
	level := slog.LevelWarn
	if cCtx.Bool(flagVerbose.Name) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	path := cCtx.String(flagStateFile.Name)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	var sealer *repository.Sealer
	if pass := cCtx.String(flagStatePassphrase.Name); pass != "" {
		sealer = repository.NewSealer(pass)
	}
	store := session.New(repository.NewFileSessionsRepository(path, sealer), session.WithLogger(logger))
	if _, err := store.Load(cCtx.Context); err != nil {
		if errors.Is(err, repository.ErrPassphraseRequired) {
			return nil, fmt.Errorf("%w: set --state-passphrase", err)
		}
		return nil, err
	}

	bff := client.NewBFF(client.BFFConfig{
		BaseURL:   cCtx.String(flagBFFURL.Name),
		AccessKey: cCtx.String(flagAccessKey.Name),
		Logger:    logger,
	})
	opener := client.OpenerFunc(func(url string) error {
		fmt.Printf("Open this URL in a browser and sign in:\n\n  %s\n\n", url)
		fmt.Println("Then run: esim callback '<the URL you were redirected to>'")
		return nil
	})
	oauth := client.NewOAuthHandler(bff, store, client.OAuthConfig{
		AuthorizeURL: cCtx.String(flagAuthorizeURL.Name),
		ClientID:     cCtx.String(flagClientID.Name),
		RedirectURI:  cCtx.String(flagRedirectURI.Name),
	}, opener, nil, logger)
	mfa := client.NewMFAHandler(bff, store, logger)

	return &app{
		store:  store,
		oauth:  oauth,
		cookie: client.NewCookieHandler(bff, store, logger),
		mfa:    mfa,
		esim:   client.NewESimService(bff, store, mfa, provision.DefaultConfig(), logger),
		logger: logger,
	}, nil
}

// action adapts a command body that needs the client components.
func action(fn func(cCtx *cli.Context, a *app) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		a, err := newApp(cCtx)
		if err != nil {
			return err
		}
		return fn(cCtx, a)
	}
}
