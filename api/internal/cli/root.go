// Package cli is the whisper command line client. It runs the secret
// lifecycle next to the user: messages are encrypted locally and only the
// sealed blob ever reaches the relay.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/irgordon/whisper/api/internal/core/domain"
	"github.com/irgordon/whisper/api/internal/core/services"
	"github.com/irgordon/whisper/api/internal/db/remote"
	"github.com/irgordon/whisper/api/internal/infrastructure/crypto"
)

const defaultServer = "http://localhost:8080"

// app carries the flag state shared by every subcommand.
type app struct {
	server     string
	shareURL   string
	iterations int
	verbose    bool

	client *remote.Client
	secret *services.SecretService
}

// NewRootCmd builds the whisper command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "whisper",
		Short: "Whisper - share secrets that burn after one read.",
		Long: `Whisper encrypts a message on this machine, hands only the ciphertext to a
relay and prints a one-time link. The first read destroys the secret, even
when the wrong password is supplied.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.connect(cmd.ErrOrStderr())
		},
	}

	server := os.Getenv("WHISPER_SERVER")
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVarP(&a.server, "server", "s", server, "relay base URL (env WHISPER_SERVER)")
	root.PersistentFlags().StringVar(&a.shareURL, "share-url", "", "base URL for share links (defaults to --server)")
	root.PersistentFlags().IntVar(&a.iterations, "kdf-iterations", crypto.DefaultIterations, "PBKDF2 iterations")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable verbose output")

	root.AddCommand(
		newCreateCmd(a),
		newOpenCmd(a),
		newExistsCmd(a),
		newBurnCmd(a),
		newTTLsCmd(a),
		newKeygenCmd(),
	)
	return root
}

func (a *app) connect(stderr io.Writer) error {
	client, err := remote.New(a.server)
	if err != nil {
		return err
	}
	cipher, err := crypto.NewSecretCipher(a.iterations)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	a.client = client
	a.secret = services.NewSecretService(client, cipher, logger)
	return nil
}

func (a *app) linkBase() string {
	if a.shareURL != "" {
		return a.shareURL
	}
	return a.server
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, errorText.Sprint("✗"), describe(err))
		return 1
	}
	return 0
}

// describe turns domain errors into one line a person can act on.
func describe(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFoundOrExpired):
		return "secret not found; it was already read, burned or has expired"
	case errors.Is(err, domain.ErrDecryption):
		return "could not decrypt; the secret has been destroyed"
	case errors.Is(err, domain.ErrUnauthorized):
		return "burn token missing or invalid"
	case domain.IsStorage(err):
		return "relay unavailable: " + err.Error()
	default:
		return err.Error()
	}
}

