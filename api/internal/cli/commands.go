package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/irgordon/whisper/api/internal/core/domain"
	"github.com/irgordon/whisper/api/internal/core/services"
)

// ==============================================================================
// create
// ==============================================================================

func newCreateCmd(a *app) *cobra.Command {
	var (
		ttl      string
		password string
		wait     bool
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create [message]",
		Short: "Encrypt a message locally and print a one-time link",
		Long: `Encrypts the message on this machine and stores only the ciphertext on the
relay. With no message argument the message is read from stdin.

Without --password a random key is generated and placed in the link fragment.
With --password the link carries no key and the recipient must know it.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			message, err := readMessage(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			expiresIn, err := domain.ParseTTL(ttl)
			if err != nil {
				return err
			}
			if password == "" {
				password = os.Getenv("WHISPER_PASSWORD")
			}

			loc, err := a.secret.Create(cmd.Context(), services.CreateSecretInput{
				Message:     message,
				ExpiresIn:   expiresIn.Milliseconds(),
				UsePassword: password != "",
				Password:    password,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			burnToken := a.client.BurnToken(loc.ID)
			fmt.Fprintln(out, loc.URL(a.linkBase()))
			fmt.Fprintln(cmd.ErrOrStderr(), successText.Sprint("✓"), "Secret stored", mutedText.Sprintf("expires in %s", expiresIn))
			fmt.Fprintln(cmd.ErrOrStderr(), infoText.Sprint("→"), "Burn it unread with",
				codeText.Sprintf("whisper burn %s --token %s", loc.ID, burnToken))

			if !wait {
				return nil
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			fmt.Fprintln(cmd.ErrOrStderr(), infoText.Sprint("…"), "Waiting for the recipient")
			ev, err := a.client.WaitForReceipt(ctx, loc.ID, burnToken)
			if err != nil {
				return err
			}
			printReceipt(cmd.ErrOrStderr(), ev)
			return nil
		},
	}

	cmd.Flags().StringVarP(&ttl, "ttl", "t", "1d", "lifetime: 1m, 1h, 1d or 1w")
	cmd.Flags().StringVarP(&password, "password", "p", "", "protect with a password (env WHISPER_PASSWORD)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "block until the secret is read, burned or expires")
	cmd.Flags().DurationVar(&timeout, "wait-timeout", 0, "give up waiting after this long")
	return cmd
}

func readMessage(stdin io.Reader, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	raw, err := io.ReadAll(io.LimitReader(stdin, 4*domain.MaxMessageLength+1))
	if err != nil {
		return "", fmt.Errorf("read message: %w", err)
	}
	return strings.TrimSuffix(strings.TrimSuffix(string(raw), "\n"), "\r"), nil
}

func printReceipt(w io.Writer, ev domain.SecretEvent) {
	switch ev.Type {
	case domain.EventConsumed:
		fmt.Fprintln(w, successText.Sprint("✓"), "Secret was read", mutedText.Sprint(ev.At.Local().Format(time.RFC1123)))
	case domain.EventBurned:
		fmt.Fprintln(w, warningText.Sprint("⚠"), "Secret was burned unread")
	case domain.EventExpired:
		fmt.Fprintln(w, warningText.Sprint("⚠"), "Secret expired unread")
	default:
		fmt.Fprintln(w, warningText.Sprint("⚠"), "Secret is already gone")
	}
}

// ==============================================================================
// open
// ==============================================================================

func newOpenCmd(a *app) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "open <link>",
		Short: "Read a secret once and destroy it",
		Long: `Fetches the secret named by a share link, "<id>#<key>" or a bare id, and
decrypts it locally. The relay deletes the secret before decryption is tried,
so a wrong password destroys it too.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := domain.ParseLocator(args[0])
			if err != nil {
				return err
			}
			if password == "" {
				password = os.Getenv("WHISPER_PASSWORD")
			}

			plaintext, err := a.secret.Open(cmd.Context(), loc, password)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(plaintext))
			return err
		},
	}

	cmd.Flags().StringVarP(&password, "password", "p", "", "password for protected secrets (env WHISPER_PASSWORD)")
	return cmd
}

// ==============================================================================
// exists / burn / ttls / keygen
// ==============================================================================

func newExistsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "exists <link>",
		Short: "Check whether a secret is still unread, without reading it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := domain.ParseLocator(args[0])
			if err != nil {
				return err
			}
			ok, err := a.secret.Exists(cmd.Context(), loc.ID)
			if err != nil {
				return err
			}
			if !ok {
				return domain.ErrNotFoundOrExpired
			}
			fmt.Fprintln(cmd.OutOrStdout(), successText.Sprint("✓"), "Secret is waiting to be read")
			return nil
		},
	}
}

func newBurnCmd(a *app) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "burn <id>",
		Short: "Destroy a secret you created before anyone reads it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := domain.ParseLocator(args[0])
			if err != nil {
				return err
			}
			if err := a.client.Burn(cmd.Context(), loc.ID, token); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successText.Sprint("✓"), "Secret burned")
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "burn token printed by create")
	return cmd
}

func newTTLsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ttls",
		Short: "List the lifetimes the relay accepts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := a.client.TTLs(cmd.Context())
			if err != nil {
				return err
			}
			for _, o := range opts {
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s\n", o.Label, mutedText.Sprintf("%dms", o.Milliseconds))
			}
			return nil
		},
	}
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a random 256-bit hex key for the relay's ENCRYPTION_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b := make([]byte, 32)
			if _, err := rand.Read(b); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(b))
			return err
		},
	}
}
