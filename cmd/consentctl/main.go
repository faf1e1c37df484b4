// Command consentctl is an operator tool for development deployments: it
// mints signer identities and field keys, and seals or opens the protected
// consent fields with the same codec the sqlite store uses.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"consentledger/internal/consent/fieldcodec"
	"consentledger/internal/platform/logger"
	id "consentledger/pkg/domain"
)

const usage = `consentctl - development helpers for consentledger

Usage:
  consentctl <command> [flags]

Commands:
  identity   generate an ed25519 seed and its chain address
  fieldkey   generate a 32-byte field encryption key (CONSENT_FIELD_KEY)
  seal       encrypt document hash, requester and permissions
  open       decrypt an envelope produced by seal (read from stdin)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	log := logger.NewWithWriter(os.Stderr, "warn")

	var err error
	switch os.Args[1] {
	case "identity":
		err = runIdentity(os.Args[2:], os.Stdout)
	case "fieldkey":
		err = runFieldKey(os.Stdout)
	case "seal":
		err = runSeal(os.Args[2:], os.Stdout)
	case "open":
		err = runOpen(os.Args[2:], os.Stdin, os.Stdout, log)
	case "help", "-h", "--help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "consentctl:", err)
		os.Exit(1)
	}
}

type identityOutput struct {
	Address id.Address `json:"address"`
	Seed    string     `json:"seed"`
}

func runIdentity(args []string, out io.Writer) error {
	flags := pflag.NewFlagSet("identity", pflag.ContinueOnError)
	count := flags.IntP("count", "n", 1, "number of identities")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *count < 1 {
		return fmt.Errorf("--count must be positive")
	}

	enc := json.NewEncoder(out)
	for range *count {
		seed := make([]byte, ed25519.SeedSize)
		if _, err := io.ReadFull(rand.Reader, seed); err != nil {
			return fmt.Errorf("read seed: %w", err)
		}
		pub, ok := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
		if !ok {
			return fmt.Errorf("unexpected public key type")
		}
		addr, err := id.AddressFromPublicKey(pub)
		if err != nil {
			return err
		}
		if err := enc.Encode(identityOutput{Address: addr, Seed: hex.EncodeToString(seed)}); err != nil {
			return err
		}
	}
	return nil
}

func runFieldKey(out io.Writer) error {
	key, err := fieldcodec.GenerateKey()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, hex.EncodeToString(key))
	return err
}

func keyFlag(flags *pflag.FlagSet) *string {
	return flags.String("key", os.Getenv("CONSENT_FIELD_KEY"), "field key, hex or base64 (default $CONSENT_FIELD_KEY)")
}

func codecFor(rawKey string, log *slog.Logger) (*fieldcodec.Codec, error) {
	key, err := fieldcodec.DecodeKey(rawKey)
	if err != nil {
		return nil, err
	}
	var opts []fieldcodec.Option
	if log != nil {
		opts = append(opts, fieldcodec.WithLogger(log))
	}
	return fieldcodec.New(key, opts...)
}

func runSeal(args []string, out io.Writer) error {
	flags := pflag.NewFlagSet("seal", pflag.ContinueOnError)
	key := keyFlag(flags)
	docHash := flags.String("document-hash", "", "document hash to protect")
	requester := flags.String("requester", "", "requesting address")
	perms := flags.StringSlice("permissions", nil, "comma-separated permissions")
	if err := flags.Parse(args); err != nil {
		return err
	}

	codec, err := codecFor(*key, nil)
	if err != nil {
		return err
	}
	env, err := codec.Seal(fieldcodec.Plain{
		DocumentHash: *docHash,
		Requester:    *requester,
		Permissions:  normalizePermissions(*perms),
	})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(env)
}

type openOutput struct {
	fieldcodec.Plain
	Failed []fieldcodec.Field `json:"failed,omitempty"`
}

// runOpen prints what decrypted; undecryptable fields are listed instead of
// aborting, matching how the store treats them.
func runOpen(args []string, in io.Reader, out io.Writer, log *slog.Logger) error {
	flags := pflag.NewFlagSet("open", pflag.ContinueOnError)
	key := keyFlag(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}

	codec, err := codecFor(*key, log)
	if err != nil {
		return err
	}
	var env fieldcodec.Envelope
	if err := json.NewDecoder(in).Decode(&env); err != nil {
		return fmt.Errorf("read envelope: %w", err)
	}
	decoded := codec.Open(context.Background(), env)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(openOutput{Plain: decoded.Plain, Failed: decoded.Failed}); err != nil {
		return err
	}
	if !decoded.Complete() {
		return fmt.Errorf("%d field(s) could not be decrypted", len(decoded.Failed))
	}
	return nil
}

func normalizePermissions(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
