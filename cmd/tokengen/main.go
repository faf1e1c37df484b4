// Command tokengen issues bearer tokens for local development. The subject is
// a chain address; the server derives the caller's identity from it.
// Tokens are signed with the dev key unless --key is given and will NOT work
// against a production deployment.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	jwttoken "consentledger/internal/jwt_token"
	"consentledger/internal/ledger/signer"
	"consentledger/internal/platform/config"
	id "consentledger/pkg/domain"
)

type tokenOutput struct {
	Token     string `json:"token"`
	Type      string `json:"type"`
	Subject   string `json:"subject"`
	JTI       string `json:"jti"`
	ExpiresIn string `json:"expires_in"`
}

func main() {
	defaults := config.Default()

	flags := pflag.NewFlagSet("tokengen", pflag.ExitOnError)
	address := flags.String("address", "", "chain address to use as subject")
	seed := flags.String("seed", "", "hex ed25519 seed; the subject is its address")
	key := flags.String("key", defaults.Auth.JWTSigningKey, "HMAC signing key (JWT_SIGNING_KEY)")
	issuer := flags.String("issuer", defaults.Auth.Issuer, "token issuer")
	audience := flags.String("audience", defaults.Auth.Audience, "token audience")
	ttl := flags.Duration("ttl", defaults.Auth.TokenTTL, "token time-to-live")
	env := flags.String("env", "", "environment annotation carried in the token")
	asJSON := flags.Bool("json", false, "print JSON instead of the bare token")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tokengen (--address ADDR | --seed HEX) [flags]\n\n%s", flags.FlagUsages())
	}
	_ = flags.Parse(os.Args[1:])

	subject, err := resolveSubject(*address, *seed)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tokengen:", err)
		flags.Usage()
		os.Exit(2)
	}

	out, err := issue(subject, *key, *issuer, *audience, *env, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tokengen:", err)
		os.Exit(1)
	}

	if !*asJSON {
		fmt.Println(out.Token)
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintln(os.Stderr, "tokengen:", err)
		os.Exit(1)
	}
}

func resolveSubject(address, seed string) (id.Address, error) {
	switch {
	case address != "" && seed != "":
		return "", fmt.Errorf("use either --address or --seed")
	case address != "":
		return id.ParseAddress(address)
	case seed != "":
		return signer.NewKeyring().AddSeed(seed)
	default:
		return "", fmt.Errorf("a subject is required")
	}
}

func issue(subject id.Address, key, issuer, audience, env string, ttl time.Duration) (tokenOutput, error) {
	svc := jwttoken.NewJWTService(key, issuer, audience, ttl)
	if env != "" {
		svc.SetEnv(env)
	}
	token, jti, err := svc.GenerateAccessToken(context.Background(), subject)
	if err != nil {
		return tokenOutput{}, err
	}
	return tokenOutput{
		Token:     token,
		Type:      "Bearer",
		Subject:   subject.String(),
		JTI:       jti,
		ExpiresIn: ttl.String(),
	}, nil
}
