package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/goIdentity/jwt"
)

func newKeygenCmd() *cobra.Command {
	var (
		method string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signing key for IDENTITY_KEY_FILE",
		Long: "Generate a signing key. For ed25519 the private key is written as PKCS#8 PEM " +
			"and the public key PEM is printed for verify-only nodes. For hs256 a 32-byte " +
			"hex secret is written.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			priv, pub, err := generateKey(jwt.SigningMethod(method), rand.Reader)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, priv, 0o600); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s key to %s\n", method, out)
			if len(pub) > 0 {
				_, _ = cmd.OutOrStdout().Write(pub)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&method, "method", string(jwt.MethodEd25519), "ed25519 or hs256")
	cmd.Flags().StringVarP(&out, "out", "o", "signing.key", "private key destination")
	return cmd
}

// generateKey returns the private key file contents and, for ed25519, the
// public key PEM.
func generateKey(method jwt.SigningMethod, random io.Reader) (priv, pub []byte, err error) {
	switch method {
	case jwt.MethodEd25519:
		pk, sk, err := ed25519.GenerateKey(random)
		if err != nil {
			return nil, nil, err
		}
		der, err := x509.MarshalPKCS8PrivateKey(sk)
		if err != nil {
			return nil, nil, err
		}
		pubDER, err := x509.MarshalPKIXPublicKey(pk)
		if err != nil {
			return nil, nil, err
		}
		return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}),
			pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), nil
	case jwt.MethodHS256:
		secret := make([]byte, 32)
		if _, err := io.ReadFull(random, secret); err != nil {
			return nil, nil, err
		}
		return []byte(hex.EncodeToString(secret) + "\n"), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported signing method %q", method)
	}
}
