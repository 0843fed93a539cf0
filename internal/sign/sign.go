// Package sign creates and checks detached ed25519 signatures for plugin
// distributions. The signature covers the SHA-256 digest of the archive and
// is stored base64-encoded next to it as <archive>.sig.
package sign

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Key file names written by GenerateKey.
const (
	PrivateKeyFile = "signing-key.pem"
	PublicKeyFile  = "signing-key.pub.pem"
	SignatureExt   = ".sig"
)

var (
	ErrBadKey       = errors.New("not an ed25519 PEM key")
	ErrBadSignature = errors.New("signature does not match")
)

// GenerateKey writes a new key pair into dir and returns both paths.
// Existing keys are never overwritten.
func GenerateKey(dir string) (string, string, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", err
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", "", err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", "", err
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", "", err
	}

	privPath := filepath.Join(dir, PrivateKeyFile)
	pubPath := filepath.Join(dir, PublicKeyFile)
	if err := writeExclusive(privPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}), 0600); err != nil {
		return "", "", err
	}
	if err := writeExclusive(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0644); err != nil {
		return "", "", err
	}

	return privPath, pubPath, nil
}

// Sign writes <artifact>.sig and returns its path.
func Sign(artifact, privateKeyPath string) (string, error) {
	key, err := loadPrivateKey(privateKeyPath)
	if err != nil {
		return "", err
	}

	digest, err := digestFile(artifact)
	if err != nil {
		return "", err
	}

	sig := ed25519.Sign(key, digest)
	sigPath := artifact + SignatureExt
	if err := os.WriteFile(sigPath, []byte(base64.StdEncoding.EncodeToString(sig)+"\n"), 0644); err != nil {
		return "", err
	}
	return sigPath, nil
}

// Verify checks a detached signature against the artifact.
func Verify(artifact, sigPath, publicKeyPath string) error {
	key, err := loadPublicKey(publicKeyPath)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(sigPath)
	if err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return fmt.Errorf("%w: %s is not base64", ErrBadSignature, sigPath)
	}

	digest, err := digestFile(artifact)
	if err != nil {
		return err
	}

	if !ed25519.Verify(key, digest, sig) {
		return fmt.Errorf("%w: %s", ErrBadSignature, filepath.Base(artifact))
	}
	return nil
}

func digestFile(p string) ([]byte, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

func readPEM(p, blockType string) ([]byte, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != blockType {
		return nil, fmt.Errorf("%w: %s", ErrBadKey, p)
	}
	return block.Bytes, nil
}

func loadPrivateKey(p string) (ed25519.PrivateKey, error) {
	der, err := readPEM(p, "PRIVATE KEY")
	if err != nil {
		return nil, err
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBadKey, p, err)
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBadKey, p)
	}
	return key, nil
}

func loadPublicKey(p string) (ed25519.PublicKey, error) {
	der, err := readPEM(p, "PUBLIC KEY")
	if err != nil {
		return nil, err
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBadKey, p, err)
	}
	key, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBadKey, p)
	}
	return key, nil
}

func writeExclusive(p string, data []byte, mode os.FileMode) error {
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
