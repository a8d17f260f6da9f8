// Package tls builds the HTTP API's TLS configuration, optionally
// generating a self-signed certificate on first start.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gameward/gameward/internal/config"
)

const (
	defaultCertFile = "tls/tls.crt"
	defaultKeyFile  = "tls/tls.key"
)

// Setup returns a *tls.Config for the API listener, or nil when TLS is
// disabled. With AutoCert set, missing certificate files are generated
// self-signed.
func Setup(cfg *config.TLSConfig) (*tls.Config, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	certFile := cfg.CertFile
	keyFile := cfg.KeyFile
	if certFile == "" && keyFile == "" {
		certFile = defaultCertFile
		keyFile = defaultKeyFile
	}
	if certFile == "" || keyFile == "" {
		return nil, errors.New("tls: cert_file and key_file must both be set")
	}

	if cfg.AutoCert && !certificatesExist(certFile, keyFile) {
		if err := os.MkdirAll(filepath.Dir(certFile), 0o755); err != nil {
			return nil, fmt.Errorf("tls: create certificate dir: %w", err)
		}
		err := GenerateSelfSignedCert(CertConfig{
			CommonName:   "localhost",
			Organization: "gameward",
			DNSNames:     []string{"localhost"},
			IPAddresses:  []string{"127.0.0.1"},
			NotAfter:     time.Now().AddDate(5, 0, 0),
			CertPath:     certFile,
			KeyPath:      keyFile,
		})
		if err != nil {
			return nil, fmt.Errorf("tls: certificate generation failed: %w", err)
		}
	}

	return &tls.Config{
		GetCertificate: certificateFunc(certFile, keyFile),
		MinVersion:     tls.VersionTLS13,
	}, nil
}

// certificateFunc loads the pair on each handshake so rotated files are
// picked up without a restart.
func certificateFunc(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(certFile)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		certPEM, err := safeReadFile(baseDir, certFile)
		if err != nil {
			return nil, err
		}
		keyPEM, err := safeReadFile(baseDir, keyFile)
		if err != nil {
			return nil, err
		}
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		return &cert, err
	}
}

// safeReadFile reads p only when it stays inside baseDir.
func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) && absFile != absBase {
			return nil, errors.New("file path outside of allowed directory")
		}
	}
	return os.ReadFile(clean)
}

func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}
