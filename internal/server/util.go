package server

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"

	"github.com/victorgomez09/jobguard/internal/config"
)

const TLSMinVersion = tls.VersionTLS12

// defaultCiphers is the TLS 1.2 suite list; TLS 1.3 suites are not configurable.
var defaultCiphers = []uint16{
	// ECDSA ciphers
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,

	// RSA ciphers
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
}

// listenAddr joins host and port. An empty host listens on every interface.
func listenAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// newTLSConfig loads the key pair when TLS is enabled. It returns nil for plain HTTP.
func newTLSConfig(cfg config.TLS) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
	}
	return &tls.Config{
		MinVersion:   TLSMinVersion,
		CipherSuites: defaultCiphers,
		Certificates: []tls.Certificate{cert},
	}, nil
}
