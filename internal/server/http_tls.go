package server

import (
	"crypto/tls"
	"fmt"
	"net/http"
)

// configureTLS sets up TLS configuration based on the mode
func (s *Server) configureTLS(httpServer *http.Server) error {
	addr := httpServer.Addr

	switch s.TLSConfig.Mode {
	case "server":
		fmt.Printf("Starting server with HTTPS on https://%s\n", addr)
		tlsConfig, err := s.buildTLSConfig()
		if err != nil {
			return fmt.Errorf("failed to set up TLS: %w", err)
		}
		httpServer.TLSConfig = tlsConfig
		return nil
	case "disabled", "":
		fmt.Printf("Starting server on http://%s\n", addr)
		fmt.Println("TLS mode: Disabled (HTTP only)")
		return nil
	default:
		return fmt.Errorf("invalid TLS mode: %s (must be 'disabled' or 'server')", s.TLSConfig.Mode)
	}
}

// buildTLSConfig loads the certificate and creates the TLS configuration.
// File-based certificates are reloaded when they change on disk.
func (s *Server) buildTLSConfig() (*tls.Config, error) {
	certs, err := NewCertReloader(s.TLSConfig, s.Logger)
	if err != nil {
		return nil, err
	}
	if err := certs.Watch(); err != nil {
		s.Logger.Warn("Certificate auto-reload disabled", "error", err.Error())
	}
	s.Certificates = certs

	return &tls.Config{
		MinVersion:     tlsVersion(s.TLSConfig.MinVersion),
		GetCertificate: certs.GetCertificate,
	}, nil
}

// tlsVersion parses a minimum TLS version, defaulting to TLS 1.2.
func tlsVersion(v string) uint16 {
	switch v {
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}
