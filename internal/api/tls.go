package api

import (
	"crypto/tls"
	"fmt"
)

// TLSOptions names the key pair the API serves with.
type TLSOptions struct {
	CertFile string
	KeyFile  string
	// MinVersion defaults to TLS 1.2.
	MinVersion uint16
}

// LoadTLS reads the key pair and builds the server's tls.Config.
func LoadTLS(opts TLSOptions) (*tls.Config, error) {
	if opts.CertFile == "" || opts.KeyFile == "" {
		return nil, fmt.Errorf("tls: cert and key are both required")
	}
	cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("tls: load key pair: %w", err)
	}
	floor := opts.MinVersion
	if floor == 0 {
		floor = tls.VersionTLS12
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   floor,
	}, nil
}

// EnableTLS makes ListenAndServe serve HTTPS. A key pair that does not load
// is an error at startup rather than a silent fallback to plain HTTP.
func (s *Server) EnableTLS(opts TLSOptions) error {
	cfg, err := LoadTLS(opts)
	if err != nil {
		return err
	}
	s.http.TLSConfig = cfg
	return nil
}

// TLSEnabled reports whether EnableTLS succeeded.
func (s *Server) TLSEnabled() bool {
	return s.http.TLSConfig != nil
}
