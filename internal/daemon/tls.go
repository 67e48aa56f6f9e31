package daemon

import (
	"crypto/tls"

	"github.com/meshagent/meshnode/internal/config"
	"github.com/meshagent/meshnode/internal/server"
)

// buildServerTLS adapts the node's own server TLS config into a *tls.Config,
// reusing server.LoadTLSConfig's mTLS rule (a CA file requires and verifies
// client certs).
func buildServerTLS(creds *config.TLSCredentials) (*tls.Config, error) {
	if creds == nil {
		return nil, nil
	}
	return server.LoadTLSConfig(creds.CertFile, creds.KeyFile, creds.CAFile)
}
