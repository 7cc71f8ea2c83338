package schema

import (
	"fmt"
	"strings"
)

// ConnectorGroup names the base asset a connector trades.
type ConnectorGroup struct {
	Name string `json:"name" yaml:"name"`
}

// ConnectorConfiguration selects the exchange and endpoints a connector talks to.
type ConnectorConfiguration struct {
	Exchange      string `json:"exchange" yaml:"exchange"`
	ConnectorType string `json:"connectorType" yaml:"connectorType"`
	QuoteAsset    string `json:"quoteAsset" yaml:"quoteAsset"`
	WSAddress     string `json:"wsAddress,omitempty" yaml:"wsAddress"`
	WSPath        string `json:"wsPath,omitempty" yaml:"wsPath"`
	RestAddress   string `json:"restAddress,omitempty" yaml:"restAddress"`
}

// WSURL joins the websocket address and path, falling back to fallback when no address is set.
func (c ConnectorConfiguration) WSURL(fallback string) string {
	addr := strings.TrimSpace(c.WSAddress)
	if addr == "" {
		return fallback
	}
	if !strings.Contains(addr, "://") {
		addr = "wss://" + addr
	}
	path := strings.TrimSpace(c.WSPath)
	if path == "" {
		return addr
	}
	return strings.TrimSuffix(addr, "/") + "/" + strings.TrimPrefix(path, "/")
}

// Credential holds the API key pair used for signing.
type Credential struct {
	Key    string `json:"key" yaml:"key"`
	Secret string `json:"-" yaml:"secret"`
}

// Empty reports whether either half of the key pair is missing.
func (c Credential) Empty() bool {
	return strings.TrimSpace(c.Key) == "" || strings.TrimSpace(c.Secret) == ""
}

// String redacts the secret.
func (c Credential) String() string {
	return fmt.Sprintf("Credential{Key:%s Secret:<redacted>}", c.Key)
}

// GoString redacts the secret for %#v.
func (c Credential) GoString() string { return c.String() }
