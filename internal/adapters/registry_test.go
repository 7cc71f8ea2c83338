package adapters

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/coachpo/venuelink/errs"
	"github.com/coachpo/venuelink/internal/adapters/cexio"
	"github.com/coachpo/venuelink/internal/adapters/htx"
	"github.com/coachpo/venuelink/internal/schema"
)

func settingsFor(t *testing.T, exchange string) Settings {
	return Settings{
		Group:      schema.ConnectorGroup{Name: "BTC"},
		Connector:  schema.ConnectorConfiguration{Exchange: exchange, QuoteAsset: "USDT"},
		Credential: schema.Credential{Key: "key", Secret: "secret"},
		Logger:     zaptest.NewLogger(t),
	}
}

func TestNewPublicConnectorSelectsByExchange(t *testing.T) {
	for _, name := range []string{"cexio", "CEX.IO", "cex-io"} {
		connector, err := NewPublicConnector(settingsFor(t, name))
		require.NoError(t, err, name)
		require.IsType(t, &cexio.PublicConnector{}, connector)
		require.Equal(t, "cexio-BTC-USDT", connector.Symbol())
	}

	connector, err := NewPublicConnector(settingsFor(t, " HTX "))
	require.NoError(t, err)
	require.IsType(t, &htx.Connector{}, connector)
	require.Equal(t, "htx-BTC-USDT", connector.Symbol())
}

func TestNewPrivateConnectorSelectsByExchange(t *testing.T) {
	connector, err := NewPrivateConnector(settingsFor(t, "CexIo"))
	require.NoError(t, err)
	require.IsType(t, &cexio.Connector{}, connector)
	require.False(t, connector.Authenticated())
}

func TestUnsupportedExchanges(t *testing.T) {
	_, err := NewPublicConnector(settingsFor(t, "kraken"))
	require.True(t, errs.Is(err, errs.CodeInvalid))
	require.Equal(t, errs.CanonicalUnsupportedExchange, errs.CanonicalOf(err))

	_, err = NewPrivateConnector(settingsFor(t, "htx"))
	require.True(t, errs.Is(err, errs.CodeInvalid))
	require.Equal(t, errs.CanonicalUnsupportedExchange, errs.CanonicalOf(err))
}

func TestPrivateConnectorNeedsCredential(t *testing.T) {
	settings := settingsFor(t, "cexio")
	settings.Credential = schema.Credential{}
	_, err := NewPrivateConnector(settings)
	require.Equal(t, errs.CanonicalMissingCredentials, errs.CanonicalOf(err))
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	require.Empty(t, reg.Exchanges())
	require.Panics(t, func() { reg.RegisterPublic("x", nil) })

	RegisterAll(reg)
	require.Equal(t, []string{cexio.Exchange, htx.Exchange}, reg.Exchanges())
	RegisterAll(nil)
}
