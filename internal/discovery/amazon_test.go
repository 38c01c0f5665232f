package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/insights-collector/internal/collector"
)

func TestAmazonDiscoverMixesURLsAndASINs(t *testing.T) {
	t.Parallel()

	a := NewAmazon(nil)
	targets, err := a.Discover(context.Background(), collector.SourceConfig{
		Type:        collector.SourceAmazon,
		Identifiers: []string{"b0abcdefgh, https://www.amazon.de/dp/B0ZZZZZZZZ", "B0ABCDEFGH"},
		Countries:   []string{"DE"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://www.amazon.de/dp/B0ZZZZZZZZ",
		"https://www.amazon.de/dp/B0ABCDEFGH",
	}, targets)
}

func TestAmazonDomainMapping(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"uk": "https://www.amazon.co.uk/dp/B012345678",
		"gb": "https://www.amazon.co.uk/dp/B012345678",
		"jp": "https://www.amazon.co.jp/dp/B012345678",
		"mx": "https://www.amazon.com.mx/dp/B012345678",
		"au": "https://www.amazon.com.au/dp/B012345678",
		"us": "https://www.amazon.com/dp/B012345678",
	}
	for country, want := range cases {
		targets, err := NewAmazon(nil).Discover(context.Background(), collector.SourceConfig{
			Identifiers: []string{"B012345678"},
			Countries:   []string{country},
		})
		require.NoError(t, err)
		require.Equal(t, []string{want}, targets, country)
	}
}

func TestAmazonUnknownCountryAndJunkAreLogged(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	a := NewAmazon(zap.New(core))
	targets, err := a.Discover(context.Background(), collector.SourceConfig{
		Identifiers: []string{"not-an-asin", "B0SHORT", "B012345678"},
		Countries:   []string{"zz"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"https://www.amazon.com/dp/B012345678"}, targets)
	require.Equal(t, 2, logs.FilterMessage("identifier is not a url or asin, ignoring").Len())
	require.Equal(t, 1, logs.FilterMessage("unsupported amazon country, defaulting to .com").Len())
}

func TestAmazonNothingValidYieldsNoTargets(t *testing.T) {
	t.Parallel()

	targets, err := NewAmazon(nil).Discover(context.Background(), collector.SourceConfig{
		Identifiers: []string{"", "  ,  ", "acme"},
	})
	require.NoError(t, err)
	require.Empty(t, targets)
}
