// Package discovery resolves raw source identifiers into canonical targets
// before a provider is triggered.
package discovery

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/insights-collector/internal/collector"
)

var asinPattern = regexp.MustCompile(`(?i)^B0[A-Z0-9]{8}$`)

// amazonDomains maps ISO country codes to Amazon storefront suffixes.
var amazonDomains = map[string]string{
	"us": "com",
	"uk": "co.uk",
	"gb": "co.uk",
	"de": "de",
	"es": "es",
	"fr": "fr",
	"it": "it",
	"ca": "ca",
	"mx": "com.mx",
	"jp": "co.jp",
	"br": "com.br",
	"in": "in",
	"nl": "nl",
	"se": "se",
	"pl": "pl",
	"au": "com.au",
}

// Amazon turns product URLs and ASINs into product page URLs on the
// storefront of the source's first country.
type Amazon struct {
	logger *zap.Logger
}

var _ collector.Discoverer = (*Amazon)(nil)

// NewAmazon builds the discoverer.
func NewAmazon(logger *zap.Logger) *Amazon {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Amazon{logger: logger.Named("discovery.amazon")}
}

// Discover never fails; unrecognised identifiers are logged and dropped.
func (a *Amazon) Discover(_ context.Context, source collector.SourceConfig) ([]string, error) {
	urls, asins := a.split(append(append([]string(nil), source.URLs...), source.Identifiers...))
	domain := a.domainFor(source.Countries)

	targets := make([]string, 0, len(urls)+len(asins))
	seen := make(map[string]struct{}, cap(targets))
	add := func(target string) {
		if _, ok := seen[target]; ok {
			return
		}
		seen[target] = struct{}{}
		targets = append(targets, target)
	}
	for _, u := range urls {
		add(u)
	}
	for _, asin := range asins {
		add("https://www.amazon." + domain + "/dp/" + asin)
	}
	return targets, nil
}

// split separates comma-delimited identifiers into URLs and upper-cased ASINs.
func (a *Amazon) split(raw []string) (urls, asins []string) {
	for _, entry := range raw {
		for _, id := range strings.Split(entry, ",") {
			id = strings.TrimSpace(id)
			switch {
			case id == "":
			case asinPattern.MatchString(id):
				asins = append(asins, strings.ToUpper(id))
			case looksLikeURL(id):
				urls = append(urls, id)
			default:
				a.logger.Warn("identifier is not a url or asin, ignoring", zap.String("identifier", id))
			}
		}
	}
	return urls, asins
}

func (a *Amazon) domainFor(countries []string) string {
	if len(countries) == 0 {
		return "com"
	}
	country := strings.ToLower(strings.TrimSpace(countries[0]))
	if domain, ok := amazonDomains[country]; ok {
		return domain
	}
	a.logger.Warn("unsupported amazon country, defaulting to .com", zap.String("country", country))
	return "com"
}

func looksLikeURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
