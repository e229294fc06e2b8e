package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/avickers/a11ypipe/internal/config"
)

func testRoutes() config.Routes {
	return config.Routes{
		DefaultProvider: "primary",
		Providers: []config.ProviderEntry{
			{ID: "internal", Type: "log", Patterns: []string{
				"ops@a11ypipe.dev",
				"*@a11ypipe.dev",
				"*@*.a11ypipe.dev",
			}},
			{ID: "enterprise", Type: "smtp", Patterns: []string{
				"*-reports@bigcorp.com",
				"*@bigcorp.com",
			}},
			{ID: "primary", Type: "smtp"},
		},
	}
}

func TestRouteExactMatch(t *testing.T) {
	r := NewRouter(testRoutes())
	assert.Equal(t, "internal", r.Route("ops@a11ypipe.dev"))
}

func TestRouteDomainWildcard(t *testing.T) {
	r := NewRouter(testRoutes())
	assert.Equal(t, "internal", r.Route("anyone@a11ypipe.dev"))
	assert.Equal(t, "enterprise", r.Route("someone@bigcorp.com"))
}

func TestRouteSubdomainWildcard(t *testing.T) {
	r := NewRouter(testRoutes())
	assert.Equal(t, "internal", r.Route("dev@staging.a11ypipe.dev"))
	// Nested subdomains match too.
	assert.Equal(t, "internal", r.Route("dev@eu.staging.a11ypipe.dev"))
	// The bare domain is not a subdomain of itself; it matches the earlier
	// *@a11ypipe.dev pattern instead.
	assert.Equal(t, "internal", r.Route("dev@a11ypipe.dev"))
}

func TestRouteSubdomainWildcardDoesNotMatchBareDomain(t *testing.T) {
	r := NewRouter(config.Routes{
		DefaultProvider: "fallback",
		Providers: []config.ProviderEntry{
			{ID: "subs", Type: "log", Patterns: []string{"*@*.example.com"}},
			{ID: "fallback", Type: "log"},
		},
	})
	assert.Equal(t, "subs", r.Route("a@mail.example.com"))
	assert.Equal(t, "fallback", r.Route("a@example.com"))
	assert.Equal(t, "fallback", r.Route("a@notexample.com"))
}

func TestRouteLocalSuffixWildcard(t *testing.T) {
	r := NewRouter(testRoutes())
	assert.Equal(t, "enterprise", r.Route("weekly-reports@bigcorp.com"))
	// Suffix pattern binds only to its own domain.
	assert.Equal(t, "primary", r.Route("weekly-reports@other.com"))
}

func TestRouteCaseInsensitive(t *testing.T) {
	r := NewRouter(testRoutes())
	assert.Equal(t, "internal", r.Route("OPS@A11YPIPE.DEV"))
	assert.Equal(t, "enterprise", r.Route("Weekly-Reports@BigCorp.COM"))
}

func TestRouteFirstMatchWinsAcrossProviders(t *testing.T) {
	// Both providers claim the same domain; declared order decides.
	r := NewRouter(config.Routes{
		DefaultProvider: "second",
		Providers: []config.ProviderEntry{
			{ID: "first", Type: "log", Patterns: []string{"*@shared.com"}},
			{ID: "second", Type: "log", Patterns: []string{"*@shared.com"}},
		},
	})
	assert.Equal(t, "first", r.Route("user@shared.com"))
}

func TestRouteNoMatchUsesDefault(t *testing.T) {
	r := NewRouter(testRoutes())
	assert.Equal(t, "primary", r.Route("stranger@gmail.com"))
}

func TestRouteMalformedAddressUsesDefault(t *testing.T) {
	r := NewRouter(testRoutes())
	assert.Equal(t, "primary", r.Route("not-an-address"))
	assert.Equal(t, "primary", r.Route(""))
}

func TestRoutesValidateRejectsMissingDefault(t *testing.T) {
	routes := config.Routes{
		DefaultProvider: "ghost",
		Providers:       []config.ProviderEntry{{ID: "real", Type: "log"}},
	}
	assert.Error(t, routes.Validate())
}

func TestRoutesValidateRejectsUnknownType(t *testing.T) {
	routes := config.Routes{
		DefaultProvider: "p",
		Providers:       []config.ProviderEntry{{ID: "p", Type: "carrier-pigeon"}},
	}
	assert.Error(t, routes.Validate())
}
