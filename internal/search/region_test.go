package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func regionServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, cartPath, r.URL.Path)
		cookie, err := r.Cookie("global_sid")
		require.NoError(t, err)
		require.Equal(t, "sid-123", cookie.Value)
		require.NotEmpty(t, r.Header.Get("client-route-id"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRegionResolverParsesCartPayload(t *testing.T) {
	t.Parallel()

	body := `{
		"regionId": "R1",
		"defaultCheckoutGroup": {
			"delivery": {
				"addressDetails": {
					"nickname": "Home",
					"displayAddress": "1 Main St, Toronto",
					"postalCode": "M5V 1A1"
				}
			}
		}
	}`
	srv := regionServer(t, http.StatusOK, body)
	resolver := NewRegionResolver(RegionResolverConfig{BaseURL: srv.URL}, nil)

	result := resolver.Resolve(context.Background(), "sid-123")

	require.True(t, result.Resolved())
	require.Equal(t, "R1", result.Region.RegionID)
	require.Equal(t, "Home", result.Region.Nickname)
	require.Equal(t, "1 Main St, Toronto", result.Region.DisplayAddress)
	require.Equal(t, "M5V 1A1", result.Region.PostalCode)
}

func TestRegionResolverSynthesizesNickname(t *testing.T) {
	t.Parallel()

	srv := regionServer(t, http.StatusOK, `{"regionId": "R1"}`)
	resolver := NewRegionResolver(RegionResolverConfig{BaseURL: srv.URL}, nil)

	result := resolver.Resolve(context.Background(), "sid-123")

	require.True(t, result.Resolved())
	require.Equal(t, "Region R1", result.Region.Nickname)
}

func TestRegionResolverSalvagesNon200Body(t *testing.T) {
	t.Parallel()

	body := `<html>error page "regionId":"R2" and "nickname":"Foo" trailing</html>`
	srv := regionServer(t, http.StatusForbidden, body)
	resolver := NewRegionResolver(RegionResolverConfig{BaseURL: srv.URL}, nil)

	result := resolver.Resolve(context.Background(), "sid-123")

	require.True(t, result.Resolved())
	require.Equal(t, "R2", result.Region.RegionID)
	require.Equal(t, "Foo", result.Region.Nickname)
}

func TestRegionResolverUnknownWhenNothingSalvageable(t *testing.T) {
	t.Parallel()

	srv := regionServer(t, http.StatusBadGateway, "upstream unavailable")
	resolver := NewRegionResolver(RegionResolverConfig{BaseURL: srv.URL}, nil)

	result := resolver.Resolve(context.Background(), "sid-123")

	require.False(t, result.Resolved())
	require.NotNil(t, result.Failure)
	require.Equal(t, RegionFailureUnknown, result.Failure.Reason)
	require.Equal(t, "Could not determine region", result.Failure.Detail)

	info := result.Info()
	require.Equal(t, "Unknown", info.Nickname)
	require.Equal(t, "Could not determine region", info.DisplayAddress)
}

func TestRegionResolverTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	resolver := NewRegionResolver(RegionResolverConfig{
		BaseURL: srv.URL,
		Timeout: 50 * time.Millisecond,
	}, nil)

	result := resolver.Resolve(context.Background(), "sid-123")

	require.False(t, result.Resolved())
	require.NotNil(t, result.Failure)
	require.Equal(t, RegionFailureTimeout, result.Failure.Reason)
	require.Equal(t, "API request timed out", result.Failure.Detail)
	require.Equal(t, "Timeout", result.Info().Nickname)
}

func TestRegionResolverTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	resolver := NewRegionResolver(RegionResolverConfig{BaseURL: srv.URL}, nil)
	result := resolver.Resolve(context.Background(), "sid-123")

	require.False(t, result.Resolved())
	require.NotNil(t, result.Failure)
	require.Equal(t, RegionFailureTransport, result.Failure.Reason)
	require.NotEmpty(t, result.Failure.Detail)
	require.LessOrEqual(t, len(result.Failure.Detail), errDetailLimit)
	require.Equal(t, "Error", result.Info().Nickname)
}
