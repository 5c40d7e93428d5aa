package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdentityStableWithinBudget(t *testing.T) {
	t.Parallel()

	r := New(Config{RotateAfter: 5}, 7, nil)
	first := r.IdentityFor("example.com")
	for i := 0; i < 4; i++ {
		require.Equal(t, first, r.IdentityFor("example.com"))
	}
}

func TestRotatesAfterBudgetSpent(t *testing.T) {
	t.Parallel()

	r := New(Config{
		UserAgents:  []string{"ua-one", "ua-two"},
		RotateAfter: 2,
	}, 7, nil)
	r.IdentityFor("example.com")
	r.IdentityFor("example.com")
	require.Equal(t, 2, r.leases["example.com"].uses)

	rotated := r.IdentityFor("example.com")
	require.Equal(t, 1, r.leases["example.com"].uses)
	require.Equal(t, rotated, r.IdentityFor("example.com"), "fresh lease must be reused")
}

func TestForceRotateAvoidsBurnedUserAgent(t *testing.T) {
	t.Parallel()

	r := New(Config{
		UserAgents:  []string{"ua-one", "ua-two"},
		RotateAfter: 100,
	}, 7, nil)
	burned := r.IdentityFor("example.com")
	r.ForceRotate("example.com")

	next := r.IdentityFor("example.com")
	require.NotEqual(t, burned.UserAgent, next.UserAgent)
}

func TestForceRotateAvoidsBurnedProxy(t *testing.T) {
	t.Parallel()

	r := New(Config{
		UserAgents:  []string{"ua-one", "ua-two"},
		Proxies:     []string{"http://p1:8080", "http://p2:8080"},
		RotateAfter: 100,
	}, 7, nil)
	burned := r.IdentityFor("example.com")
	r.ForceRotate("example.com")

	next := r.IdentityFor("example.com")
	require.NotEqual(t, burned.Proxy, next.Proxy)
}

func TestProxiesAssignedRoundRobin(t *testing.T) {
	t.Parallel()

	r := New(Config{
		Proxies:     []string{"http://p1:8080", "http://p2:8080"},
		RotateAfter: 1,
	}, 7, nil)
	first := r.IdentityFor("a.com")
	second := r.IdentityFor("b.com")
	require.NotEqual(t, first.Proxy, second.Proxy)
}

func TestRemoveProxyShrinksPool(t *testing.T) {
	t.Parallel()

	r := New(Config{
		Proxies:     []string{"http://p1:8080"},
		RotateAfter: 1,
	}, 7, nil)
	require.Equal(t, "http://p1:8080", r.IdentityFor("a.com").Proxy)

	r.RemoveProxy("http://p1:8080")
	require.Empty(t, r.IdentityFor("b.com").Proxy)
}

func TestAddProxyDeduplicates(t *testing.T) {
	t.Parallel()

	r := New(Config{RotateAfter: 1}, 7, nil)
	r.AddProxy("http://p1:8080")
	r.AddProxy("http://p1:8080")
	require.Len(t, r.cfg.Proxies, 1)
}

func TestDefaultPoolsApplied(t *testing.T) {
	t.Parallel()

	r := New(Config{}, 7, nil)
	id := r.IdentityFor("example.com")
	require.NotEmpty(t, id.UserAgent)
	require.Equal(t, id.UserAgent, id.Headers.Get("User-Agent"))
	require.NotEmpty(t, id.Headers.Get("Accept-Language"))
	require.Positive(t, id.Viewport.Width)
	require.Positive(t, id.Viewport.Height)
}
