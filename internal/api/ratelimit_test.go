package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_Allow(t *testing.T) {
	t.Run("burst is honored then exhausted", func(t *testing.T) {
		// Arrange - 1 rps with a burst of 2
		rl := NewRateLimiter(1, 2)

		// Act / Assert
		assert.True(t, rl.Allow("10.0.0.1"))
		assert.True(t, rl.Allow("10.0.0.1"))
		assert.False(t, rl.Allow("10.0.0.1"), "third request inside the same instant")
	})

	t.Run("clients have independent budgets", func(t *testing.T) {
		// Arrange
		rl := NewRateLimiter(1, 1)

		// Act / Assert
		assert.True(t, rl.Allow("10.0.0.1"))
		assert.False(t, rl.Allow("10.0.0.1"))
		assert.True(t, rl.Allow("10.0.0.2"), "second client unaffected")
	})
}

func TestRateLimiter_Middleware(t *testing.T) {
	t.Run("over-budget client gets 429", func(t *testing.T) {
		// Arrange
		ResetMetricsForTesting()
		rl := NewRateLimiter(1, 1)
		handler := rl.Middleware(NewMetrics())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		request := func() int {
			r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			r.RemoteAddr = "10.1.1.1:40000"
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)
			return w.Code
		}

		// Act / Assert
		assert.Equal(t, http.StatusOK, request())
		assert.Equal(t, http.StatusTooManyRequests, request())
	})
}

func TestClientKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.168.1.5:51234"
	assert.Equal(t, "192.168.1.5", clientKey(r))

	r.RemoteAddr = "unix-socket"
	assert.Equal(t, "unix-socket", clientKey(r))
}
