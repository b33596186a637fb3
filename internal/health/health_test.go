package health

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_AllHealthy(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	hc := NewHealthChecker(Options{
		SMTPAddr:       ln.Addr().String(),
		Redis:          client,
		DirectoryReady: func() bool { return true },
	})

	results, healthy := hc.CheckHealth()
	assert.True(t, healthy)
	assert.Equal(t, "OK", results["smtp"])
	assert.Equal(t, "OK", results["redis"])
	assert.Equal(t, "OK", results["directory"])
	assert.NotEmpty(t, results["timestamp"])

	w := httptest.NewRecorder()
	hc.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	hc.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthChecker_Unhealthy(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	hc := NewHealthChecker(Options{
		Redis:          client,
		DirectoryReady: func() bool { return false },
	})

	results, healthy := hc.CheckHealth()
	assert.False(t, healthy)
	assert.Contains(t, results["redis"], "ERROR")
	assert.Contains(t, results["directory"], ErrDirectoryUnavailable.Error())

	w := httptest.NewRecorder()
	hc.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	// 存活探针不依赖外部组件
	w = httptest.NewRecorder()
	hc.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
