package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gregtusar/tradecore/pkg/models"
	"github.com/gregtusar/tradecore/pkg/portfolio"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *portfolio.Manager, *Metrics) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	pm := portfolio.NewManager()
	srv := httptest.NewServer(NewServer(pm, reg, logger, "").Handler())
	t.Cleanup(srv.Close)
	return srv, pm, metrics
}

func get(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestEndpoints(t *testing.T) {
	srv, pm, _ := newTestServer(t)
	ctx := context.Background()

	pm.OnAssetUpdate(ctx, models.Asset{
		Platform: "sim", Account: "a",
		Assets: map[string]models.Balance{"USDT": models.NewBalance(decimal.NewFromInt(10), decimal.Zero)},
	})
	pm.OnOrderUpdate(ctx, models.Order{Platform: "sim", Account: "a", Symbol: "BTC/USDT", OrderNo: "sim-1", Status: models.OrderStatusSubmitted})
	pm.OnFillUpdate(ctx, models.Fill{Platform: "sim", Account: "a", Symbol: "BTC/USDT", OrderNo: "sim-1", FillNo: "sim-1-1"})

	var health map[string]any
	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/api/health", &health))
	assert.Equal(t, "healthy", health["status"])

	var asset models.Asset
	require.Equal(t, http.StatusOK, get(t, srv.URL+"/api/assets?platform=sim&account=a", &asset))
	assert.True(t, asset.Get("USDT").Free.Equal(decimal.NewFromInt(10)))

	var assets []models.Asset
	require.Equal(t, http.StatusOK, get(t, srv.URL+"/api/assets", &assets))
	assert.Len(t, assets, 1)

	var orders []models.Order
	require.Equal(t, http.StatusOK, get(t, srv.URL+"/api/orders?platform=sim&account=a&symbol=BTC/USDT", &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, "sim-1", orders[0].OrderNo)

	assert.Equal(t, http.StatusNotFound, get(t, srv.URL+"/api/orders?platform=sim&account=a&symbol=BTC/USDT&order_no=nope", nil))

	var fills []models.Fill
	require.Equal(t, http.StatusOK, get(t, srv.URL+"/api/fills?platform=sim&account=a&symbol=BTC/USDT&order_no=sim-1", &fills))
	assert.Len(t, fills, 1)

	var positions []models.Position
	require.Equal(t, http.StatusOK, get(t, srv.URL+"/api/positions", &positions))
	assert.Empty(t, positions)

	resp, err := http.Post(srv.URL+"/api/orders", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMetrics(t *testing.T) {
	srv, _, m := newTestServer(t)
	ctx := context.Background()

	m.OnKlineUpdate(ctx, models.Kline{Platform: "sim"})
	m.OnKlineUpdate(ctx, models.Kline{Platform: "sim"})
	m.OnStateUpdate(ctx, models.State{Platform: "sim", Code: models.StateReady})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("kline", "sim")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.states.WithLabelValues("sim", "READY")))

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `tradecore_callback_events_total{kind="kline",platform="sim"} 2`)

	_, err = NewMetrics(prometheus.NewRegistry())
	assert.NoError(t, err)
}
