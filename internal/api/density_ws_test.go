package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitopt/internal/model"
)

func TestDensityStream(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler(HTTPOptions{}))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/density/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var snap struct {
		Type string
		Data struct{ Readings []model.DensityReading }
	}
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, "density.snapshot", snap.Type)
	require.Len(t, snap.Data.Readings, 3)
	assert.Equal(t, 100.0, snap.Data.Readings[1].Density)

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/v1/stops/1/density", strings.NewReader(`{"value":55}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var upd struct {
		Type string
		Data struct{ Readings []model.DensityReading }
	}
	require.NoError(t, conn.ReadJSON(&upd))
	assert.Equal(t, "density.updated", upd.Type)
	require.Len(t, upd.Data.Readings, 1)
	assert.Equal(t, model.StopID(1), upd.Data.Readings[0].StopID)
	assert.Equal(t, 55.0, upd.Data.Readings[0].Density)
}
