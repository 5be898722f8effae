package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandlerExposesMetrics(t *testing.T) {
	assert := assert.New(t)
	RuleMatches.WithLabelValues("group").Inc()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if !assert.NoError(err) {
		return
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.True(strings.Contains(string(body), `groupguard_rule_matches_total{scope="group"}`), "rule match counter missing")

	resp, err = http.Get(srv.URL + "/healthz")
	if !assert.NoError(err) {
		return
	}
	resp.Body.Close()
	assert.Equal(http.StatusOK, resp.StatusCode)
}
