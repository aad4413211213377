package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// gatherFamily returns the named metric family from the default registry.
func gatherFamily(t *testing.T, name string) *dto.MetricFamily {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	router := gin.New()
	router.Use(Middleware())
	router.GET("/things/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/things/42", nil))

	mf := gatherFamily(t, "cadogy_http_requests_total")
	if mf == nil {
		t.Fatal("cadogy_http_requests_total not registered")
	}

	// The label must be the route pattern, not the concrete URL.
	found := false
	for _, m := range mf.GetMetric() {
		var path, status string
		for _, l := range m.GetLabel() {
			switch l.GetName() {
			case "path":
				path = l.GetValue()
			case "status":
				status = l.GetValue()
			}
		}
		if path == "/things/:id" && status == "200" {
			found = true
			if m.GetCounter().GetValue() < 1 {
				t.Error("counter not incremented")
			}
		}
		if strings.Contains(path, "/things/42") {
			t.Errorf("metric labeled with concrete path %q", path)
		}
	}
	if !found {
		t.Error("no sample for GET /things/:id with status 200")
	}
}

func TestLedgerCountersRegistered(t *testing.T) {
	LedgerOperationsTotal.WithLabelValues("add", "success").Inc()
	LedgerCASRetriesTotal.Inc()

	for _, name := range []string{
		"cadogy_ledger_operations_total",
		"cadogy_ledger_cas_retries_total",
		"cadogy_ledger_append_failures_total",
		"cadogy_webhook_events_total",
		"cadogy_active_websocket_clients",
	} {
		if gatherFamily(t, name) == nil {
			// Counter vecs with no samples yet are absent from Gather; poke them.
			switch name {
			case "cadogy_webhook_events_total":
				WebhookEventsTotal.WithLabelValues("credited").Add(0)
			case "cadogy_ledger_append_failures_total":
				LedgerAppendFailuresTotal.Add(0)
			case "cadogy_active_websocket_clients":
				ActiveWebSocketClients.Set(0)
			}
			if gatherFamily(t, name) == nil {
				t.Errorf("%s not registered", name)
			}
		}
	}
}

func TestHandlerServesExposition(t *testing.T) {
	router := gin.New()
	router.GET("/metrics", Handler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "cadogy_") {
		t.Error("exposition output missing service metrics")
	}
}
