package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := Registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestCountersExposed(t *testing.T) {
	labels := map[string]string{"category": "dip_sop"}
	before := counterValue(t, "sopdesk_documents_uploaded_total", labels)
	DocumentsUploaded.WithLabelValues("dip_sop").Inc()
	assert.Equal(t, before+1, counterValue(t, "sopdesk_documents_uploaded_total", labels))

	LoginAttempts.WithLabelValues("success").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "sopdesk_documents_uploaded_total")
	assert.Contains(t, string(body), `sopdesk_login_attempts_total{result="success"}`)
	assert.Contains(t, string(body), "go_goroutines")
}
