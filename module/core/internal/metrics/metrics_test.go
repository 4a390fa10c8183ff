package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_Counters(t *testing.T) {
	c := New()

	c.Ingest("accepted")
	c.Ingest("accepted")
	c.Ingest("implausible_movement")
	c.CacheLookup(true)
	c.CacheLookup(false)
	c.CacheDurable(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.IngestTotal.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.IngestTotal.WithLabelValues("implausible_movement")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.CacheBackend))
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.Ingest("accepted")
		c.Candidate("routed")
		c.Flushed()
		c.ConnectionOpened("vehicle")
		c.PublishFailed()
	})
}
