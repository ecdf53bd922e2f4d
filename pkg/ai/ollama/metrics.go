package ollama

import "github.com/OFFIS-RIT/kgstore/pkg/ai"

// Metrics returns the usage accumulated since the client was created.
func (c *EmbeddingClient) Metrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}

func (c *EmbeddingClient) addMetrics(m ai.ModelMetrics) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.metrics.Add(m)
}
