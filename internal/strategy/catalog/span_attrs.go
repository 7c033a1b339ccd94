package catalog

import "go.opentelemetry.io/otel/attribute"

// chaosLatencyAttr is the chaos.latency_delay span attribute from spec §8
// scenario 1 ("span contains chaos.latency_delay=0.1").
func chaosLatencyAttr(seconds float64) attribute.KeyValue {
	return attribute.Float64("chaos.latency_delay", seconds)
}

func chaosErrorCodeAttr(code int) attribute.KeyValue {
	return attribute.Int("chaos.error_code", code)
}

func chaosAttackModeAttr(mode string) attribute.KeyValue {
	return attribute.String("chaos.attack_mode", mode)
}

func chaosFuzzTypeAttr(fuzzType string) attribute.KeyValue {
	return attribute.String("chaos.fuzz_type", fuzzType)
}

func chaosTargetEndpointAttr(endpoint string) attribute.KeyValue {
	return attribute.String("chaos.target_endpoint", endpoint)
}
