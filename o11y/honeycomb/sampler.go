package honeycomb

import (
	"fmt"
	"hash/crc32"
	"math"

	dynsampler "github.com/honeycombio/dynsampler-go"
)

// TraceSampler keeps or drops spans at the rate its Sampler gives for the key
// of each span.
type TraceSampler struct {
	KeyFunc func(map[string]interface{}) string
	Sampler dynsampler.Sampler
}

// OutcomeKey is the default sample key: the span name and its replay outcome,
// so that noisy replay hits can be sampled down while recordings are kept.
func OutcomeKey(fields map[string]interface{}) string {
	return fmt.Sprintf("%v %v", fields["name"], fields["replay.outcome"])
}

// Hook is a beeline SamplerHook. Spans with meta.keep.span set are always kept.
func (s *TraceSampler) Hook(fields map[string]interface{}) (bool, int) {
	if keep, _ := fields["meta.keep.span"].(bool); keep {
		return true, 1
	}

	rate := s.Sampler.GetSampleRate(s.KeyFunc(fields))
	traceID := fmt.Sprintf("%v", fields["trace.trace_id"])
	if !keepTrace(traceID, rate) {
		return false, 0
	}
	return true, rate
}

// keepTrace decides from the trace id alone, so every span of a trace gets the
// same answer. It matches the beeline's deterministic sampler.
func keepTrace(traceID string, rate int) bool {
	if rate <= 1 {
		return true
	}
	limit := math.MaxUint32 / uint32(rate) //nolint:gosec
	return crc32.ChecksumIEEE([]byte(traceID)) < limit
}
