package transport

import (
	"math"
	"math/rand"
	"sync"

	"telemetry-observer/src/models"
)

// -----------------------------------------------------------------------------
// Function datasource generators. A generator produces one synthetic sample
// per second over the requested range.
// -----------------------------------------------------------------------------

// Generator returns the value for one timestamp.
type Generator func(ts int64) float64

const generatorStepMs = 1000

// maxGeneratedPoints caps the synthetic series for very wide windows.
const maxGeneratedPoints = 2000

var (
	generatorsMu sync.RWMutex
	generators   = map[string]Generator{
		"random": func(ts int64) float64 {
			return math.Round(rand.Float64()*1000) / 10
		},
		"sin": func(ts int64) float64 {
			return math.Sin(float64(ts) / 10000)
		},
		"ramp": func(ts int64) float64 {
			return float64(ts%60000) / 1000
		},
	}
)

// RegisterGenerator binds a generator to a function datasource name.
func RegisterGenerator(name string, g Generator) {
	generatorsMu.Lock()
	generators[name] = g
	generatorsMu.Unlock()
}

func lookupGenerator(name string) (Generator, bool) {
	generatorsMu.RLock()
	defer generatorsMu.RUnlock()
	g, ok := generators[name]
	return g, ok
}

// generate produces the series for [minTs, maxTs]. An unknown or empty
// function name falls back to "random".
func generate(funcName string, minTs, maxTs int64) models.MDataSeries {
	g, ok := lookupGenerator(funcName)
	if !ok {
		g, _ = lookupGenerator("random")
	}

	if maxTs <= minTs {
		return models.MDataSeries{{Ts: maxTs, Value: g(maxTs)}}
	}

	step := int64(generatorStepMs)
	if (maxTs-minTs)/step > maxGeneratedPoints {
		step = (maxTs - minTs) / maxGeneratedPoints
	}

	series := make(models.MDataSeries, 0, (maxTs-minTs)/step+1)
	for ts := minTs; ts <= maxTs; ts += step {
		series = append(series, models.MDataPoint{Ts: ts, Value: g(ts)})
	}
	return series
}
