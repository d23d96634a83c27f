package market

import (
	"math"

	"github.com/ivelashvili/royal-exchange/internal/config"
)

// curveFunc maps a saturation ratio (share of players over the saturation
// base share) to a penalty fraction in [0, +inf). The engine scales it by
// the maximum penalty and floors the resulting modifier.
type curveFunc func(ratio float64) float64

func linearCurve(ratio float64) float64 {
	return math.Min(ratio, 1.0)
}

// logarithmicCurve is proportional up to ratio 1 and grows through a
// 1+ln(ratio) denominator past it, with a kink at 1. It never decreases, so
// more competitors never raise the income modifier.
func logarithmicCurve(ratio float64) float64 {
	if ratio <= 1.0 {
		return ratio
	}
	return ratio / (1.0 + math.Log(ratio))
}

func squareRootCurve(ratio float64) float64 {
	return math.Min(math.Sqrt(ratio), 1.0)
}

func curveFor(c config.Curve) curveFunc {
	switch c {
	case config.CurveLinear:
		return linearCurve
	case config.CurveSquareRoot:
		return squareRootCurve
	default:
		return logarithmicCurve
	}
}
