package engine

import (
	"fmt"
	"time"
)

// guardOutcome is the tagged result of one guarded policy invocation.
// Fallback decisions pattern-match on this instead of unwinding panics,
// which keeps fallback timing deterministic.
type guardOutcome struct {
	res            retention
	elapsedMS      float64
	budgetExceeded bool
	usedFallback   bool
	err            error
}

// guardedCall runs op under a wall-clock budget. The engine is
// cooperative: a slow op is not interrupted, but once it returns over
// budget its result is discarded in favor of the fallback's. A panic
// inside op is recovered and treated as an op error. budgetMS of zero
// trips on every call.
func guardedCall(op func() (retention, error), budgetMS float64, fallback func() (retention, error), now func() time.Time) guardOutcome {
	start := now()
	res, err := runRecovered(op)
	out := guardOutcome{
		res:       res,
		elapsedMS: float64(now().Sub(start)) / float64(time.Millisecond),
		err:       err,
	}

	if err == nil && out.elapsedMS <= budgetMS && budgetMS > 0 {
		return out
	}

	if err == nil {
		out.budgetExceeded = true
	}

	fbRes, fbErr := runRecovered(fallback)
	if fbErr != nil {
		if err == nil {
			// Slow but successful: keep the over-budget result, report
			// the violation.
			return out
		}
		out.err = fmt.Errorf("policy failed (%v); fallback failed: %w", err, fbErr)
		return out
	}

	out.res = fbRes
	out.usedFallback = true
	out.err = nil
	return out
}

func runRecovered(fn func() (retention, error)) (res retention, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("policy panic: %v", r)
		}
	}()
	return fn()
}
