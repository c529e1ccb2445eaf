package notify

import "time"

// backoffDelay doubles base per failed attempt: 1st failure -> base,
// 2nd -> 2*base, 3rd -> 4*base ... capped at ceiling.
func backoffDelay(base, ceiling time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		return ceiling
	}
	d := base << (attempt - 1)
	if d > ceiling || d <= 0 {
		return ceiling
	}
	return d
}
