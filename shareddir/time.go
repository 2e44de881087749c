package shareddir

import "time"

func timestampNow() float64 {
	return float64(time.Now().UTC().UnixNano()) / 1e9
}
