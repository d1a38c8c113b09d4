package common

import "time"

// Progress is the rate bookkeeping computed on every progress tick.
type Progress struct {
	Downloaded     int64         `json:"downloaded"`
	TotalBytes     int64         `json:"total_bytes"`
	Percent        float64       `json:"percent"` // -1 when the total is unknown
	BytesPerSecond int64         `json:"bytes_per_second"`
	Elapsed        time.Duration `json:"elapsed"`
	Remaining      time.Duration `json:"remaining"`
	Timestamp      time.Time     `json:"timestamp"`
}

// Percentage returns downloaded/total in percent, or -1 when total is unknown.
func Percentage(downloaded, total int64) float64 {
	if total <= 0 {
		return -1
	}
	return float64(downloaded) / float64(total) * 100
}
