package model

// QuotaStatus is a point-in-time view of the daily call budget.
type QuotaStatus struct {
	Date         string  `json:"date"` // UTC day key, YYYY-MM-DD
	Used         int     `json:"used"`
	Limit        int     `json:"limit"`
	Remaining    int     `json:"remaining"`
	UsagePercent float64 `json:"usage_percent"`
	IsExceeded   bool    `json:"is_exceeded"`
}
