package domain

import "time"

// RevenueRecord is one transaction row returned by the warehouse.
type RevenueRecord struct {
	UserID    string
	ProductID string
	Value     float64
	Currency  string
	EventDate time.Time
}
