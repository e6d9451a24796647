package models

import (
	"fmt"
	"math"
	"time"
)

// Service identifies a metered external service.
type Service string

const (
	ServiceVideoProvider Service = "video-provider"
	ServiceChatModel     Service = "chat-model"
	ServiceOther         Service = "other"
)

// Valid reports whether s is a known service.
func (s Service) Valid() bool {
	switch s {
	case ServiceVideoProvider, ServiceChatModel, ServiceOther:
		return true
	}
	return false
}

// MaxAmount is the largest single amount in USD. Amounts are stored as
// int64 micro-units, so this leaves room to sum several maximal entries.
const MaxAmount = 1e12

// ValidAmount reports whether a is a finite amount in [0, MaxAmount].
func ValidAmount(a float64) bool {
	return !math.IsNaN(a) && a >= 0 && a <= MaxAmount
}

// ParseService converts a string to a Service.
func ParseService(s string) (Service, error) {
	svc := Service(s)
	if !svc.Valid() {
		return "", fmt.Errorf("unknown service %q (want video-provider, chat-model or other)", s)
	}
	return svc, nil
}

// CostEntry is a single metered spend event. Entries are append-only.
type CostEntry struct {
	ID          int64     `json:"id"`
	Service     Service   `json:"service"`
	Amount      float64   `json:"amount"`
	Description string    `json:"description"`
	SessionID   string    `json:"session_id,omitempty"`
	JobID       string    `json:"job_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
