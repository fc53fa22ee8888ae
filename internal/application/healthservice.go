package application

import (
	"context"
	"time"

	"github.com/ericfisherdev/sponsoredissues/internal/domain/model"
)

// Pinger is satisfied by the storage adapter.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Component health states.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
	HealthDisabled = "disabled"
	HealthDown     = "down"
)

// HealthReport is the service health view served by the API.
type HealthReport struct {
	Status      string
	Database    string
	GitHubApp   string
	PaymentMode model.PaymentMode
	CheckedAt   time.Time
}

// HealthService reports whether the process can serve requests. Missing app
// credentials degrade the service without failing it.
type HealthService struct {
	db            Pinger
	appConfigured bool
	paymentMode   model.PaymentMode
}

// NewHealthService creates a HealthService.
func NewHealthService(db Pinger, appConfigured bool, paymentMode model.PaymentMode) *HealthService {
	return &HealthService{
		db:            db,
		appConfigured: appConfigured,
		paymentMode:   paymentMode,
	}
}

// Check pings storage and summarizes component states.
func (s *HealthService) Check(ctx context.Context) HealthReport {
	report := HealthReport{
		Database:    HealthOK,
		GitHubApp:   HealthOK,
		PaymentMode: s.paymentMode,
		CheckedAt:   time.Now().UTC(),
	}

	if s.db != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.db.Ping(pingCtx); err != nil {
			report.Database = HealthDown
		}
	}
	if !s.appConfigured {
		report.GitHubApp = HealthDisabled
	}

	report.Status = combineHealth(report.Database, report.GitHubApp)
	return report
}

// combineHealth folds component states into one.
// Priority: down > degraded/disabled > ok.
func combineHealth(states ...string) string {
	var degraded bool
	for _, st := range states {
		switch st {
		case HealthDown:
			return HealthDown
		case HealthDegraded, HealthDisabled:
			degraded = true
		}
	}
	if degraded {
		return HealthDegraded
	}
	return HealthOK
}
