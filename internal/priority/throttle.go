package priority

import (
	"context"
	"errors"
	"strings"

	"orchestrator/internal/domain"
	"orchestrator/internal/infra"
	"orchestrator/internal/infra/geoip"
	"orchestrator/internal/sqlinline"
)

// PGThrottle reads abuse-review flags.
type PGThrottle struct {
	sql infra.SQLExecutor
}

func NewPGThrottle(sql infra.SQLExecutor) *PGThrottle {
	return &PGThrottle{sql: sql}
}

func (t *PGThrottle) IsThrottled(ctx context.Context, requester domain.Requester) (bool, error) {
	if requester.ID == "" {
		return false, nil
	}
	var flagged bool
	if err := t.sql.QueryRow(ctx, sqlinline.QPriorityThrottled, requester.ID).Scan(&flagged); err != nil {
		return false, err
	}
	return flagged, nil
}

// CountryThrottle deprioritizes requests whose client address resolves to one of
// the configured countries.
type CountryThrottle struct {
	resolver  geoip.CountryResolver
	countries map[string]struct{}
}

func NewCountryThrottle(resolver geoip.CountryResolver, countries []string) *CountryThrottle {
	set := make(map[string]struct{}, len(countries))
	for _, c := range countries {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			set[c] = struct{}{}
		}
	}
	return &CountryThrottle{resolver: resolver, countries: set}
}

func (t *CountryThrottle) IsThrottled(_ context.Context, requester domain.Requester) (bool, error) {
	if t.resolver == nil || len(t.countries) == 0 || requester.ClientIP == "" {
		return false, nil
	}
	code, err := t.resolver.CountryCode(requester.ClientIP)
	if err != nil {
		return false, err
	}
	_, hit := t.countries[code]
	return hit, nil
}

// AnyThrottle reports throttled when any member does. Member errors are joined but
// do not hide a positive answer from another member.
type AnyThrottle []Throttle

func (a AnyThrottle) IsThrottled(ctx context.Context, requester domain.Requester) (bool, error) {
	var errs []error
	for _, t := range a {
		if t == nil {
			continue
		}
		throttled, err := t.IsThrottled(ctx, requester)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if throttled {
			return true, nil
		}
	}
	return false, errors.Join(errs...)
}
