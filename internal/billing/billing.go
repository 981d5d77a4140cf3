// Package billing enforces per-plan usage limits.
package billing

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/bookeep/ingest/internal/store"
)

// Plan limits. -1 means unlimited.
type Plan struct {
	Name              string
	DocumentsPerMonth int
	EmailAccounts     int
}

var plans = map[string]Plan{
	"free":       {Name: "free", DocumentsPerMonth: 20, EmailAccounts: 1},
	"business":   {Name: "business", DocumentsPerMonth: -1, EmailAccounts: -1},
	"accountant": {Name: "accountant", DocumentsPerMonth: -1, EmailAccounts: -1},
}

// PlanFor returns the plan for a name, defaulting unknown names to free.
func PlanFor(name string) Plan {
	if p, ok := plans[name]; ok {
		return p
	}
	return plans["free"]
}

// ErrLimitExceeded is returned when an operation would exceed the plan.
var ErrLimitExceeded = eris.New("plan limit exceeded")

// Checker answers plan questions against stored usage.
type Checker struct {
	store store.Store
}

func NewChecker(st store.Store) *Checker {
	return &Checker{store: st}
}

// CheckDocumentQuota verifies the org may ingest another document this
// calendar month.
func (c *Checker) CheckDocumentQuota(ctx context.Context, orgID string) error {
	org, err := c.store.GetOrganization(ctx, orgID)
	if err != nil {
		return eris.Wrap(err, "billing: load organization")
	}
	plan := PlanFor(org.Plan)
	if plan.DocumentsPerMonth < 0 {
		return nil
	}

	monthStart := startOfMonth(time.Now().UTC())
	count, err := c.store.CountDocumentsSince(ctx, orgID, monthStart)
	if err != nil {
		return eris.Wrap(err, "billing: count documents")
	}
	if count >= plan.DocumentsPerMonth {
		return eris.Wrapf(ErrLimitExceeded, "%d documents this month on plan %s", count, plan.Name)
	}
	return nil
}

// CheckEmailAccountQuota verifies the org may connect another mailbox.
func (c *Checker) CheckEmailAccountQuota(ctx context.Context, orgID string) error {
	org, err := c.store.GetOrganization(ctx, orgID)
	if err != nil {
		return eris.Wrap(err, "billing: load organization")
	}
	plan := PlanFor(org.Plan)
	if plan.EmailAccounts < 0 {
		return nil
	}

	count, err := c.store.CountEmailAccounts(ctx, orgID)
	if err != nil {
		return eris.Wrap(err, "billing: count email accounts")
	}
	if count >= plan.EmailAccounts {
		return eris.Wrapf(ErrLimitExceeded, "%d connected inboxes on plan %s", count, plan.Name)
	}
	return nil
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
