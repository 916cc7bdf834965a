/*
Package snapshot freezes the configuration a payroll run was computed with.

PURPOSE:
  Recalculating a run months later must reproduce its numbers even if
  parameters, concept formulas, tax rules or exchange rates changed since.
  Capture copies everything the calculation reads into one immutable value;
  Source() hands it back as a catalog.ConfigSource so recalculation goes
  through exactly the same code path as the original run.

INTEGRITY:
  The checksum is SHA-256 over the canonical JSON of the captured content.
  Verify recomputes it, so a snapshot edited in storage is detected before
  it is trusted.

SEE ALSO:
  - catalog/source.go: ConfigSource
  - payroll/engine.go: captures before calculating, reuses on recalculation
*/
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/warp/payroll-engine/catalog"
	"github.com/warp/payroll-engine/generic"
)

// ErrChecksumMismatch is returned by Verify for tampered snapshots.
var ErrChecksumMismatch = errors.New("snapshot checksum mismatch")

// Snapshot is an immutable copy of a run's configuration.
type Snapshot struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Checksum  string    `json:"checksum"`
	Content
}

// Content is the checksummed part of a snapshot.
type Content struct {
	Payroll         catalog.Payroll                          `json:"payroll"`
	CalculationDate time.Time                                `json:"calculation_date"`
	Parameters      map[string]catalog.CalculationParameters `json:"parameters"`
	Assignments     []catalog.AssignedConcept                `json:"assignments"`
	TaxRules        []catalog.TaxRule                        `json:"tax_rules"`
	ExchangeRates   []catalog.ExchangeRate                   `json:"exchange_rates"`
}

// ComputeChecksum hashes the canonical JSON of c.
func ComputeChecksum(c Content) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the checksum.
func (s *Snapshot) Verify() error {
	sum, err := ComputeChecksum(s.Content)
	if err != nil {
		return err
	}
	if sum != s.Checksum {
		return fmt.Errorf("%w: snapshot %s", ErrChecksumMismatch, s.ID)
	}
	return nil
}

// Source returns the frozen configuration.
func (s *Snapshot) Source() catalog.ConfigSource {
	return frozen{s: s}
}

// =============================================================================
// FROZEN CONFIG SOURCE
// =============================================================================

type frozen struct{ s *Snapshot }

func (f frozen) Parameters(_ context.Context, companyID string) (catalog.CalculationParameters, error) {
	if p, ok := f.s.Parameters[companyID]; ok {
		return p, nil
	}
	if p, ok := f.s.Parameters[""]; ok {
		return p, nil
	}
	return catalog.DefaultParameters(), nil
}

func (f frozen) Assignments(_ context.Context, payrollID string) ([]catalog.AssignedConcept, error) {
	if payrollID != f.s.Payroll.ID {
		return nil, fmt.Errorf("%w: snapshot %s has no assignments for payroll %s", generic.ErrNotFound, f.s.ID, payrollID)
	}
	return append([]catalog.AssignedConcept(nil), f.s.Assignments...), nil
}

func (f frozen) TaxRule(_ context.Context, ref, conceptCode string, at time.Time) (catalog.TaxRule, error) {
	if r, ok := catalog.SelectTaxRule(f.s.TaxRules, ref, conceptCode, at); ok {
		return r, nil
	}
	return catalog.TaxRule{}, fmt.Errorf("%w: tax rule %q/%q", generic.ErrNotFound, ref, conceptCode)
}

func (f frozen) ExchangeRate(_ context.Context, from, to string, at time.Time) (catalog.ExchangeRate, error) {
	if r, ok := catalog.SelectExchangeRate(f.s.ExchangeRates, from, to, at); ok {
		return r, nil
	}
	return catalog.ExchangeRate{}, fmt.Errorf("%w: exchange rate %s->%s", generic.ErrNotFound, from, to)
}

// =============================================================================
// SERVICE
// =============================================================================

// Store persists snapshots.
type Store interface {
	SaveSnapshot(ctx context.Context, s *Snapshot) error
	GetSnapshot(ctx context.Context, id string) (*Snapshot, error)
}

// Request names what to capture.
type Request struct {
	Payroll         catalog.Payroll
	CompanyIDs      []string
	Currencies      []string // employee currencies needing a rate into the payroll currency
	CalculationDate time.Time
}

// Service captures and loads snapshots.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// Capture copies the configuration src serves for req and persists it.
func (svc *Service) Capture(ctx context.Context, src catalog.ConfigSource, req Request) (*Snapshot, error) {
	c := Content{
		Payroll:         req.Payroll,
		CalculationDate: generic.TruncateDay(req.CalculationDate),
		Parameters:      make(map[string]catalog.CalculationParameters),
		Assignments:     []catalog.AssignedConcept{},
		TaxRules:        []catalog.TaxRule{},
		ExchangeRates:   []catalog.ExchangeRate{},
	}

	companies := append([]string{""}, req.CompanyIDs...)
	if req.Payroll.CompanyID != "" {
		companies = append(companies, req.Payroll.CompanyID)
	}
	for _, id := range companies {
		if _, done := c.Parameters[id]; done {
			continue
		}
		p, err := src.Parameters(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("capture parameters for %q: %w", id, err)
		}
		c.Parameters[id] = p
	}

	assigned, err := src.Assignments(ctx, req.Payroll.ID)
	if err != nil {
		return nil, fmt.Errorf("capture assignments: %w", err)
	}
	c.Assignments = append(c.Assignments, assigned...)

	seenRules := make(map[string]bool)
	for _, ac := range assigned {
		if ac.Concept.Kind != catalog.KindTaxRule {
			continue
		}
		rule, err := src.TaxRule(ctx, ac.Concept.TaxRuleRef, ac.Concept.Code, req.CalculationDate)
		if errors.Is(err, generic.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("capture tax rule for %s: %w", ac.Concept.Code, err)
		}
		if !seenRules[rule.ID] {
			seenRules[rule.ID] = true
			c.TaxRules = append(c.TaxRules, rule)
		}
	}

	seenCur := make(map[string]bool)
	for _, cur := range req.Currencies {
		if cur == "" || cur == req.Payroll.Currency || seenCur[cur] {
			continue
		}
		seenCur[cur] = true
		rate, err := src.ExchangeRate(ctx, cur, req.Payroll.Currency, req.CalculationDate)
		if errors.Is(err, generic.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("capture exchange rate %s->%s: %w", cur, req.Payroll.Currency, err)
		}
		c.ExchangeRates = append(c.ExchangeRates, rate)
	}

	sum, err := ComputeChecksum(c)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{ID: generic.NewID(), CreatedAt: svc.now(), Checksum: sum, Content: c}
	if svc.store != nil {
		if err := svc.store.SaveSnapshot(ctx, snap); err != nil {
			return nil, fmt.Errorf("save snapshot: %w", err)
		}
	}
	svc.logger.Debug("configuration captured",
		"snapshot", snap.ID, "payroll", req.Payroll.ID,
		"assignments", len(c.Assignments), "tax_rules", len(c.TaxRules), "checksum", sum)
	return snap, nil
}

// Load fetches a snapshot and verifies its checksum.
func (svc *Service) Load(ctx context.Context, id string) (*Snapshot, error) {
	snap, err := svc.store.GetSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := snap.Verify(); err != nil {
		return nil, err
	}
	return snap, nil
}
