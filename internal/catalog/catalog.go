// Package catalog loads product task templates and customer entitlements
// from a YAML seed file and applies them to the store.
package catalog

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"adoptline/internal/criteria"
	"adoptline/internal/domain"
	"adoptline/internal/repo"
)

// MaxProductWeight is the budget for the active template weights of one product.
const MaxProductWeight = 100.0

type File struct {
	Products     []Product     `yaml:"products"`
	Entitlements []Entitlement `yaml:"entitlements"`
}

type Product struct {
	ID        string     `yaml:"id"`
	Name      string     `yaml:"name"`
	Templates []Template `yaml:"templates"`
}

type Template struct {
	ID             string             `yaml:"id"`
	Name           string             `yaml:"name"`
	Description    string             `yaml:"description"`
	Weight         float64            `yaml:"weight"`
	LicenseTier    domain.LicenseTier `yaml:"license_tier"`
	OutcomeIDs     *domain.Selection  `yaml:"outcome_ids"`
	ReleaseIDs     *domain.Selection  `yaml:"release_ids"`
	SequenceNumber int                `yaml:"sequence_number"`
	Active         *bool              `yaml:"active"`
	Attributes     []Attribute        `yaml:"attributes"`
}

type Attribute struct {
	ID              string            `yaml:"id"`
	Name            string            `yaml:"name"`
	Description     string            `yaml:"description"`
	DataType        criteria.DataType `yaml:"data_type"`
	Required        bool              `yaml:"required"`
	SuccessCriteria criteria.Spec     `yaml:"success_criteria"`
	Order           int               `yaml:"order"`
}

type Entitlement struct {
	ID          string             `yaml:"id"`
	CustomerID  string             `yaml:"customer_id"`
	ProductID   string             `yaml:"product_id"`
	LicenseTier domain.LicenseTier `yaml:"license_tier"`
	OutcomeIDs  *domain.Selection  `yaml:"outcome_ids"`
	ReleaseIDs  *domain.Selection  `yaml:"release_ids"`
}

// Parse decodes a catalog document. Unknown keys are rejected.
func Parse(data []byte) (File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return File{}, fmt.Errorf("invalid catalog yaml: %w", err)
	}
	return f, nil
}

// Load reads and validates a catalog file.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	f, err := Parse(data)
	if err != nil {
		return File{}, err
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// Validate checks the whole document and reports every problem found.
func (f File) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	products := map[string]struct{}{}
	templates := map[string]struct{}{}
	for _, p := range f.Products {
		if strings.TrimSpace(p.ID) == "" {
			add("product with empty id")
			continue
		}
		if _, dup := products[p.ID]; dup {
			add("product %s defined twice", p.ID)
		}
		products[p.ID] = struct{}{}

		var total float64
		for _, t := range p.Templates {
			where := fmt.Sprintf("product %s template %s", p.ID, t.ID)
			if strings.TrimSpace(t.ID) == "" {
				add("product %s has a template with empty id", p.ID)
				continue
			}
			if _, dup := templates[t.ID]; dup {
				add("template %s defined twice", t.ID)
			}
			templates[t.ID] = struct{}{}
			if strings.TrimSpace(t.Name) == "" {
				add("%s: name is required", where)
			}
			if t.Weight < 0 || t.Weight > MaxProductWeight {
				add("%s: weight %.2f must be between 0 and %.0f", where, t.Weight, MaxProductWeight)
			}
			if !t.LicenseTier.Valid() {
				add("%s: license_tier is required", where)
			}
			if t.active() {
				total += t.Weight
			}
			attrs := map[string]struct{}{}
			for _, a := range t.Attributes {
				if strings.TrimSpace(a.ID) == "" || strings.TrimSpace(a.Name) == "" {
					add("%s: attributes need an id and a name", where)
					continue
				}
				if _, dup := attrs[a.ID]; dup {
					add("%s: attribute %s defined twice", where, a.ID)
				}
				attrs[a.ID] = struct{}{}
				if !a.DataType.Valid() {
					add("%s: attribute %s has unknown data_type %q", where, a.ID, a.DataType)
				}
				if err := criteria.Validate(a.SuccessCriteria.Criterion); err != nil {
					add("%s: attribute %s: %v", where, a.ID, err)
					continue
				}
				if err := criteria.CheckCompatible(a.SuccessCriteria.Criterion, a.DataType); err != nil {
					add("%s: attribute %s: %v", where, a.ID, err)
				}
			}
		}
		if total > MaxProductWeight+1e-9 {
			add("product %s: active template weights sum to %.2f, exceeding %.0f", p.ID, total, MaxProductWeight)
		}
	}

	entitlements := map[string]struct{}{}
	for _, e := range f.Entitlements {
		if strings.TrimSpace(e.ID) == "" {
			add("entitlement with empty id")
			continue
		}
		if _, dup := entitlements[e.ID]; dup {
			add("entitlement %s defined twice", e.ID)
		}
		entitlements[e.ID] = struct{}{}
		if strings.TrimSpace(e.CustomerID) == "" {
			add("entitlement %s: customer_id is required", e.ID)
		}
		if _, ok := products[e.ProductID]; !ok {
			add("entitlement %s: unknown product %q", e.ID, e.ProductID)
		}
		if !e.LicenseTier.Valid() {
			add("entitlement %s: license_tier is required", e.ID)
		}
	}
	return errors.Join(problems...)
}

func (t Template) active() bool {
	return t.Active == nil || *t.Active
}

func selectionOrAll(s *domain.Selection) domain.Selection {
	if s == nil {
		return domain.All()
	}
	return *s
}

func (t Template) toDomain(productID, now string) domain.TaskTemplate {
	out := domain.TaskTemplate{
		ID:             t.ID,
		ProductID:      productID,
		Name:           t.Name,
		Description:    t.Description,
		Weight:         t.Weight,
		LicenseTier:    t.LicenseTier,
		OutcomeIDs:     selectionOrAll(t.OutcomeIDs),
		ReleaseIDs:     selectionOrAll(t.ReleaseIDs),
		SequenceNumber: t.SequenceNumber,
		Active:         t.active(),
		UpdatedAt:      now,
	}
	for i, a := range t.Attributes {
		order := a.Order
		if order == 0 {
			order = i + 1
		}
		out.Attributes = append(out.Attributes, domain.TelemetryAttributeDefinition{
			ID:          a.ID,
			TemplateID:  t.ID,
			Name:        a.Name,
			Description: a.Description,
			DataType:    a.DataType,
			Required:    a.Required,
			Criterion:   a.SuccessCriteria,
			Order:       order,
		})
	}
	return out
}

func (e Entitlement) toDomain(now string) domain.Entitlement {
	return domain.Entitlement{
		ID:          e.ID,
		CustomerID:  e.CustomerID,
		ProductID:   e.ProductID,
		LicenseTier: e.LicenseTier,
		OutcomeIDs:  selectionOrAll(e.OutcomeIDs),
		ReleaseIDs:  selectionOrAll(e.ReleaseIDs),
		UpdatedAt:   now,
	}
}

// Result counts what Apply changed.
type Result struct {
	Products             int      `json:"products"`
	TemplatesChanged     int      `json:"templates_changed"`
	TemplatesDeactivated int      `json:"templates_deactivated"`
	EntitlementsChanged  int      `json:"entitlements_changed"`
	PlansCreated         []string `json:"plans_created"`
	PlansFlagged         int      `json:"plans_flagged"`
}

// Apply upserts the catalog in one transaction. Each product's template list
// is authoritative: templates missing from the file are deactivated. Plans
// affected by a change are flagged for sync, and every entitlement gets a plan.
func Apply(ctx context.Context, r repo.Repo, f File, now string) (Result, error) {
	if err := f.Validate(); err != nil {
		return Result{}, err
	}
	res := Result{PlansCreated: []string{}}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	for _, p := range f.Products {
		name := p.Name
		if name == "" {
			name = p.ID
		}
		if err := r.UpsertProductTx(ctx, tx, domain.Product{ID: p.ID, Name: name}, now); err != nil {
			return res, fmt.Errorf("product %s: %w", p.ID, err)
		}
		res.Products++

		existing, err := r.ListTemplatesTx(ctx, tx, p.ID, false)
		if err != nil {
			return res, err
		}
		current := make(map[string]string, len(existing))
		for _, t := range existing {
			current[t.ID] = fingerprint(t)
		}
		changed := 0
		keep := make([]string, 0, len(p.Templates))
		for _, t := range p.Templates {
			tpl := t.toDomain(p.ID, now)
			keep = append(keep, tpl.ID)
			if fp, ok := current[tpl.ID]; ok && fp == fingerprint(tpl) {
				continue
			}
			if err := r.UpsertTemplateTx(ctx, tx, tpl); err != nil {
				return res, err
			}
			changed++
		}
		deactivated, err := r.DeactivateTemplatesExceptTx(ctx, tx, p.ID, keep, now)
		if err != nil {
			return res, err
		}
		res.TemplatesChanged += changed
		res.TemplatesDeactivated += int(deactivated)
		if changed > 0 || deactivated > 0 {
			n, err := r.MarkNeedsSyncByProductTx(ctx, tx, p.ID, now)
			if err != nil {
				return res, err
			}
			res.PlansFlagged += int(n)
		}
	}

	for _, e := range f.Entitlements {
		ent := e.toDomain(now)
		prev, err := r.GetEntitlementTx(ctx, tx, ent.ID)
		switch {
		case errors.Is(err, repo.ErrNotFound):
		case err != nil:
			return res, err
		}
		if err == nil && sameEntitlement(prev, ent) {
			if err := ensurePlan(ctx, r, tx, ent, now, &res); err != nil {
				return res, err
			}
			continue
		}
		if err := r.UpsertEntitlementTx(ctx, tx, ent); err != nil {
			return res, fmt.Errorf("entitlement %s: %w", ent.ID, err)
		}
		res.EntitlementsChanged++
		n, err := r.MarkNeedsSyncByEntitlementTx(ctx, tx, ent.ID, now)
		if err != nil {
			return res, err
		}
		res.PlansFlagged += int(n)
		if err := ensurePlan(ctx, r, tx, ent, now, &res); err != nil {
			return res, err
		}
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	return res, nil
}

func ensurePlan(ctx context.Context, r repo.Repo, tx *sql.Tx, ent domain.Entitlement, now string, res *Result) error {
	plan, created, err := r.EnsurePlanTx(ctx, tx, ent, uuid.Must(uuid.NewV7()).String(), now)
	if err != nil {
		return fmt.Errorf("plan for entitlement %s: %w", ent.ID, err)
	}
	if created {
		res.PlansCreated = append(res.PlansCreated, plan.ID)
	}
	return nil
}

// fingerprint renders the template without timestamps for change detection.
func fingerprint(t domain.TaskTemplate) string {
	t.UpdatedAt = ""
	if len(t.Attributes) == 0 {
		t.Attributes = nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return ""
	}
	return string(b)
}

func sameEntitlement(a, b domain.Entitlement) bool {
	return a.CustomerID == b.CustomerID &&
		a.ProductID == b.ProductID &&
		a.LicenseTier == b.LicenseTier &&
		a.OutcomeIDs.Equal(b.OutcomeIDs) &&
		a.ReleaseIDs.Equal(b.ReleaseIDs)
}
