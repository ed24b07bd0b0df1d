package lifecycle

import (
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/slyt3/GetItDone/internal/errs"
	"github.com/slyt3/GetItDone/internal/models"
)

const (
	maxTitleLen       = 200
	maxDescriptionLen = 5000
	maxRequirements   = 20
	maxRating         = 5.0
)

// Draft is the poster-editable content of a task.
type Draft struct {
	Title             string          `json:"title"`
	Description       string          `json:"description"`
	Category          string          `json:"category"`
	Budget            models.Budget   `json:"budget"`
	Currency          string          `json:"currency"`
	Location          models.Location `json:"location"`
	ScheduledDate     *time.Time      `json:"scheduled_date,omitempty"`
	IsRecurring       bool            `json:"is_recurring"`
	RecurrencePattern string          `json:"recurrence_pattern,omitempty"`
	Requirements      []string        `json:"requirements,omitempty"`
	MinRating         float64         `json:"min_rating"`
}

// normalize trims and validates d in place. Missing fields are allowed;
// Publishable decides whether a task is complete.
func (d *Draft) normalize() error {
	d.Title = strings.TrimSpace(d.Title)
	d.Description = strings.TrimSpace(d.Description)
	d.Category = strings.ToLower(strings.TrimSpace(d.Category))
	d.Currency = models.NormalizeCurrency(d.Currency)
	d.Location.Address = strings.TrimSpace(d.Location.Address)
	d.RecurrencePattern = strings.ToLower(strings.TrimSpace(d.RecurrencePattern))

	if utf8.RuneCountInString(d.Title) > maxTitleLen {
		return errs.Validationf("title longer than %d characters", maxTitleLen)
	}
	if utf8.RuneCountInString(d.Description) > maxDescriptionLen {
		return errs.Validationf("description longer than %d characters", maxDescriptionLen)
	}
	if d.Category != "" && !slices.Contains(models.Categories, d.Category) {
		return errs.Validationf("unknown category %q", d.Category)
	}
	if !models.ValidCurrency(d.Currency) {
		return errs.Validationf("invalid currency %q", d.Currency)
	}
	if err := validateBudget(d.Budget); err != nil {
		return err
	}
	if d.Location.Lat < -90 || d.Location.Lat > 90 || d.Location.Lng < -180 || d.Location.Lng > 180 {
		return errs.Validationf("location coordinates out of range")
	}
	if d.IsRecurring {
		if !slices.Contains(models.RecurrencePatterns, d.RecurrencePattern) {
			return errs.Validationf("recurring task needs a pattern in %v", models.RecurrencePatterns)
		}
	} else if d.RecurrencePattern != "" {
		return errs.Validationf("recurrence pattern set on a non-recurring task")
	}
	if d.MinRating < 0 || d.MinRating > maxRating {
		return errs.Validationf("min rating must be between 0 and %.0f", maxRating)
	}
	d.Requirements = dedupe(d.Requirements)
	if len(d.Requirements) > maxRequirements {
		return errs.Validationf("at most %d requirements", maxRequirements)
	}
	if d.ScheduledDate != nil {
		t := d.ScheduledDate.UTC()
		d.ScheduledDate = &t
	}
	return nil
}

func validateBudget(b models.Budget) error {
	switch b.Type {
	case "":
		if b.Amount != 0 || b.Min != 0 || b.Max != 0 {
			return errs.Validationf("budget amounts given without a budget type")
		}
		return nil
	case models.BudgetFixed:
		if b.Amount <= 0 || b.Amount > models.MaxAmount {
			return errs.Validationf("fixed budget amount must be positive")
		}
		if b.Min != 0 || b.Max != 0 {
			return errs.Validationf("fixed budget must not carry a range")
		}
	case models.BudgetRange:
		if b.Min <= 0 || b.Max <= 0 || b.Max > models.MaxAmount {
			return errs.Validationf("budget range bounds must be positive")
		}
		if b.Min > b.Max {
			return errs.Validationf("budget min %s exceeds max %s", b.Min, b.Max)
		}
		if b.Amount != 0 {
			return errs.Validationf("range budget must not carry a fixed amount")
		}
	default:
		return errs.Validationf("unknown budget type %q", b.Type)
	}
	return nil
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		key := strings.ToLower(r)
		if r == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

func (d *Draft) apply(t *models.Task) {
	t.Title = d.Title
	t.Description = d.Description
	t.Category = d.Category
	t.Budget = d.Budget
	t.Currency = d.Currency
	t.Location = d.Location
	t.ScheduledDate = d.ScheduledDate
	t.IsRecurring = d.IsRecurring
	t.RecurrencePattern = d.RecurrencePattern
	t.Requirements = d.Requirements
	t.MinRating = d.MinRating
}

// Publishable reports the first field that keeps task from being posted.
func Publishable(task *models.Task) error {
	switch {
	case task.Title == "":
		return errs.Validationf("title is required to publish")
	case task.Description == "":
		return errs.Validationf("description is required to publish")
	case task.Category == "":
		return errs.Validationf("category is required to publish")
	case !task.Budget.IsSet():
		return errs.Validationf("budget is required to publish")
	case task.Location.Address == "":
		return errs.Validationf("location is required to publish")
	}
	return nil
}
