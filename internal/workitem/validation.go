package workitem

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/rpattn/replay/internal/domain"
)

// Workflow lists allowed target statuses per current status. Statuses without
// an entry may move freely.
type Workflow map[int64][]int64

// WorkflowFromConfig converts the string keyed configuration form.
func WorkflowFromConfig(raw map[string][]int64) (Workflow, error) {
	workflow := make(Workflow, len(raw))
	for key, targets := range raw {
		from, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid workflow status %q: %w", key, err)
		}
		workflow[from] = targets
	}
	return workflow, nil
}

// Allows reports whether a change from one status to another is permitted.
func (w Workflow) Allows(from, to int64) bool {
	if from == to || from == 0 {
		return true
	}
	targets, constrained := w[from]
	if !constrained {
		return true
	}
	for _, target := range targets {
		if target == to {
			return true
		}
	}
	return false
}

type businessRules struct {
	Subject        string     `json:"subject" validate:"required,max=255"`
	DoneRatio      *int64     `json:"done_ratio" validate:"omitempty,min=0,max=100"`
	EstimatedHours *float64   `json:"estimated_hours" validate:"omitempty,min=0"`
	StartDate      *time.Time `json:"start_date"`
	DueDate        *time.Time `json:"due_date"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		rules := sl.Current().Interface().(businessRules)
		if rules.StartDate != nil && rules.DueDate != nil && rules.DueDate.Before(*rules.StartDate) {
			sl.ReportError(rules.DueDate, "due_date", "DueDate", "after_start", "")
		}
	}, businessRules{})
	return v
}

func rulesFor(entity domain.Entity) businessRules {
	rules := businessRules{Subject: entity.Subject}
	if _, ok := entity.Property("done_ratio"); ok {
		ratio := entity.IntProperty("done_ratio")
		rules.DoneRatio = &ratio
	}
	if hours, ok := floatProperty(entity, "estimated_hours"); ok {
		rules.EstimatedHours = &hours
	}
	if start, ok := dateProperty(entity, "start_date"); ok {
		rules.StartDate = &start
	}
	if due, ok := dateProperty(entity, "due_date"); ok {
		rules.DueDate = &due
	}
	return rules
}

// checkRules runs the business rules against the changed entity. previous is
// nil for new entities.
func (s *Service) checkRules(entity domain.Entity, previous *domain.Entity) []string {
	var messages []string

	if err := s.validate.Struct(rulesFor(entity)); err != nil {
		if fieldErrors, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrors {
				messages = append(messages, describe(fe))
			}
		} else {
			messages = append(messages, err.Error())
		}
	}

	if previous != nil {
		from := previous.IntProperty("status_id")
		to := entity.IntProperty("status_id")
		if !s.workflow.Allows(from, to) {
			messages = append(messages, "Status is invalid because no valid transition exists from old to new status.")
		}
	}

	return messages
}

func describe(fe validator.FieldError) string {
	field := humanize(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s can't be blank.", field)
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s is too long (maximum is %s characters).", field, fe.Param())
		}
		return fmt.Sprintf("%s must be less than or equal to %s.", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be greater than or equal to %s.", field, fe.Param())
	case "after_start":
		return fmt.Sprintf("%s must be on or after the start date.", field)
	default:
		return fmt.Sprintf("%s is invalid.", field)
	}
}

func humanize(name string) string {
	name = strings.ReplaceAll(name, "_", " ")
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
