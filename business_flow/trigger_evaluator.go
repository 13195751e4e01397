package businessflow

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/amirphl/leadrelay/metrics"
	"github.com/amirphl/leadrelay/models"
	"github.com/amirphl/leadrelay/repository"
	"github.com/amirphl/leadrelay/utils"
	"github.com/shopspring/decimal"
)

// OccurrenceKeyOnce is the occurrence key shared by every firing of a once link,
// so at most one non-failed log can exist per (link, record).
const OccurrenceKeyOnce = "once"

// RecordEvent is one record mutation handed to trigger evaluation
type RecordEvent struct {
	ID          string
	Type        models.TriggerType
	OrgID       uint
	PartitionID uint
	Record      *models.Record
}

// FiringLink is a link that must be dispatched for an event
type FiringLink struct {
	Link          *models.MessageLink
	OccurrenceKey string
}

// TriggerEvaluator decides which links fire for a record event
type TriggerEvaluator interface {
	Evaluate(ctx context.Context, event RecordEvent) ([]FiringLink, error)
}

// TriggerEvaluatorImpl implements TriggerEvaluator
type TriggerEvaluatorImpl struct {
	linkRepo    repository.MessageLinkRepository
	sendLogRepo repository.SendLogRepository
	clock       utils.Clock
	logger      *log.Logger
}

func NewTriggerEvaluator(linkRepo repository.MessageLinkRepository, sendLogRepo repository.SendLogRepository, clock utils.Clock, logger *log.Logger) TriggerEvaluator {
	if clock == nil {
		clock = utils.UTCNow
	}
	if logger == nil {
		logger = log.Default()
	}
	return &TriggerEvaluatorImpl{linkRepo: linkRepo, sendLogRepo: sendLogRepo, clock: clock, logger: logger}
}

// Evaluate returns the active links of the event's partition that fire now. Only
// loading the candidate links can fail; a link whose history check fails is skipped.
func (e *TriggerEvaluatorImpl) Evaluate(ctx context.Context, event RecordEvent) ([]FiringLink, error) {
	if !event.Type.IsEvent() {
		return nil, ErrInvalidTriggerType
	}
	if event.Record == nil {
		return nil, ErrRecordNotFound
	}

	links, err := e.linkRepo.ListActiveByTrigger(ctx, event.PartitionID, event.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to load message links: %w", err)
	}

	var firing []FiringLink
	for _, link := range links {
		if link == nil || !utils.IsTrue(link.IsActive) || link.TriggerType != event.Type {
			continue
		}
		if !EvaluateCondition(link.TriggerCondition, event.Record.Data) {
			metrics.TriggerSkipped.WithLabelValues("condition").Inc()
			continue
		}

		key, fire, err := e.applyRepeatPolicy(ctx, link, event)
		if err != nil {
			metrics.TriggerSkipped.WithLabelValues("history_error").Inc()
			e.logger.Printf("trigger: history check failed link_id=%d record_id=%d err=%v", link.ID, event.Record.ID, err)
			continue
		}
		if !fire {
			metrics.TriggerSkipped.WithLabelValues("repeat_policy").Inc()
			continue
		}
		firing = append(firing, FiringLink{Link: link, OccurrenceKey: key})
	}
	return firing, nil
}

// applyRepeatPolicy returns the occurrence key for this firing. A once link fires
// while every earlier log for the pair is failed, so failed attempts are retried on
// every later qualifying event without limit.
func (e *TriggerEvaluatorImpl) applyRepeatPolicy(ctx context.Context, link *models.MessageLink, event RecordEvent) (string, bool, error) {
	switch link.EffectiveRepeatPolicy() {
	case models.RepeatPolicyOnce:
		exists, err := e.sendLogRepo.ExistsNonFailed(ctx, link.ID, event.Record.ID, nil)
		if err != nil {
			return "", false, err
		}
		return OccurrenceKeyOnce, !exists, nil
	default:
		if link.RepeatConfig.CooldownSeconds > 0 {
			since := e.clock().Add(-time.Duration(link.RepeatConfig.CooldownSeconds) * time.Second)
			exists, err := e.sendLogRepo.ExistsNonFailed(ctx, link.ID, event.Record.ID, &since)
			if err != nil {
				return "", false, err
			}
			if exists {
				return "", false, nil
			}
		}
		return "event:" + event.ID, true, nil
	}
}

// EvaluateCondition reports whether data satisfies cond. An empty condition holds.
// The result depends only on its arguments.
func EvaluateCondition(cond models.TriggerCondition, data map[string]any) bool {
	if cond.IsZero() {
		return true
	}

	anyMatch := cond.Match == models.ConditionMatchAny
	for _, clause := range cond.Clauses {
		ok := evaluateClause(clause, data)
		if anyMatch && ok {
			return true
		}
		if !anyMatch && !ok {
			return false
		}
	}
	return !anyMatch
}

func evaluateClause(clause models.ConditionClause, data map[string]any) bool {
	raw, present := data[clause.Field]
	actual := strings.TrimSpace(Stringify(raw))
	expected := strings.TrimSpace(clause.Value)

	switch clause.Operator {
	case models.OperatorIsEmpty:
		return !present || actual == ""
	case models.OperatorIsNotEmpty:
		return present && actual != ""
	case models.OperatorEquals:
		return present && valuesEqual(actual, expected)
	case models.OperatorNotEquals:
		return !present || !valuesEqual(actual, expected)
	case models.OperatorContains:
		return present && strings.Contains(strings.ToLower(actual), strings.ToLower(expected))
	case models.OperatorNotContains:
		return !present || !strings.Contains(strings.ToLower(actual), strings.ToLower(expected))
	case models.OperatorGreaterThan, models.OperatorGreaterOrEq, models.OperatorLessThan, models.OperatorLessOrEq:
		if !present {
			return false
		}
		return compareNumeric(clause.Operator, actual, expected)
	default:
		return false
	}
}

// valuesEqual compares numerically when both sides are numbers, otherwise case-insensitively
func valuesEqual(actual, expected string) bool {
	a, errA := decimal.NewFromString(actual)
	b, errB := decimal.NewFromString(expected)
	if errA == nil && errB == nil {
		return a.Equal(b)
	}
	return strings.EqualFold(actual, expected)
}

func compareNumeric(op models.ConditionOperator, actual, expected string) bool {
	a, err := decimal.NewFromString(actual)
	if err != nil {
		return false
	}
	b, err := decimal.NewFromString(expected)
	if err != nil {
		return false
	}
	switch op {
	case models.OperatorGreaterThan:
		return a.GreaterThan(b)
	case models.OperatorGreaterOrEq:
		return a.GreaterThanOrEqual(b)
	case models.OperatorLessThan:
		return a.LessThan(b)
	case models.OperatorLessOrEq:
		return a.LessThanOrEqual(b)
	default:
		return false
	}
}
