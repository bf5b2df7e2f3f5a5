// Package validation содержит валидаторы запросов на заказ.
package validation

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderproc/internal/domain"
)

// Reason описывает причину отклонения запроса.
type Reason string

const (
	ReasonCustomerRequired  Reason = "customer_id is required"
	ReasonItemsRequired     Reason = "order must contain at least one item"
	ReasonProductIDRequired Reason = "item product_id is required"
	ReasonQuantityInvalid   Reason = "item quantity must be greater than zero"
)

// Basic проверяет структуру запроса: клиент, наличие позиций, товар и количество.
type Basic struct {
	logger *log.Entry
}

// NewBasic создаёт структурный валидатор.
func NewBasic(logger *log.Entry) *Basic {
	if logger == nil {
		logger = log.WithField("component", "order-validator")
	}
	return &Basic{logger: logger}
}

// Validate возвращает false, если запрос нарушает хотя бы одно правило.
func (v *Basic) Validate(_ context.Context, req domain.OrderRequest) bool {
	reasons := Check(req)
	if len(reasons) == 0 {
		return true
	}

	v.logger.WithFields(log.Fields{
		"customer_id": req.CustomerID,
		"reasons":     reasons,
	}).Debug("order request rejected")
	return false
}

// Check возвращает список нарушенных правил; пустой список означает корректный запрос.
func Check(req domain.OrderRequest) []Reason {
	var reasons []Reason

	if strings.TrimSpace(req.CustomerID) == "" {
		reasons = append(reasons, ReasonCustomerRequired)
	}
	if len(req.Items) == 0 {
		reasons = append(reasons, ReasonItemsRequired)
	}
	for _, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			reasons = append(reasons, ReasonProductIDRequired)
		}
		if item.Quantity <= 0 {
			reasons = append(reasons, ReasonQuantityInvalid)
		}
	}

	return reasons
}

// AcceptAll пропускает любой запрос. Используется, когда правила проверяет внешний сервис.
type AcceptAll struct{}

// Validate всегда возвращает true.
func (AcceptAll) Validate(context.Context, domain.OrderRequest) bool {
	return true
}

var (
	_ domain.Validator = (*Basic)(nil)
	_ domain.Validator = AcceptAll{}
)
