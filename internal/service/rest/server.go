// Package rest отдаёт оформление и чтение заказов по HTTP/JSON.
package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	gommonlog "github.com/labstack/gommon/log"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderproc/internal/domain"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// OrderProcessor оформляет заказы.
type OrderProcessor interface {
	ProcessOrder(ctx context.Context, req *domain.OrderRequest) (*domain.OrderConfirmation, error)
}

// Error — тело ответа с ошибкой.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Order — заказ в ответах API.
type Order struct {
	ID            string             `json:"id"`
	CustomerID    string             `json:"customer_id"`
	Items         []domain.OrderItem `json:"items"`
	TotalQuantity int64              `json:"total_quantity"`
	OrderDate     time.Time          `json:"order_date"`
}

// Server обрабатывает HTTP-запросы к заказам.
type Server struct {
	processor OrderProcessor
	reader    domain.OrderReader
	logger    *log.Entry
}

// NewServer создаёт HTTP-обработчики. reader может быть nil: тогда чтение отдаёт 501.
func NewServer(processor OrderProcessor, reader domain.OrderReader, logger *log.Entry) *Server {
	if logger == nil {
		logger = log.WithField("component", "rest")
	}
	return &Server{
		processor: processor,
		reader:    reader,
		logger:    logger,
	}
}

// Register подключает маршруты к echo.
func (s *Server) Register(e *echo.Echo) {
	api := e.Group("/api/v1")
	api.POST("/orders", s.CreateOrder)
	api.GET("/orders/:id", s.GetOrder)
	api.GET("/customers/:customerId/orders", s.ListCustomerOrders)
}

// NewEcho собирает echo с recover, логированием запросов через logrus и маршрутами server.
func NewEcho(server *Server, logger *log.Entry) *echo.Echo {
	if logger == nil {
		logger = log.WithField("component", "http")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(gommonlog.OFF)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			entry := logger.WithFields(log.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency_ms": v.Latency.Milliseconds(),
			})
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Debug("http request")
			return nil
		},
	}))

	server.Register(e)
	return e
}

// CreateOrder handles POST /api/v1/orders.
func (s *Server) CreateOrder(c echo.Context) error {
	var req domain.OrderRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, Error{Code: http.StatusBadRequest, Message: "invalid request body"})
	}

	confirmation, err := s.processor.ProcessOrder(c.Request().Context(), &req)
	if err != nil {
		code, msg := processErrorStatus(err)
		return c.JSON(code, Error{Code: code, Message: msg})
	}

	c.Response().Header().Set(echo.HeaderLocation, "/api/v1/orders/"+confirmation.OrderID)
	return c.JSON(http.StatusCreated, confirmation)
}

// GetOrder handles GET /api/v1/orders/:id.
func (s *Server) GetOrder(c echo.Context) error {
	if s.reader == nil {
		return c.JSON(http.StatusNotImplemented, Error{Code: http.StatusNotImplemented, Message: "order reads are not configured"})
	}

	id := c.Param("id")
	order, err := s.reader.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return c.JSON(http.StatusNotFound, Error{Code: http.StatusNotFound, Message: domain.ErrOrderNotFound.Error()})
		}
		s.logger.WithError(err).WithField("order_id", id).Error("failed to load order")
		return c.JSON(http.StatusInternalServerError, Error{Code: http.StatusInternalServerError, Message: "failed to load order"})
	}

	return c.JSON(http.StatusOK, toOrder(order))
}

// ListCustomerOrders handles GET /api/v1/customers/:customerId/orders?limit=N.
func (s *Server) ListCustomerOrders(c echo.Context) error {
	if s.reader == nil {
		return c.JSON(http.StatusNotImplemented, Error{Code: http.StatusNotImplemented, Message: "order reads are not configured"})
	}

	limit := defaultListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return c.JSON(http.StatusBadRequest, Error{Code: http.StatusBadRequest, Message: "limit must be a non-negative integer"})
		}
		if parsed > 0 {
			limit = min(parsed, maxListLimit)
		}
	}

	customerID := c.Param("customerId")
	orders, err := s.reader.ListByCustomer(c.Request().Context(), customerID, limit)
	if err != nil {
		s.logger.WithError(err).WithField("customer_id", customerID).Error("failed to list orders")
		return c.JSON(http.StatusInternalServerError, Error{Code: http.StatusInternalServerError, Message: "failed to list orders"})
	}

	response := make([]Order, 0, len(orders))
	for _, order := range orders {
		response = append(response, toOrder(order))
	}
	return c.JSON(http.StatusOK, response)
}

func processErrorStatus(err error) (int, string) {
	switch domain.KindOf(err) {
	case domain.ErrorKindInvalidArgument:
		return http.StatusBadRequest, err.Error()
	case domain.ErrorKindValidation:
		return http.StatusUnprocessableEntity, err.Error()
	}

	switch {
	case domain.IsAlreadyExists(err):
		return http.StatusConflict, domain.ErrOrderAlreadyExists.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "order processing timed out"
	default:
		return http.StatusInternalServerError, "failed to persist order"
	}
}

func toOrder(order domain.Order) Order {
	items := order.Items
	if items == nil {
		items = []domain.OrderItem{}
	}
	return Order{
		ID:            order.ID,
		CustomerID:    order.CustomerID,
		Items:         items,
		TotalQuantity: order.TotalQuantity(),
		OrderDate:     order.OrderDate.UTC(),
	}
}
