package grpcsvc

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/orderproc/internal/domain"
)

const (
	defaultListOrdersLimit = 100
	maxListOrdersLimit     = 1000
)

// OrderProcessor оформляет заказы по запросам транспорта.
type OrderProcessor interface {
	ProcessOrder(ctx context.Context, req *domain.OrderRequest) (*domain.OrderConfirmation, error)
}

// OrderService реализует orderproc.v1.OrderProcessor поверх процессора и хранилища.
type OrderService struct {
	processor OrderProcessor
	reader    domain.OrderReader
	logger    *log.Entry
}

// NewOrderService конструирует сервис с зависимостями.
func NewOrderService(processor OrderProcessor, reader domain.OrderReader, logger *log.Entry) *OrderService {
	if logger == nil {
		logger = log.New().WithField("component", "grpc-order-service")
	}
	return &OrderService{
		processor: processor,
		reader:    reader,
		logger:    logger,
	}
}

// ProcessOrder оформляет заказ и возвращает подтверждение.
func (s *OrderService) ProcessOrder(ctx context.Context, req *ProcessOrderRequest) (*ProcessOrderResponse, error) {
	var domainReq *domain.OrderRequest
	if req != nil {
		domainReq = toDomainRequest(req)
	}

	confirmation, err := s.processor.ProcessOrder(ctx, domainReq)
	if err != nil {
		return nil, statusFromProcessError(err)
	}

	return &ProcessOrderResponse{
		OrderID:           confirmation.OrderID,
		TrackingNumber:    confirmation.TrackingNumber,
		EstimatedDelivery: confirmation.EstimatedDelivery,
	}, nil
}

// GetOrder возвращает сохранённый заказ.
func (s *OrderService) GetOrder(ctx context.Context, req *GetOrderRequest) (*GetOrderResponse, error) {
	if req == nil || req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	if s.reader == nil {
		return nil, status.Error(codes.Unimplemented, "order reads are not configured")
	}

	order, err := s.reader.Get(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return nil, status.Error(codes.NotFound, domain.ErrOrderNotFound.Error())
		}
		s.logger.WithError(err).WithField("order_id", req.OrderID).Error("failed to load order")
		return nil, contextStatusOr(err, codes.Internal, "failed to load order")
	}

	return &GetOrderResponse{Order: toWireOrder(order)}, nil
}

// ListOrders возвращает заказы клиента, новые первыми.
func (s *OrderService) ListOrders(ctx context.Context, req *ListOrdersRequest) (*ListOrdersResponse, error) {
	if req == nil || req.CustomerID == "" {
		return nil, status.Error(codes.InvalidArgument, "customer_id is required")
	}
	if req.Limit < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit must be >= 0")
	}
	if s.reader == nil {
		return nil, status.Error(codes.Unimplemented, "order reads are not configured")
	}

	limit := int(req.Limit)
	if limit == 0 {
		limit = defaultListOrdersLimit
	}
	if limit > maxListOrdersLimit {
		limit = maxListOrdersLimit
	}

	orders, err := s.reader.ListByCustomer(ctx, req.CustomerID, limit)
	if err != nil {
		s.logger.WithError(err).WithField("customer_id", req.CustomerID).Error("failed to list orders")
		return nil, contextStatusOr(err, codes.Internal, "failed to list orders")
	}

	resp := &ListOrdersResponse{Orders: make([]*Order, 0, len(orders))}
	for _, order := range orders {
		resp.Orders = append(resp.Orders, toWireOrder(order))
	}
	return resp, nil
}

// statusFromProcessError переводит ошибку процессора в gRPC-статус.
// Детали ошибок хранилища наружу не отдаются: процессор их уже залогировал.
func statusFromProcessError(err error) error {
	switch domain.KindOf(err) {
	case domain.ErrorKindInvalidArgument:
		return status.Error(codes.InvalidArgument, err.Error())
	case domain.ErrorKindValidation:
		return status.Error(codes.FailedPrecondition, err.Error())
	}

	if domain.IsAlreadyExists(err) {
		return status.Error(codes.AlreadyExists, domain.ErrOrderAlreadyExists.Error())
	}
	return contextStatusOr(err, codes.Internal, "failed to persist order")
}

func contextStatusOr(err error, code codes.Code, msg string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	return status.Error(code, msg)
}

var _ OrderProcessorServer = (*OrderService)(nil)
