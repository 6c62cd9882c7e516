package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	domain "github.com/orderdesk/api/internal/domain"
)

const defaultBatchParallelism = 8

// BatchServiceDeps bundles collaborators required to construct the batch service.
type BatchServiceDeps struct {
	Orders      OrderService
	Payments    PaymentService
	Parallelism int
	MaxOrders   int
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type batchService struct {
	orders      OrderService
	payments    PaymentService
	parallelism int
	maxOrders   int
	logger      func(context.Context, string, map[string]any)
}

// NewBatchService wires dependencies into a concrete BatchService implementation.
func NewBatchService(deps BatchServiceDeps) (BatchService, error) {
	if deps.Orders == nil {
		return nil, errors.New("batch service: order service is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("batch service: payment service is required")
	}

	parallelism := deps.Parallelism
	if parallelism <= 0 {
		parallelism = defaultBatchParallelism
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &batchService{
		orders:      deps.Orders,
		payments:    deps.Payments,
		parallelism: parallelism,
		maxOrders:   deps.MaxOrders,
		logger:      logger,
	}, nil
}

// Apply runs the operation against every order independently. A failing order
// never rolls back orders that already succeeded, and every deduplicated input
// ID is reported exactly once.
func (s *batchService) Apply(ctx context.Context, cmd BatchCommand) (BatchResult, error) {
	orderIDs := dedupeOrderIDs(cmd.OrderIDs)
	if len(orderIDs) == 0 {
		return BatchResult{}, fmt.Errorf("%w: at least one order id is required", ErrInvalidInput)
	}
	if s.maxOrders > 0 && len(orderIDs) > s.maxOrders {
		return BatchResult{}, fmt.Errorf("%w: batch of %d orders exceeds the limit of %d", ErrInvalidInput, len(orderIDs), s.maxOrders)
	}

	apply, err := s.operationFunc(cmd)
	if err != nil {
		return BatchResult{}, err
	}

	var (
		mu        sync.Mutex
		succeeded []string
		failed    []BatchFailure
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.parallelism)

	for _, orderID := range orderIDs {
		orderID := orderID
		group.Go(func() error {
			var opErr error
			if err := groupCtx.Err(); err != nil {
				opErr = fmt.Errorf("%w: %v", ErrUnavailable, err)
			} else {
				opErr = apply(groupCtx, orderID)
			}

			mu.Lock()
			defer mu.Unlock()
			if opErr != nil {
				failed = append(failed, BatchFailure{OrderID: orderID, Err: opErr})
				return nil
			}
			succeeded = append(succeeded, orderID)
			return nil
		})
	}

	// Workers never return errors, failures land in the collector.
	_ = group.Wait()

	if len(failed) > 0 {
		s.logger(ctx, "batch.partial.failure", map[string]any{
			"operation": string(cmd.Operation),
			"total":     len(orderIDs),
			"failed":    len(failed),
		})
	}

	return BatchResult{Succeeded: succeeded, Failed: failed}, nil
}

func (s *batchService) operationFunc(cmd BatchCommand) (func(context.Context, string) error, error) {
	actor := strings.TrimSpace(cmd.Actor)
	reason := strings.TrimSpace(cmd.Reason)

	switch cmd.Operation {
	case BatchOperationShip:
		if cmd.Shipment == nil {
			return nil, fmt.Errorf("%w: shipment details are required for a ship batch", ErrInvalidInput)
		}
		shipment := *cmd.Shipment
		return func(ctx context.Context, orderID string) error {
			_, err := s.orders.TransitionStatus(ctx, OrderTransitionCommand{
				OrderID:  orderID,
				Target:   domain.OrderStatusShipped,
				Shipment: &shipment,
				Reason:   reason,
				Actor:    actor,
			})
			return err
		}, nil
	case BatchOperationDeliver:
		return func(ctx context.Context, orderID string) error {
			_, err := s.orders.TransitionStatus(ctx, OrderTransitionCommand{
				OrderID: orderID,
				Target:  domain.OrderStatusDelivered,
				Reason:  reason,
				Actor:   actor,
			})
			return err
		}, nil
	case BatchOperationCancel:
		return func(ctx context.Context, orderID string) error {
			_, err := s.orders.TransitionStatus(ctx, OrderTransitionCommand{
				OrderID: orderID,
				Target:  domain.OrderStatusCancelled,
				Reason:  reason,
				Actor:   actor,
			})
			return err
		}, nil
	case BatchOperationVerifyPayment:
		return func(ctx context.Context, orderID string) error {
			_, err := s.payments.Verify(ctx, VerifyPaymentCommand{
				OrderID: orderID,
				Method:  "batch",
				Note:    reason,
				Actor:   actor,
			})
			return err
		}, nil
	case BatchOperationRefundPayment:
		return func(ctx context.Context, orderID string) error {
			_, err := s.payments.Refund(ctx, RefundPaymentCommand{
				OrderID: orderID,
				Note:    reason,
				Actor:   actor,
			})
			return err
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown batch operation %q", ErrInvalidInput, cmd.Operation)
	}
}

func dedupeOrderIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" || seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		out = append(out, trimmed)
	}
	return out
}
