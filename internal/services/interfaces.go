package services

import (
	"context"
	"time"

	domain "github.com/orderdesk/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Order              = domain.Order
	OrderStatus        = domain.OrderStatus
	OrderItem          = domain.OrderItem
	PaymentStatus      = domain.PaymentStatus
	PaymentRecord      = domain.PaymentRecord
	Shipment           = domain.Shipment
	Customer           = domain.Customer
	ReturnRequest      = domain.ReturnRequest
	ReturnStatus       = domain.ReturnStatus
	ReturnItem         = domain.ReturnItem
	Issue              = domain.Issue
	IssueStatus        = domain.IssueStatus
	IssuePriority      = domain.IssuePriority
	AuditEntry         = domain.AuditEntry
	AuditKind          = domain.AuditKind
	SystemHealthReport = domain.SystemHealthReport
)

// OrderService encapsulates order reads, status transitions, and operator notes.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderTransitionCommand) (Order, error)
	AddNote(ctx context.Context, cmd AddOrderNoteCommand) (AuditEntry, error)
}

// PaymentService verifies and refunds order payments.
type PaymentService interface {
	Verify(ctx context.Context, cmd VerifyPaymentCommand) (Order, error)
	Refund(ctx context.Context, cmd RefundPaymentCommand) (Order, error)
}

// ReturnService drives the return request workflow from filing through settlement.
type ReturnService interface {
	File(ctx context.Context, cmd FileReturnCommand) (ReturnRequest, error)
	Approve(ctx context.Context, cmd DecideReturnCommand) (ReturnRequest, error)
	Deny(ctx context.Context, cmd DecideReturnCommand) (ReturnRequest, error)
	Complete(ctx context.Context, cmd CompleteReturnCommand) (ReturnRequest, error)
	GetReturn(ctx context.Context, returnID string) (ReturnRequest, error)
	ListReturns(ctx context.Context, filter ReturnListFilter) (domain.CursorPage[ReturnRequest], error)
}

// IssueService tracks customer issues tied to orders.
type IssueService interface {
	Report(ctx context.Context, cmd ReportIssueCommand) (Issue, error)
	UpdateStatus(ctx context.Context, cmd UpdateIssueCommand) (Issue, error)
	GetIssue(ctx context.Context, issueID string) (Issue, error)
	ListIssues(ctx context.Context, filter IssueListFilter) (domain.CursorPage[Issue], error)
}

// BatchService applies one operation across many orders with independent outcomes.
type BatchService interface {
	Apply(ctx context.Context, cmd BatchCommand) (BatchResult, error)
}

// AuditLogService centralizes immutable per-order history persistence and retrieval.
type AuditLogService interface {
	Record(ctx context.Context, record AuditRecord) (AuditEntry, error)
	ListByOrder(ctx context.Context, orderID string, pager Pagination) (domain.CursorPage[AuditEntry], error)
}

// SystemService aggregates utility endpoints (health checks, counters).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// EventPublisher publishes fulfillment domain events for downstream consumers.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event Event) (string, error)
}

// Event captures metadata for emitted fulfillment domain events.
type Event struct {
	Name       string         `json:"name"`
	OrderID    string         `json:"orderId"`
	EntityID   string         `json:"entityId,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Command and DTO definitions ------------------------------------------------

type CreateOrderCommand struct {
	Customer Customer
	Items    []OrderItem
	Actor    string
}

type OrderListFilter struct {
	Status        []string
	PaymentStatus []string
	DateRange     domain.RangeQuery[time.Time]
	Pagination    Pagination
}

// ShipmentInput carries carrier details supplied when an order ships.
type ShipmentInput struct {
	Carrier        string
	TrackingNumber string
	TrackingURL    string
}

type OrderTransitionCommand struct {
	OrderID  string
	Target   OrderStatus
	Shipment *ShipmentInput
	Reason   string
	Actor    string
	// ExpectedVersion guards against concurrent edits when supplied.
	ExpectedVersion *int64
}

type AddOrderNoteCommand struct {
	OrderID string
	Note    string
	Actor   string
}

type VerifyPaymentCommand struct {
	OrderID string
	Method  string
	Note    string
	Actor   string
}

type RefundPaymentCommand struct {
	OrderID string
	Note    string
	Actor   string
}

type FileReturnCommand struct {
	OrderID string
	Items   []ReturnItem
	Reason  string
	Actor   string
}

type DecideReturnCommand struct {
	ReturnID string
	Reason   string
	Actor    string
}

type CompleteReturnCommand struct {
	ReturnID     string
	RefundAmount int64
	Actor        string
}

type ReturnListFilter struct {
	OrderID    string
	Status     []string
	Pagination Pagination
}

type ReportIssueCommand struct {
	OrderID     string
	Type        string
	Priority    IssuePriority
	Description string
	Actor       string
}

type UpdateIssueCommand struct {
	IssueID    string
	Target     IssueStatus
	Resolution string
	Actor      string
}

type IssueListFilter struct {
	OrderID    string
	Status     []string
	Priority   []string
	Pagination Pagination
}

// BatchOperation enumerates the mutations supported by the batch processor.
type BatchOperation string

const (
	BatchOperationShip          BatchOperation = "ship"
	BatchOperationDeliver       BatchOperation = "deliver"
	BatchOperationCancel        BatchOperation = "cancel"
	BatchOperationVerifyPayment BatchOperation = "verify_payment"
	BatchOperationRefundPayment BatchOperation = "refund_payment"
)

type BatchCommand struct {
	OrderIDs  []string
	Operation BatchOperation
	// Shipment applies to every order when the operation is ship.
	Shipment *ShipmentInput
	Reason   string
	Actor    string
}

// BatchFailure reports a single order the batch could not process.
type BatchFailure struct {
	OrderID string
	Err     error
}

// BatchResult partitions the deduplicated input IDs into outcomes. Every input
// ID appears in exactly one of the two lists.
type BatchResult struct {
	Succeeded []string
	Failed    []BatchFailure
}

// AuditRecord carries the inputs for one immutable history entry.
type AuditRecord struct {
	OrderID    string
	Actor      string
	Kind       AuditKind
	Note       string
	OccurredAt time.Time
}

// Fulfillment bundles the back-office services behind a single façade for handlers.
type Fulfillment struct {
	Orders   OrderService
	Payments PaymentService
	Returns  ReturnService
	Issues   IssueService
	Batch    BatchService
	Audit    AuditLogService
	System   SystemService
}
