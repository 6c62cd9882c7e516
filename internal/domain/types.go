package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusProcessing indicates the order is accepted and being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the carrier confirmed delivery.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before delivery.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentStatus enumerates payment states tracked alongside the order lifecycle.
type PaymentStatus string

const (
	// PaymentStatusPending indicates payment has not been verified yet.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid indicates payment was verified by an operator.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusRefunded indicates the full order amount was returned to the customer.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Customer stores the contact snapshot captured when the order was placed.
type Customer struct {
	Name  string
	Email string
	Phone string
}

// OrderItem mirrors a purchased line at the time of checkout.
type OrderItem struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice int64
}

// Subtotal returns the line total in the smallest currency unit.
func (i OrderItem) Subtotal() int64 {
	return int64(i.Quantity) * i.UnitPrice
}

// Shipment holds carrier details recorded when an order ships.
type Shipment struct {
	Carrier        string
	TrackingNumber string
	TrackingURL    string
	ShippedAt      time.Time
}

// PaymentRecord stores the verification snapshot attached to a paid order.
type PaymentRecord struct {
	Method     string
	VerifiedAt time.Time
	Note       string
}

// Order aggregates the fulfillment state for a single customer order.
type Order struct {
	ID            string
	Number        string
	Customer      Customer
	Items         []OrderItem
	Status        OrderStatus
	PaymentStatus PaymentStatus
	Shipment      *Shipment
	Payment       *PaymentRecord
	CancelReason  string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Total returns the order total in the smallest currency unit.
func (o Order) Total() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.Subtotal()
	}
	return total
}

// ItemQuantity returns the ordered quantity for a product, zero when absent.
func (o Order) ItemQuantity(productID string) int {
	for _, item := range o.Items {
		if item.ProductID == productID {
			return item.Quantity
		}
	}
	return 0
}

// ReturnStatus enumerates lifecycle states for return requests.
type ReturnStatus string

const (
	// ReturnStatusPending indicates the request awaits an operator decision.
	ReturnStatusPending ReturnStatus = "pending"
	// ReturnStatusApproved indicates the request was accepted and awaits goods.
	ReturnStatusApproved ReturnStatus = "approved"
	// ReturnStatusDenied indicates the request was rejected.
	ReturnStatusDenied ReturnStatus = "denied"
	// ReturnStatusCompleted indicates goods were received and the refund settled.
	ReturnStatusCompleted ReturnStatus = "completed"
)

// ReturnItem identifies a returned line and quantity.
type ReturnItem struct {
	ProductID string
	Quantity  int
}

// ReturnRequest tracks a customer return from filing through settlement.
type ReturnRequest struct {
	ID           string
	OrderID      string
	Reason       string
	Items        []ReturnItem
	Status       ReturnStatus
	RefundAmount int64
	RequestedAt  time.Time
	ProcessedAt  *time.Time
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IssuePriority ranks customer issues for triage.
type IssuePriority string

const (
	// IssuePriorityLow marks issues that can wait for routine handling.
	IssuePriorityLow IssuePriority = "low"
	// IssuePriorityMedium marks issues needing same-day attention.
	IssuePriorityMedium IssuePriority = "medium"
	// IssuePriorityHigh marks issues blocking the customer.
	IssuePriorityHigh IssuePriority = "high"
)

// IssueStatus enumerates lifecycle states for customer issues.
type IssueStatus string

const (
	// IssueStatusOpen indicates the issue awaits triage.
	IssueStatusOpen IssueStatus = "open"
	// IssueStatusInProgress indicates an operator is working the issue.
	IssueStatusInProgress IssueStatus = "in_progress"
	// IssueStatusResolved indicates the issue was closed with a resolution.
	IssueStatusResolved IssueStatus = "resolved"
)

// Issue records a customer-reported problem tied to an order.
type Issue struct {
	ID          string
	OrderID     string
	Type        string
	Priority    IssuePriority
	Status      IssueStatus
	Description string
	Resolution  string
	ReportedAt  time.Time
	ResolvedAt  *time.Time
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AuditKind enumerates the recorded audit entry categories.
type AuditKind string

const (
	// AuditKindStatusChanged records an order status transition.
	AuditKindStatusChanged AuditKind = "status_changed"
	// AuditKindPaymentVerified records a successful payment verification.
	AuditKindPaymentVerified AuditKind = "payment_verified"
	// AuditKindShipmentCreated records shipment details attached to an order.
	AuditKindShipmentCreated AuditKind = "shipment_created"
	// AuditKindReturnApproved records an approved return request.
	AuditKindReturnApproved AuditKind = "return_approved"
	// AuditKindReturnDenied records a denied return request.
	AuditKindReturnDenied AuditKind = "return_denied"
	// AuditKindRefundIssued records money returned to the customer.
	AuditKindRefundIssued AuditKind = "refund_issued"
	// AuditKindIssueUpdated records a customer issue state change.
	AuditKindIssueUpdated AuditKind = "issue_updated"
	// AuditKindNoteAdded records a free-form operator note.
	AuditKindNoteAdded AuditKind = "note_added"
)

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// AuditEntry is an immutable record in an order's history.
type AuditEntry struct {
	ID         string
	OrderID    string
	Seq        int64
	Actor      string
	Kind       AuditKind
	Note       string
	OccurredAt time.Time
}
