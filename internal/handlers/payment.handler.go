package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/fasthttp/router"

	"github.com/fleetbill/billing-engine/internal/model"
	"github.com/fleetbill/billing-engine/internal/services"
	xhttp "github.com/fleetbill/billing-engine/pkg/http"
)

type BillingService interface {
	CreateInvoice(ctx context.Context, req model.PaymentCreateRequest) (*model.PaymentTransaction, error)
	Get(ctx context.Context, id int64) (*model.PaymentTransaction, error)
	List(ctx context.Context, f model.PaymentFilter) ([]*model.PaymentTransaction, int64, error)
	Cancel(ctx context.Context, id int64) (*model.PaymentTransaction, error)
}

type EscalationLedger interface {
	List(ctx context.Context, f model.EscalationFilter) ([]*model.EscalationRecord, int64, error)
}

type PaymentHandler struct {
	svc    BillingService
	ledger EscalationLedger
}

func RegisterPaymentRoutes(e *router.Group, h *PaymentHandler) {
	e.POST("/payments", h.CreatePayment)
	e.GET("/payments", h.ListPayments)
	e.GET("/payments/escalations", h.ListEscalations)
	e.GET("/payments/{id}", h.GetPayment)
	e.POST("/payments/{id}/cancel", h.CancelPayment)
}

func NewPaymentHandler(svc BillingService, ledger EscalationLedger) *PaymentHandler {
	return &PaymentHandler{svc: svc, ledger: ledger}
}

type createPaymentRequest struct {
	TenantID int64  `json:"tenant_id"`
	ClientID int64  `json:"client_id"`
	Amount   int64  `json:"amount"`
	DueDate  string `json:"due_date"` // RFC3339 or YYYY-MM-DD
	Gateway  string `json:"gateway"`
}

type paymentListResponse struct {
	Items []*model.PaymentTransaction `json:"items"`
	Total int64                       `json:"total"`
}

type escalationListResponse struct {
	Items []*model.EscalationRecord `json:"items"`
	Total int64                     `json:"total"`
}

func (h *PaymentHandler) CreatePayment(ctx *xhttp.RequestCtx) {
	var req createPaymentRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	dueDate, err := parseTime(req.DueDate)
	if err != nil {
		writeError(ctx, 400, "invalid due_date: "+req.DueDate)
		return
	}

	txn, err := h.svc.CreateInvoice(ctx, model.PaymentCreateRequest{
		TenantID: req.TenantID,
		ClientID: req.ClientID,
		Amount:   req.Amount,
		DueDate:  dueDate,
		Gateway:  req.Gateway,
	})
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 201, txn)
}

func (h *PaymentHandler) GetPayment(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid id")
		return
	}

	txn, err := h.svc.Get(ctx, id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(ctx, 404, "payment not found")
			return
		}
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, txn)
}

func (h *PaymentHandler) ListPayments(ctx *xhttp.RequestCtx) {
	var f model.PaymentFilter

	if v := query(ctx, "tenant_id"); v != "" {
		if id, e := strconv.ParseInt(v, 10, 64); e == nil {
			f.TenantID = &id
		}
	}
	if v := query(ctx, "client_id"); v != "" {
		if id, e := strconv.ParseInt(v, 10, 64); e == nil {
			f.ClientID = &id
		}
	}
	if v := query(ctx, "status"); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
			if parts[i] != "" {
				f.Statuses = append(f.Statuses, model.PaymentStatus(parts[i]))
			}
		}
	}
	if v := query(ctx, "due_from"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.DueFrom = &t
		}
	}
	if v := query(ctx, "due_to"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.DueTo = &t
		}
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}
	if strings.EqualFold(query(ctx, "order"), "desc") {
		f.Desc = true
	}

	items, total, err := h.svc.List(ctx, f)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, paymentListResponse{Items: items, Total: total})
}

func (h *PaymentHandler) CancelPayment(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid id")
		return
	}

	txn, err := h.svc.Cancel(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNotFound):
			writeError(ctx, 404, "payment not found")
		case errors.Is(err, services.ErrPaidNotCancellable):
			writeError(ctx, 409, err.Error())
		default:
			writeError(ctx, 500, err.Error())
		}
		return
	}
	writeJSON(ctx, 200, txn)
}

func (h *PaymentHandler) ListEscalations(ctx *xhttp.RequestCtx) {
	var f model.EscalationFilter

	if v := query(ctx, "tenant_id"); v != "" {
		if id, e := strconv.ParseInt(v, 10, 64); e == nil {
			f.TenantID = &id
		}
	}
	if v := query(ctx, "client_id"); v != "" {
		if id, e := strconv.ParseInt(v, 10, 64); e == nil {
			f.ClientID = &id
		}
	}
	if v := query(ctx, "action_type"); v != "" {
		at := model.ActionType(v)
		f.ActionType = &at
	}
	if v := query(ctx, "from"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.From = &t
		}
	}
	if v := query(ctx, "to"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.To = &t
		}
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}

	items, total, err := h.ledger.List(ctx, f)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, escalationListResponse{Items: items, Total: total})
}
