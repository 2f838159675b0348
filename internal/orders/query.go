package orders

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/NorikGo/tailormp-sub002/internal/access"
	"github.com/NorikGo/tailormp-sub002/pkg/db/models"
	pkgerrors "github.com/NorikGo/tailormp-sub002/pkg/errors"
	"github.com/NorikGo/tailormp-sub002/pkg/pagination"
)

// QueryService is the read side over orders. Every call enforces ownership.
type QueryService interface {
	Get(ctx context.Context, principal access.Principal, orderID uuid.UUID) (*OrderDTO, error)
	ListForCustomer(ctx context.Context, principal access.Principal, params ListParams) (*OrderList, error)
	ListForTailor(ctx context.Context, principal access.Principal, params ListParams) (*OrderList, error)
	FindBySessionRef(ctx context.Context, sessionRef string) (*models.Order, error)
}

type queryService struct {
	repo Repository
}

// NewQueryService builds the order read façade.
func NewQueryService(repo Repository) (QueryService, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order repository required")
	}
	return &queryService{repo: repo}, nil
}

func (q *queryService) Get(ctx context.Context, principal access.Principal, orderID uuid.UUID) (*OrderDTO, error) {
	order, err := loadOrder(ctx, q.repo, orderID)
	if err != nil {
		return nil, err
	}
	if err := access.RequireOwnerOrTailor(principal, order.OwnerID, order.TailorIDs()); err != nil {
		return nil, err
	}
	var keep func(models.OrderItem) bool
	if !principal.IsAdmin() && principal.UserID != order.OwnerID && principal.IsTailor() {
		keep = tailorLines(*principal.TailorID)
	}
	dto := newOrderDTO(order, keep)
	return &dto, nil
}

func (q *queryService) ListForCustomer(ctx context.Context, principal access.Principal, params ListParams) (*OrderList, error) {
	if err := principal.Validate(); err != nil {
		return nil, err
	}
	if principal.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "customer identity required")
	}
	query, err := listQuery(params)
	if err != nil {
		return nil, err
	}
	query.OwnerID = principal.UserID

	rows, err := q.repo.ListByOwner(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return page(rows, params.Limit, nil), nil
}

// ListForTailor returns orders holding the tailor's lines, showing only those lines.
func (q *queryService) ListForTailor(ctx context.Context, principal access.Principal, params ListParams) (*OrderList, error) {
	if err := principal.Validate(); err != nil {
		return nil, err
	}
	if !principal.IsTailor() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "tailor role required")
	}
	query, err := listQuery(params)
	if err != nil {
		return nil, err
	}
	query.TailorID = *principal.TailorID

	rows, err := q.repo.ListByTailor(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list tailor orders")
	}
	return page(rows, params.Limit, tailorLines(*principal.TailorID)), nil
}

func (q *queryService) FindBySessionRef(ctx context.Context, sessionRef string) (*models.Order, error) {
	sessionRef = strings.TrimSpace(sessionRef)
	if sessionRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session reference is required")
	}
	order, err := q.repo.FindBySessionRef(ctx, sessionRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout session not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order by session")
	}
	return order, nil
}

func listQuery(params ListParams) (ListQuery, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return ListQuery{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	if params.Status != nil && !params.Status.IsValid() {
		return ListQuery{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter")
	}
	return ListQuery{
		Status: params.Status,
		Cursor: cursor,
		Limit:  pagination.LimitWithBuffer(params.Limit),
	}, nil
}

func page(rows []models.Order, limit int, keep func(models.OrderItem) bool) *OrderList {
	rows, next := pagination.Trim(rows, limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	out := make([]OrderDTO, 0, len(rows))
	for i := range rows {
		out = append(out, newOrderDTO(&rows[i], keep))
	}
	return &OrderList{Orders: out, NextCursor: next}
}

func tailorLines(tailorID uuid.UUID) func(models.OrderItem) bool {
	return func(item models.OrderItem) bool {
		return item.TailorID == tailorID
	}
}
