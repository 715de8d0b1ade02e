package dto

import (
	"time"

	"github.com/shopspring/decimal"

	appctx "pharmapos/internal/core/context"
	"pharmapos/internal/core/id"
	"pharmapos/internal/core/types"
	"pharmapos/internal/domain/inventory"
	"pharmapos/internal/domain/sales"
)

// SaleLineRequest is one cart line.
type SaleLineRequest struct {
	ProductID string `json:"productId" binding:"required,uuid"`
	Quantity  int64  `json:"quantity" binding:"required,gt=0"`
	// UnitPrice overrides the catalog price (major units).
	UnitPrice       *decimal.Decimal `json:"unitPrice" binding:"omitempty,amount"`
	DiscountPercent decimal.Decimal  `json:"discountPercent" binding:"percent"`
	IsWholesale     bool             `json:"isWholesale"`
}

// CustomerRequest is optional buyer information.
type CustomerRequest struct {
	Name            string `json:"name" binding:"max=200"`
	Phone           string `json:"phone" binding:"max=50"`
	BusinessName    string `json:"businessName" binding:"max=200"`
	BusinessAddress string `json:"businessAddress" binding:"max=500"`
}

// CashierRequest identifies the cashier when no token does.
type CashierRequest struct {
	ID    string `json:"id" binding:"max=128"`
	Name  string `json:"name" binding:"max=200"`
	Email string `json:"email" binding:"omitempty,email"`
}

// SettleSaleRequest is the body of POST /sales.
type SettleSaleRequest struct {
	ClientTransactionID    string            `json:"clientTransactionId" binding:"required,max=128"`
	Lines                  []SaleLineRequest `json:"lines" binding:"required,min=1,dive"`
	OverallDiscountPercent decimal.Decimal   `json:"overallDiscountPercent" binding:"percent"`
	ManualDiscount         decimal.Decimal   `json:"manualDiscount" binding:"amount"`
	SaleType               string            `json:"saleType" binding:"saletype"`
	Cashier                *CashierRequest   `json:"cashier"`
	Customer               *CustomerRequest  `json:"customer"`
}

// ToDomain converts the request. The authenticated user, when present,
// is the cashier of record.
func (r SettleSaleRequest) ToDomain(user *appctx.UserContext) (sales.Request, error) {
	req := sales.Request{
		ClientTransactionID:    r.ClientTransactionID,
		OverallDiscountPercent: r.OverallDiscountPercent,
		ManualDiscount:         types.MinorUnitsFromDecimal(r.ManualDiscount),
		SaleType:               sales.Type(r.SaleType),
		Lines:                  make([]sales.Line, 0, len(r.Lines)),
	}

	for _, l := range r.Lines {
		productID, err := id.Parse(l.ProductID)
		if err != nil {
			return sales.Request{}, err
		}
		req.Lines = append(req.Lines, sales.Line{
			ProductID:           productID,
			Quantity:            l.Quantity,
			UnitPrice:           l.UnitPrice,
			LineDiscountPercent: l.DiscountPercent,
			IsWholesale:         l.IsWholesale,
		})
	}

	if r.Cashier != nil {
		req.Cashier = sales.Cashier{ID: r.Cashier.ID, Name: r.Cashier.Name, Email: r.Cashier.Email}
	}
	if user != nil {
		req.Cashier.ID = user.UserID
		if user.Name != "" {
			req.Cashier.Name = user.Name
		}
		if user.Email != "" {
			req.Cashier.Email = user.Email
		}
		req.Roles = user.Roles
	}
	if r.Customer != nil {
		req.Customer = sales.Customer{
			Name:            r.Customer.Name,
			Phone:           r.Customer.Phone,
			BusinessName:    r.Customer.BusinessName,
			BusinessAddress: r.Customer.BusinessAddress,
		}
	}
	return req, nil
}

// SaleItemResponse is one sold line.
type SaleItemResponse struct {
	LineNo      int    `json:"lineNo"`
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   Money  `json:"unitPrice"`
	Discount    Money  `json:"discount"`
	LineTotal   Money  `json:"lineTotal"`
}

// SaleResponse is a committed sale.
type SaleResponse struct {
	ID                  string             `json:"id"`
	ClientTransactionID string             `json:"clientTransactionId"`
	ReceiptNumber       string             `json:"receiptNumber"`
	CreatedAt           time.Time          `json:"createdAt"`
	Cashier             sales.Cashier      `json:"cashier"`
	Customer            sales.Customer     `json:"customer"`
	SaleType            string             `json:"saleType"`
	Status              string             `json:"status"`
	Subtotal            Money              `json:"subtotal"`
	Discount            Money              `json:"discount"`
	Total               Money              `json:"total"`
	Items               []SaleItemResponse `json:"items,omitempty"`
}

// FromSale maps a sale.
func FromSale(s *sales.Sale) SaleResponse {
	resp := SaleResponse{
		ID:                  s.ID.String(),
		ClientTransactionID: s.ClientTransactionID,
		ReceiptNumber:       s.ReceiptNumber,
		CreatedAt:           s.CreatedAt,
		Cashier:             s.Cashier,
		Customer:            s.Customer,
		SaleType:            string(s.SaleType),
		Status:              string(s.Status),
		Subtotal:            FromMinor(s.Subtotal),
		Discount:            FromMinor(s.Discount),
		Total:               FromMinor(s.Total),
	}
	for _, it := range s.Items {
		resp.Items = append(resp.Items, SaleItemResponse{
			LineNo:      it.LineNo,
			ProductID:   it.ProductID.String(),
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   FromMinor(it.UnitPrice),
			Discount:    FromMinor(it.Discount),
			LineTotal:   FromMinor(it.LineTotal),
		})
	}
	return resp
}

// SettlementResponse is returned by POST /sales, identical for a replay.
type SettlementResponse struct {
	Sale      SaleResponse       `json:"sale"`
	Movements []MovementResponse `json:"movements"`
}

// FromResult maps a settlement result.
func FromResult(r *sales.Result) SettlementResponse {
	return SettlementResponse{
		Sale:      FromSale(r.Sale),
		Movements: FromMovements(r.Movements),
	}
}

// ListSalesRequest holds query parameters of GET /sales.
type ListSalesRequest struct {
	PageRequest
	DateRange
	CashierID string `form:"cashierId"`
	SaleType  string `form:"saleType" binding:"saletype"`
}

// ToFilter converts query parameters.
func (r ListSalesRequest) ToFilter() sales.ListFilter {
	f := sales.ListFilter{
		CashierID: r.CashierID,
		FromDate:  r.From,
		ToDate:    r.To,
		Limit:     r.Limit,
		Offset:    r.Offset,
	}
	if r.SaleType != "" {
		t := sales.Type(r.SaleType)
		f.SaleType = &t
	}
	return f
}

// MovementResponse is one ledger entry.
type MovementResponse struct {
	ID        string    `json:"id"`
	ProductID string    `json:"productId"`
	BatchID   *string   `json:"batchId,omitempty"`
	Type      string    `json:"type"`
	Delta     int64     `json:"delta"`
	SaleID    *string   `json:"saleId,omitempty"`
	Actor     string    `json:"actor"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func idPtrString(v *id.ID) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

// FromMovement maps a movement.
func FromMovement(m inventory.Movement) MovementResponse {
	return MovementResponse{
		ID:        m.ID.String(),
		ProductID: m.ProductID.String(),
		BatchID:   idPtrString(m.BatchID),
		Type:      string(m.Type),
		Delta:     m.Delta,
		SaleID:    idPtrString(m.SaleID),
		Actor:     m.Actor,
		Reason:    m.Reason,
		CreatedAt: m.CreatedAt,
	}
}

// FromMovements maps movements, never returning nil.
func FromMovements(ms []inventory.Movement) []MovementResponse {
	out := make([]MovementResponse, 0, len(ms))
	for _, m := range ms {
		out = append(out, FromMovement(m))
	}
	return out
}
