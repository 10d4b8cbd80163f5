package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"nftsales/internal/domain"
	"nftsales/internal/storage"
)

type SaleQueryFilter struct {
	After string
	Limit int
}

type SalePage struct {
	Sales []domain.Sale `json:"sales"`
	Next  string        `json:"next,omitempty"`
}

// SaleDetail is a sale with its lookup table and transfers expanded.
type SaleDetail struct {
	Sale             domain.Sale              `json:"sale"`
	LookupTable      domain.LookupTable       `json:"lookupTable"`
	PaymentTransfers []domain.PaymentTransfer `json:"paymentTransfers"`
	AssetTransfers   []domain.AssetTransfer   `json:"assetTransfers"`
}

type QueryStore interface {
	storage.Store
	storage.Lister
}

// Query serves read-only views of the indexed records.
type Query struct {
	store   QueryStore
	records Records
}

func NewQuery(store QueryStore) (*Query, error) {
	if store == nil {
		return nil, errors.New("query store is required")
	}
	return &Query{store: store, records: NewRecords(store)}, nil
}

func (q *Query) ListSales(ctx context.Context, filter SaleQueryFilter) (SalePage, error) {
	limit := storage.NormalizeLimit(filter.Limit)
	rows, err := q.store.List(ctx, storage.ListFilter{
		Entity: storage.EntitySale,
		After:  strings.ToLower(filter.After),
		Limit:  limit,
	})
	if err != nil {
		return SalePage{}, err
	}
	page := SalePage{Sales: make([]domain.Sale, 0, len(rows))}
	for _, row := range rows {
		var sale domain.Sale
		if err := json.Unmarshal(row.Payload, &sale); err != nil {
			return SalePage{}, fmt.Errorf("decode sale %s: %w", row.ID, err)
		}
		page.Sales = append(page.Sales, sale)
	}
	if len(rows) == limit {
		page.Next = rows[len(rows)-1].ID
	}
	return page, nil
}

func (q *Query) SaleDetail(ctx context.Context, txHash string) (SaleDetail, bool, error) {
	sale, ok, err := q.records.Sale(ctx, strings.ToLower(txHash))
	if err != nil || !ok {
		return SaleDetail{}, ok, err
	}
	table, ok, err := q.records.LookupTable(ctx, sale.LookupTable)
	if err != nil {
		return SaleDetail{}, false, err
	}
	if !ok {
		return SaleDetail{}, false, fmt.Errorf("%w: lookup table %s of sale", ErrInvariant, sale.LookupTable)
	}
	payments, assets, err := loadChildren(ctx, q.records, table)
	if err != nil {
		return SaleDetail{}, false, err
	}
	return SaleDetail{
		Sale:             sale,
		LookupTable:      table,
		PaymentTransfers: payments,
		AssetTransfers:   assets,
	}, true, nil
}

func (q *Query) LookupTable(ctx context.Context, txHash string) (domain.LookupTable, bool, error) {
	return q.records.LookupTable(ctx, strings.ToLower(txHash))
}

func (q *Query) ProcessState(ctx context.Context) (domain.ProcessState, error) {
	state, ok, err := q.records.ProcessState(ctx)
	if err != nil {
		return domain.ProcessState{}, err
	}
	if !ok {
		return domain.ProcessState{PendingTableIDs: []string{}}, nil
	}
	return state, nil
}
