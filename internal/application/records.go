package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"nftsales/internal/domain"
	"nftsales/internal/storage"
)

// ErrInvariant marks a record the engine created itself that could not be
// found, or an id that is already taken. Callers must treat it as fatal.
var ErrInvariant = errors.New("broken invariant")

// ErrChainMismatch is returned for a message whose chain differs from the
// chain the store's state belongs to.
var ErrChainMismatch = fmt.Errorf("%w: chain mismatch", ErrInvariant)

// Records is the typed view over a keyed store that the engine works with.
type Records struct {
	store storage.Store
}

func NewRecords(store storage.Store) Records {
	return Records{store: store}
}

func (r Records) ProcessState(ctx context.Context) (domain.ProcessState, bool, error) {
	return load[domain.ProcessState](ctx, r.store, storage.EntityProcessState, domain.ProcessStateID)
}

func (r Records) SaveProcessState(ctx context.Context, state domain.ProcessState) error {
	return save(ctx, r.store, storage.EntityProcessState, domain.ProcessStateID, state)
}

func (r Records) CreatePaymentTransfer(ctx context.Context, transfer domain.PaymentTransfer) error {
	if err := r.ensureAbsent(ctx, storage.EntityPaymentTransfer, transfer.ID); err != nil {
		return err
	}
	return save(ctx, r.store, storage.EntityPaymentTransfer, transfer.ID, transfer)
}

func (r Records) PaymentTransfer(ctx context.Context, id string) (domain.PaymentTransfer, error) {
	return mustLoad[domain.PaymentTransfer](ctx, r.store, storage.EntityPaymentTransfer, id)
}

func (r Records) DeletePaymentTransfer(ctx context.Context, id string) error {
	return r.store.Delete(ctx, storage.EntityPaymentTransfer, id)
}

func (r Records) CreateAssetTransfer(ctx context.Context, transfer domain.AssetTransfer) error {
	if err := r.ensureAbsent(ctx, storage.EntityAssetTransfer, transfer.ID); err != nil {
		return err
	}
	return save(ctx, r.store, storage.EntityAssetTransfer, transfer.ID, transfer)
}

func (r Records) AssetTransfer(ctx context.Context, id string) (domain.AssetTransfer, error) {
	return mustLoad[domain.AssetTransfer](ctx, r.store, storage.EntityAssetTransfer, id)
}

func (r Records) DeleteAssetTransfer(ctx context.Context, id string) error {
	return r.store.Delete(ctx, storage.EntityAssetTransfer, id)
}

func (r Records) LookupTable(ctx context.Context, txHash string) (domain.LookupTable, bool, error) {
	return load[domain.LookupTable](ctx, r.store, storage.EntityLookupTable, txHash)
}

// PendingLookupTable loads a table registered as pending. Its absence is a
// broken invariant.
func (r Records) PendingLookupTable(ctx context.Context, txHash string) (domain.LookupTable, error) {
	return mustLoad[domain.LookupTable](ctx, r.store, storage.EntityLookupTable, txHash)
}

func (r Records) SaveLookupTable(ctx context.Context, table domain.LookupTable) error {
	return save(ctx, r.store, storage.EntityLookupTable, table.ID, table)
}

func (r Records) DeleteLookupTable(ctx context.Context, txHash string) error {
	return r.store.Delete(ctx, storage.EntityLookupTable, txHash)
}

func (r Records) Sale(ctx context.Context, txHash string) (domain.Sale, bool, error) {
	return load[domain.Sale](ctx, r.store, storage.EntitySale, txHash)
}

func (r Records) CreateSale(ctx context.Context, sale domain.Sale) error {
	if err := r.ensureAbsent(ctx, storage.EntitySale, sale.ID); err != nil {
		return err
	}
	return save(ctx, r.store, storage.EntitySale, sale.ID, sale)
}

func (r Records) ensureAbsent(ctx context.Context, entity, id string) error {
	_, ok, err := r.store.Load(ctx, entity, id)
	if err != nil {
		return fmt.Errorf("load %s %s: %w", entity, id, err)
	}
	if ok {
		return fmt.Errorf("%w: %s %s already exists", ErrInvariant, entity, id)
	}
	return nil
}

func load[T any](ctx context.Context, store storage.Store, entity, id string) (T, bool, error) {
	var value T
	payload, ok, err := store.Load(ctx, entity, id)
	if err != nil {
		return value, false, fmt.Errorf("load %s %s: %w", entity, id, err)
	}
	if !ok {
		return value, false, nil
	}
	if err := json.Unmarshal(payload, &value); err != nil {
		return value, false, fmt.Errorf("decode %s %s: %w", entity, id, err)
	}
	return value, true, nil
}

func mustLoad[T any](ctx context.Context, store storage.Store, entity, id string) (T, error) {
	value, ok, err := load[T](ctx, store, entity, id)
	if err != nil {
		return value, err
	}
	if !ok {
		return value, fmt.Errorf("%w: %s %s not found", ErrInvariant, entity, id)
	}
	return value, nil
}

func save(ctx context.Context, store storage.Store, entity, id string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", entity, id, err)
	}
	if err := store.Save(ctx, entity, id, payload); err != nil {
		return fmt.Errorf("save %s %s: %w", entity, id, err)
	}
	return nil
}
