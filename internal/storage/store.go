package storage

import (
	"context"
	"errors"
)

// Entity names used as the first half of every record key.
const (
	EntityProcessState    = "ProcessState"
	EntityPaymentTransfer = "PaymentTransfer"
	EntityAssetTransfer   = "AssetTransfer"
	EntityLookupTable     = "LookupTable"
	EntitySale            = "Sale"
)

// ErrInvalidInput is returned when an entity name or id is empty.
var ErrInvalidInput = errors.New("invalid input")

// Store is a keyed record store. Payloads are opaque JSON documents.
type Store interface {
	Load(ctx context.Context, entity, id string) ([]byte, bool, error)
	Save(ctx context.Context, entity, id string, payload []byte) error
	Delete(ctx context.Context, entity, id string) error
}

// Transactor runs fn with a Store whose writes become visible together when
// fn returns nil and are discarded otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

type Record struct {
	Entity  string
	ID      string
	Payload []byte
}

type ListFilter struct {
	Entity string
	After  string
	Limit  int
}

// Lister pages through the records of one entity ordered by id.
type Lister interface {
	List(ctx context.Context, filter ListFilter) ([]Record, error)
}

// Backend is what a persistent implementation provides.
type Backend interface {
	Store
	Transactor
	Lister
	Ping(ctx context.Context) error
}

func ValidateKey(entity, id string) error {
	if entity == "" || id == "" {
		return ErrInvalidInput
	}
	return nil
}

func NormalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
