package contracts

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Unknown is the name resolved for addresses missing from the registry.
const Unknown = "UNKNOWN"

const (
	defaultNativeName    = "ETH"
	defaultNativeAddress = "0x0000000000000000000000000000000000000000"
)

type Contract struct {
	Name       string `yaml:"name" json:"name"`
	Address    string `yaml:"address" json:"address"`
	StartBlock uint64 `yaml:"start_block" json:"start_block,omitempty"`
}

// File is the on-disk layout of the registry.
type File struct {
	Native   Contract   `yaml:"native"`
	Assets   []Contract `yaml:"assets"`
	Payments []Contract `yaml:"payments"`
}

// Registry resolves contract addresses to human readable names and lists
// the contracts the ordering process watches.
type Registry struct {
	native   Contract
	assets   []Contract
	payments []Contract
	names    map[string]string
	kinds    map[string]kind
}

type kind int

const (
	kindNative kind = iota
	kindAsset
	kindPayment
)

func Load(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("contracts file path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contracts file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Registry, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode contracts file: %w", err)
	}
	return New(file)
}

func New(file File) (*Registry, error) {
	native := file.Native
	if strings.TrimSpace(native.Name) == "" {
		native.Name = defaultNativeName
	}
	if strings.TrimSpace(native.Address) == "" {
		native.Address = defaultNativeAddress
	}

	r := &Registry{
		names: make(map[string]string),
		kinds: make(map[string]kind),
	}
	var err error
	if r.native, err = r.add(native, kindNative); err != nil {
		return nil, err
	}
	for _, c := range file.Assets {
		normalized, err := r.add(c, kindAsset)
		if err != nil {
			return nil, err
		}
		r.assets = append(r.assets, normalized)
	}
	for _, c := range file.Payments {
		normalized, err := r.add(c, kindPayment)
		if err != nil {
			return nil, err
		}
		r.payments = append(r.payments, normalized)
	}
	return r, nil
}

func (r *Registry) add(c Contract, k kind) (Contract, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return Contract{}, fmt.Errorf("contract %q has no name", c.Address)
	}
	address, err := NormalizeAddress(c.Address)
	if err != nil {
		return Contract{}, fmt.Errorf("contract %s: %w", name, err)
	}
	if existing, ok := r.names[address]; ok {
		return Contract{}, fmt.Errorf("contract %s: address %s already registered as %s", name, address, existing)
	}
	r.names[address] = name
	r.kinds[address] = k
	return Contract{Name: name, Address: address, StartBlock: c.StartBlock}, nil
}

// Name returns the registered name of address, or Unknown.
func (r *Registry) Name(address string) string {
	if r == nil {
		return Unknown
	}
	if name, ok := r.names[strings.ToLower(strings.TrimSpace(address))]; ok {
		return name
	}
	return Unknown
}

// Native returns the sentinel used as payment token of native-currency sales.
func (r *Registry) Native() Contract {
	return r.native
}

func (r *Registry) Assets() []Contract {
	return append([]Contract(nil), r.assets...)
}

func (r *Registry) Payments() []Contract {
	return append([]Contract(nil), r.payments...)
}

func (r *Registry) IsAsset(address string) bool {
	return r.kinds[strings.ToLower(address)] == kindAsset
}

func (r *Registry) IsPayment(address string) bool {
	return r.kinds[strings.ToLower(address)] == kindPayment
}

// Watched lists every asset and payment contract address.
func (r *Registry) Watched() []string {
	addresses := make([]string, 0, len(r.assets)+len(r.payments))
	for _, c := range r.assets {
		addresses = append(addresses, c.Address)
	}
	for _, c := range r.payments {
		addresses = append(addresses, c.Address)
	}
	return addresses
}

// StartBlock is the lowest start block among the asset contracts. Payment
// tokens are indexed from the same block.
func (r *Registry) StartBlock() uint64 {
	var start uint64
	for i, c := range r.assets {
		if i == 0 || c.StartBlock < start {
			start = c.StartBlock
		}
	}
	return start
}

// NormalizeAddress validates a hex address and returns it lower-cased.
func NormalizeAddress(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return "", fmt.Errorf("invalid address %q", raw)
	}
	return strings.ToLower(common.HexToAddress(trimmed).Hex()), nil
}
