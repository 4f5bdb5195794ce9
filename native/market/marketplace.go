package market

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"mortgagechain/core/events"
	"mortgagechain/core/types"
	"mortgagechain/native/parcel"
)

var (
	ErrNotListed       = errors.New("market: parcel not listed")
	ErrNotSeller       = errors.New("market: caller is not the seller")
	ErrNotOwner        = errors.New("market: seller does not own the parcel")
	ErrOperatorMissing = errors.New("market: marketplace is not an approved operator")
	ErrPriceAboveMax   = errors.New("market: price exceeds buyer maximum")
	ErrInvalidPrice    = errors.New("market: price must be positive")
	ErrInvalidExpiry   = errors.New("market: expiry must be in the future")
	ErrSelfPurchase    = errors.New("market: seller cannot buy own listing")
	errNilState        = errors.New("market: state not configured")
	errMissingDeps     = errors.New("market: ledger and registry required")
)

const (
	EventTypeOrderCreated   = "market.order.created"
	EventTypeOrderCancelled = "market.order.cancelled"
	EventTypeOrderExecuted  = "market.order.executed"
)

type KVStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Ledger is the fungible token surface the marketplace settles with.
type Ledger interface {
	TransferFrom(symbol string, spender, owner, to [20]byte, amount *big.Int) error
}

// Parcels is the registry surface the marketplace moves parcels through.
type Parcels interface {
	OwnerOf(id parcel.ID) ([20]byte, error)
	IsApprovedForAll(owner, operator [20]byte) (bool, error)
	Transfer(caller, from, to [20]byte, id parcel.ID) error
}

// Order is a fixed-price listing of one parcel.
type Order struct {
	Parcel    parcel.ID
	Seller    [20]byte
	Price     *big.Int
	ExpiresAt uint64
	CreatedAt uint64
}

// Marketplace lists parcels for sale in a single pricing token.
type Marketplace struct {
	address [20]byte
	token   string
	state   KVStore
	ledger  Ledger
	parcels Parcels
	emitter events.Emitter
	nowFn   func() int64
}

// NewMarketplace creates a marketplace acting from address and settling in
// token.
func NewMarketplace(address [20]byte, token string, state KVStore, ledger Ledger, parcels Parcels) *Marketplace {
	return &Marketplace{
		address: address,
		token:   token,
		state:   state,
		ledger:  ledger,
		parcels: parcels,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

func (m *Marketplace) Address() [20]byte { return m.address }

// Token returns the symbol listings are priced in.
func (m *Marketplace) Token() string { return m.token }

func (m *Marketplace) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		m.emitter = events.NoopEmitter{}
		return
	}
	m.emitter = emitter
}

// SetNowFunc overrides the clock. Passing nil restores wall time.
func (m *Marketplace) SetNowFunc(now func() int64) {
	if now == nil {
		m.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	m.nowFn = now
}

func (m *Marketplace) now() uint64 {
	ts := m.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func orderKey(id parcel.ID) []byte { return append([]byte("market/order/"), id[:]...) }

func (m *Marketplace) ready() error {
	if m == nil || m.state == nil {
		return errNilState
	}
	if m.ledger == nil || m.parcels == nil {
		return errMissingDeps
	}
	return nil
}

// CreateOrder lists a parcel. The seller must own it and must have approved
// the marketplace as operator. An existing order for the parcel is replaced.
func (m *Marketplace) CreateOrder(seller [20]byte, id parcel.ID, price *big.Int, expiresAt uint64) (*Order, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	now := m.now()
	if expiresAt <= now {
		return nil, ErrInvalidExpiry
	}
	owner, err := m.parcels.OwnerOf(id)
	if err != nil {
		return nil, err
	}
	if owner != seller {
		return nil, ErrNotOwner
	}
	approved, err := m.parcels.IsApprovedForAll(seller, m.address)
	if err != nil {
		return nil, err
	}
	if !approved {
		return nil, ErrOperatorMissing
	}
	order := &Order{Parcel: id, Seller: seller, Price: new(big.Int).Set(price), ExpiresAt: expiresAt, CreatedAt: now}
	if err := m.state.KVPut(orderKey(id), order); err != nil {
		return nil, err
	}
	m.emit(EventTypeOrderCreated, order, [20]byte{})
	return order, nil
}

// CancelOrder removes a listing. Only the seller may cancel.
func (m *Marketplace) CancelOrder(caller [20]byte, id parcel.ID) error {
	order, err := m.loadOrder(id)
	if err != nil {
		return err
	}
	if order.Seller != caller {
		return ErrNotSeller
	}
	if err := m.state.KVDelete(orderKey(id)); err != nil {
		return err
	}
	m.emit(EventTypeOrderCancelled, order, [20]byte{})
	return nil
}

func (m *Marketplace) loadOrder(id parcel.ID) (*Order, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	order := new(Order)
	ok, err := m.state.KVGet(orderKey(id), order)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotListed, id)
	}
	return order, nil
}

// Order returns the active listing for a parcel. Expired listings and
// listings whose seller no longer holds the parcel are reported as not listed.
func (m *Marketplace) Order(id parcel.ID) (*Order, error) {
	order, err := m.loadOrder(id)
	if err != nil {
		return nil, err
	}
	if order.ExpiresAt <= m.now() {
		return nil, fmt.Errorf("%w: %s expired", ErrNotListed, id)
	}
	owner, err := m.parcels.OwnerOf(id)
	if err != nil || owner != order.Seller {
		return nil, fmt.Errorf("%w: %s seller no longer owns parcel", ErrNotListed, id)
	}
	return order, nil
}

// Price returns the current listed price of a parcel.
func (m *Marketplace) Price(id parcel.ID) (*big.Int, error) {
	order, err := m.Order(id)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(order.Price), nil
}

// ExecuteOrder buys a listed parcel for buyer. The price must not exceed
// maxPrice and is pulled from the buyer through the ledger allowance granted
// to the marketplace.
func (m *Marketplace) ExecuteOrder(buyer [20]byte, id parcel.ID, maxPrice *big.Int) (*big.Int, error) {
	order, err := m.Order(id)
	if err != nil {
		return nil, err
	}
	if buyer == order.Seller {
		return nil, ErrSelfPurchase
	}
	if maxPrice != nil && order.Price.Cmp(maxPrice) > 0 {
		return nil, fmt.Errorf("%w: price %s max %s", ErrPriceAboveMax, order.Price, maxPrice)
	}
	if err := m.state.KVDelete(orderKey(id)); err != nil {
		return nil, err
	}
	if err := m.ledger.TransferFrom(m.token, m.address, buyer, order.Seller, order.Price); err != nil {
		return nil, err
	}
	if err := m.parcels.Transfer(m.address, order.Seller, buyer, id); err != nil {
		return nil, err
	}
	m.emit(EventTypeOrderExecuted, order, buyer)
	return new(big.Int).Set(order.Price), nil
}

func (m *Marketplace) emit(eventType string, order *Order, buyer [20]byte) {
	attrs := map[string]string{
		"parcel":    order.Parcel.String(),
		"seller":    hex.EncodeToString(order.Seller[:]),
		"price":     order.Price.String(),
		"token":     m.token,
		"expiresAt": strconv.FormatUint(order.ExpiresAt, 10),
	}
	if buyer != ([20]byte{}) {
		attrs["buyer"] = hex.EncodeToString(buyer[:])
	}
	m.emitter.Emit(events.Typed{Evt: &types.Event{Type: eventType, Attributes: attrs}})
}
