package mortgage

import (
	"fmt"
	"math/big"

	"mortgagechain/native/market"
	"mortgagechain/native/parcel"
)

// CollateralMarket prices, buys and moves collateral.
type CollateralMarket interface {
	// Price returns the current listed price or an error wrapping
	// ErrNotListed.
	Price(id parcel.ID) (*big.Int, error)
	// Spender is the address a buyer approves before Buy.
	Spender() [20]byte
	// Buy purchases id for buyer paying at most maxPrice.
	Buy(buyer [20]byte, id parcel.ID, maxPrice *big.Int) (*big.Int, error)
	// OwnerOf returns the collateral's current holder.
	OwnerOf(id parcel.ID) ([20]byte, error)
	// TransferCollateral moves id held by from to to.
	TransferCollateral(from, to [20]byte, id parcel.ID) error
}

// MarketAdapter backs CollateralMarket with the native marketplace and parcel
// registry.
type MarketAdapter struct {
	market  *market.Marketplace
	parcels *parcel.Registry
}

func NewMarketAdapter(m *market.Marketplace, parcels *parcel.Registry) *MarketAdapter {
	return &MarketAdapter{market: m, parcels: parcels}
}

func (a *MarketAdapter) Price(id parcel.ID) (*big.Int, error) {
	price, err := a.market.Price(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotListed, err)
	}
	return price, nil
}

func (a *MarketAdapter) Spender() [20]byte { return a.market.Address() }

func (a *MarketAdapter) Buy(buyer [20]byte, id parcel.ID, maxPrice *big.Int) (*big.Int, error) {
	return a.market.ExecuteOrder(buyer, id, maxPrice)
}

func (a *MarketAdapter) OwnerOf(id parcel.ID) ([20]byte, error) {
	return a.parcels.OwnerOf(id)
}

func (a *MarketAdapter) TransferCollateral(from, to [20]byte, id parcel.ID) error {
	return a.parcels.Transfer(from, from, to, id)
}
