package query

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ProjectOpenSea/seaport-gossip-sub000/pkg/types"
)

type fakeStore struct {
	hashes [][32]byte
	orders map[[32]byte]*types.Order
	metas  map[[32]byte]*types.OrderMetadata
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders: make(map[[32]byte]*types.Order),
		metas:  make(map[[32]byte]*types.OrderMetadata),
	}
}

func (f *fakeStore) add(hash [32]byte, o *types.Order, md *types.OrderMetadata) {
	f.hashes = append(f.hashes, hash)
	f.orders[hash] = o
	f.metas[hash] = md
}

func (f *fakeStore) HashesByCollection(token common.Address, opts types.QueryOpts) ([][32]byte, error) {
	return f.hashes, nil
}

func (f *fakeStore) GetOrder(hash [32]byte) (*types.Order, *types.OrderMetadata, error) {
	return f.orders[hash], f.metas[hash], nil
}

type fakeRevalidator struct {
	calls int
}

func (f *fakeRevalidator) RevalidateNow(ctx context.Context, hash [32]byte) error {
	f.calls++
	return nil
}

var currencyToken = common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")

func basicOrder(nftToken common.Address, price int64) *types.Order {
	return &types.Order{
		Offer: []types.OfferItem{{
			ItemType:             types.ItemERC721,
			Token:                nftToken,
			IdentifierOrCriteria: big.NewInt(1),
			StartAmount:          big.NewInt(1),
			EndAmount:            big.NewInt(1),
		}},
		Consideration: []types.ConsiderationItem{{
			ItemType:             types.ItemERC20,
			Token:                currencyToken,
			IdentifierOrCriteria: big.NewInt(0),
			StartAmount:          big.NewInt(price),
			EndAmount:            big.NewInt(price),
		}},
		StartTime: 1000,
		EndTime:   2000,
	}
}

func dutchOrder(nftToken common.Address, start, end int64) *types.Order {
	return &types.Order{
		Offer: []types.OfferItem{{
			ItemType:             types.ItemERC721,
			Token:                nftToken,
			IdentifierOrCriteria: big.NewInt(1),
			StartAmount:          big.NewInt(1),
			EndAmount:            big.NewInt(1),
		}},
		Consideration: []types.ConsiderationItem{{
			ItemType:             types.ItemERC20,
			Token:                currencyToken,
			IdentifierOrCriteria: big.NewInt(0),
			StartAmount:          big.NewInt(start),
			EndAmount:            big.NewInt(end),
		}},
		StartTime: 1000,
		EndTime:   2000,
	}
}

func TestFindFiltersByAuctionType(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	token := common.HexToAddress("0x1111111111111111111111111111111111111111")

	var h1, h2 [32]byte
	h1[0], h2[0] = 0x01, 0x02
	st.add(h1, basicOrder(token, 100), &types.OrderMetadata{IsValid: true, AuctionType: types.AuctionBasic})
	st.add(h2, dutchOrder(token, 200, 100), &types.OrderMetadata{IsValid: true, AuctionType: types.AuctionDutch})

	q := New(st, nil, Config{})

	buyNow, err := q.Find(context.Background(), token, Opts{BuyNow: true})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(buyNow) != 1 || buyNow[0].Hash != h1 {
		t.Fatalf("BuyNow results = %+v, want only h1", buyNow)
	}

	onAuction, err := q.Find(context.Background(), token, Opts{OnAuction: true})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(onAuction) != 1 || onAuction[0].Hash != h2 {
		t.Fatalf("OnAuction results = %+v, want only h2", onAuction)
	}
}

func TestFindFiltersByCurrency(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	token := common.HexToAddress("0x1111111111111111111111111111111111111111")
	otherCurrency := common.HexToAddress("0xdddddddddddddddddddddddddddddddddddddddd")

	var h1, h2 [32]byte
	h1[0], h2[0] = 0x01, 0x02
	st.add(h1, basicOrder(token, 100), &types.OrderMetadata{IsValid: true})
	o2 := basicOrder(token, 50)
	o2.Consideration[0].Token = otherCurrency
	st.add(h2, o2, &types.OrderMetadata{IsValid: true})

	q := New(st, nil, Config{})
	results, err := q.Find(context.Background(), token, Opts{Currency: &currencyToken})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(results) != 1 || results[0].Hash != h1 {
		t.Fatalf("results = %+v, want only h1", results)
	}
}

func TestFindSortsByPrice(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	token := common.HexToAddress("0x1111111111111111111111111111111111111111")

	var h1, h2, h3 [32]byte
	h1[0], h2[0], h3[0] = 0x01, 0x02, 0x03
	st.add(h1, basicOrder(token, 300), &types.OrderMetadata{IsValid: true})
	st.add(h2, basicOrder(token, 100), &types.OrderMetadata{IsValid: true})
	st.add(h3, basicOrder(token, 200), &types.OrderMetadata{IsValid: true})

	q := New(st, nil, Config{})
	asc, err := q.Find(context.Background(), token, Opts{Sort: types.SortPriceAsc})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(asc) != 3 || asc[0].Hash != h2 || asc[1].Hash != h3 || asc[2].Hash != h1 {
		t.Fatalf("price-ascending order wrong: %+v", asc)
	}

	desc, err := q.Find(context.Background(), token, Opts{Sort: types.SortPriceDesc})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if desc[0].Hash != h1 || desc[2].Hash != h2 {
		t.Fatalf("price-descending order wrong: %+v", desc)
	}
}

func TestFindPaginates(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	token := common.HexToAddress("0x1111111111111111111111111111111111111111")
	for i := 0; i < 5; i++ {
		var h [32]byte
		h[0] = byte(i + 1)
		st.add(h, basicOrder(token, int64(i)), &types.OrderMetadata{IsValid: true})
	}

	q := New(st, nil, Config{})
	page, err := q.Find(context.Background(), token, Opts{Sort: types.SortPriceAsc, Offset: 1, Count: 2})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("got %d results, want 2", len(page))
	}
}

func TestFindRevalidateOnRead(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	token := common.HexToAddress("0x1111111111111111111111111111111111111111")
	var h [32]byte
	h[0] = 0x01
	st.add(h, basicOrder(token, 100), &types.OrderMetadata{IsValid: true})

	rv := &fakeRevalidator{}
	q := New(st, rv, Config{RevalidateOnRead: true})
	if _, err := q.Find(context.Background(), token, Opts{}); err != nil {
		t.Fatalf("Find: %v", err)
	}
	if rv.calls != 1 {
		t.Fatalf("revalidate calls = %d, want 1", rv.calls)
	}
}

func TestCurrentPriceDutchInterpolationMidway(t *testing.T) {
	t.Parallel()
	order := dutchOrder(common.Address{}, 2000, 1000) // descending price

	price := CurrentPrice(order, 1500) // halfway
	want := big.NewInt(1500)
	if price.Cmp(want) != 0 {
		t.Errorf("price = %s, want %s", price, want)
	}
}

func TestCurrentPriceBeforeStartClampsToStartAmount(t *testing.T) {
	t.Parallel()
	order := dutchOrder(common.Address{}, 2000, 1000)

	price := CurrentPrice(order, 500)
	if price.Cmp(big.NewInt(2000)) != 0 {
		t.Errorf("price = %s, want 2000", price)
	}
}

func TestCurrentPriceAfterEndClampsToEndAmount(t *testing.T) {
	t.Parallel()
	order := dutchOrder(common.Address{}, 2000, 1000)

	price := CurrentPrice(order, 9999)
	if price.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("price = %s, want 1000", price)
	}
}

func TestCurrentPriceFixedAmountIgnoresTime(t *testing.T) {
	t.Parallel()
	order := basicOrder(common.Address{}, 500)
	price := CurrentPrice(order, uint64(time.Now().Unix()))
	if price.Cmp(big.NewInt(500)) != 0 {
		t.Errorf("price = %s, want 500", price)
	}
}
