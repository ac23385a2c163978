package codec

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ProjectOpenSea/seaport-gossip-sub000/pkg/types"
)

func sampleOrder() *types.Order {
	return &types.Order{
		Offer: []types.OfferItem{
			{
				ItemType:             types.ItemERC721,
				Token:                common.HexToAddress("0x1111111111111111111111111111111111111111"),
				IdentifierOrCriteria: big.NewInt(42),
				StartAmount:          big.NewInt(1),
				EndAmount:            big.NewInt(1),
			},
		},
		Consideration: []types.ConsiderationItem{
			{
				ItemType:             types.ItemNative,
				Token:                common.Address{},
				IdentifierOrCriteria: big.NewInt(0),
				StartAmount:          big.NewInt(1_000_000_000_000_000),
				EndAmount:            big.NewInt(1_000_000_000_000_000),
				Recipient:            common.HexToAddress("0x2222222222222222222222222222222222222222"),
			},
		},
		Offerer:    common.HexToAddress("0x3333333333333333333333333333333333333333"),
		Signature:  bytes.Repeat([]byte{0xab}, 65),
		OrderType:  types.FullOpen,
		StartTime:  1_700_000_000,
		EndTime:    1_700_100_000,
		Counter:    big.NewInt(0),
		Salt:       big.NewInt(123456789),
		ConduitKey: [32]byte{},
		Zone:       common.Address{},
		ZoneHash:   [32]byte{},
		ChainID:    "1",
	}
}

func TestHashOrderDeterministic(t *testing.T) {
	t.Parallel()
	o := sampleOrder()
	h1, err := HashOrder(o)
	if err != nil {
		t.Fatalf("HashOrder: %v", err)
	}
	h2, err := HashOrder(o)
	if err != nil {
		t.Fatalf("HashOrder: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %x != %x", h1, h2)
	}

	clone := sampleOrder()
	h3, err := HashOrder(clone)
	if err != nil {
		t.Fatalf("HashOrder: %v", err)
	}
	if h1 != h3 {
		t.Fatalf("same logical order hashed differently: %x != %x", h1, h3)
	}

	clone.Salt = big.NewInt(987654321)
	h4, err := HashOrder(clone)
	if err != nil {
		t.Fatalf("HashOrder: %v", err)
	}
	if h1 == h4 {
		t.Fatalf("changing salt did not change hash")
	}
}

func TestOrderRoundTrip(t *testing.T) {
	t.Parallel()
	o := sampleOrder()

	var buf bytes.Buffer
	if err := EncodeOrder(&buf, o); err != nil {
		t.Fatalf("EncodeOrder: %v", err)
	}
	decoded, err := DecodeOrder(&buf)
	if err != nil {
		t.Fatalf("DecodeOrder: %v", err)
	}

	h1, _ := HashOrder(o)
	h2, _ := HashOrder(decoded)
	if h1 != h2 {
		t.Fatalf("round-tripped order hashes differently: %x != %x", h1, h2)
	}
	if !bytes.Equal(decoded.Signature, o.Signature) {
		t.Fatalf("signature not preserved: got %x want %x", decoded.Signature, o.Signature)
	}
}

func TestSignaturePaddingRoundTrip(t *testing.T) {
	t.Parallel()
	cases := [][]byte{
		bytes.Repeat([]byte{0x01}, 64),
		bytes.Repeat([]byte{0x02}, 65),
	}
	for _, sig := range cases {
		var buf bytes.Buffer
		if err := writeSignature(&buf, sig); err != nil {
			t.Fatalf("writeSignature: %v", err)
		}
		got, err := readSignature(&buf)
		if err != nil {
			t.Fatalf("readSignature: %v", err)
		}
		if !bytes.Equal(got, sig) {
			t.Fatalf("signature length %d not preserved: got %d bytes", len(sig), len(got))
		}
	}
}

func TestAdvancedOrderDefaultsRoundTrip(t *testing.T) {
	t.Parallel()
	o := sampleOrder()
	// Leave Numerator/Denominator/ExtraData/AdditionalRecipients nil/empty.

	var buf bytes.Buffer
	if err := EncodeOrder(&buf, o); err != nil {
		t.Fatalf("EncodeOrder: %v", err)
	}
	decoded, err := DecodeOrder(&buf)
	if err != nil {
		t.Fatalf("DecodeOrder: %v", err)
	}
	if decoded.Numerator != nil {
		t.Fatalf("expected absent numerator, got %v", decoded.Numerator)
	}
	if decoded.Denominator != nil {
		t.Fatalf("expected absent denominator, got %v", decoded.Denominator)
	}
	if decoded.ExtraData != nil {
		t.Fatalf("expected absent extraData, got %x", decoded.ExtraData)
	}
	if decoded.AdditionalRecipients != nil {
		t.Fatalf("expected absent additionalRecipients, got %v", decoded.AdditionalRecipients)
	}
}

func TestGossipMessageIDDeterministic(t *testing.T) {
	t.Parallel()
	o := sampleOrder()
	hash, err := HashOrder(o)
	if err != nil {
		t.Fatalf("HashOrder: %v", err)
	}
	evt := &types.GossipsubEvent{
		EventType:   types.EventNew,
		OrderHash:   hash,
		BlockNumber: 100,
		BlockHash:   [32]byte{0xde, 0xad, 0xbe, 0xef},
	}

	id1 := GossipMessageID("0x1111111111111111111111111111111111111111", evt)
	id2 := GossipMessageID("0x1111111111111111111111111111111111111111", evt)
	if !bytes.Equal(id1, id2) {
		t.Fatalf("message id not deterministic")
	}

	id3 := GossipMessageID("0x2222222222222222222222222222222222222222", evt)
	if bytes.Equal(id1, id3) {
		t.Fatalf("message id did not change with topic")
	}
}

func TestGetOrdersRoundTrip(t *testing.T) {
	t.Parallel()
	msg := &GetOrdersMsg{ReqID: 7, Hashes: [][32]byte{{1}, {2}, {3}}}
	var buf bytes.Buffer
	if err := EncodeGetOrders(&buf, msg); err != nil {
		t.Fatalf("EncodeGetOrders: %v", err)
	}
	decoded, err := DecodeGetOrders(&buf)
	if err != nil {
		t.Fatalf("DecodeGetOrders: %v", err)
	}
	if decoded.ReqID != msg.ReqID || len(decoded.Hashes) != len(msg.Hashes) {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestListCapsRejected(t *testing.T) {
	t.Parallel()
	o := sampleOrder()
	for i := 0; i < MaxOfferItems; i++ {
		o.Offer = append(o.Offer, o.Offer[0])
	}
	var buf bytes.Buffer
	if err := EncodeOrder(&buf, o); err == nil {
		t.Fatalf("expected error encoding oversized offer list")
	}
}
