package codec

import (
	"bytes"
	"fmt"
	"io"
	"math/big"

	"github.com/ProjectOpenSea/seaport-gossip-sub000/pkg/types"
)

// EncodeGossipEvent writes a GossipsubEvent. Order is only present for event
// kinds that carry one (NEW always does; the others carry it only when the
// publisher chooses to, signalled by a leading presence byte).
func EncodeGossipEvent(w io.Writer, e *types.GossipsubEvent) error {
	if err := writeUint8(w, uint8(e.EventType)); err != nil {
		return err
	}
	if err := writeBytes32(w, e.OrderHash); err != nil {
		return err
	}
	if err := writeUint64(w, e.BlockNumber); err != nil {
		return err
	}
	if err := writeBytes32(w, e.BlockHash); err != nil {
		return err
	}

	hasOrder := e.Order != nil
	if err := writeBool(w, hasOrder); err != nil {
		return err
	}
	if hasOrder {
		if err := EncodeOrder(w, e.Order); err != nil {
			return fmt.Errorf("order: %w", err)
		}
	}

	if e.EventType == types.EventCounterIncremented {
		if err := writeBytes20(w, e.Offerer); err != nil {
			return err
		}
		newCounter := e.NewCounter
		if newCounter == nil {
			newCounter = big.NewInt(0)
		}
		if err := writeUintBig256(w, newCounter); err != nil {
			return err
		}
	}
	return nil
}

func writeBool(w io.Writer, v bool) error {
	if v {
		return writeUint8(w, 1)
	}
	return writeUint8(w, 0)
}

func readBool(r io.Reader) (bool, error) {
	v, err := readUint8(r)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// DecodeGossipEvent reads a GossipsubEvent. Decode failure is the receive
// pipeline's signal to Reject and drop the message.
func DecodeGossipEvent(r io.Reader) (*types.GossipsubEvent, error) {
	e := &types.GossipsubEvent{}
	et, err := readUint8(r)
	if err != nil {
		return nil, err
	}
	e.EventType = types.GossipEventType(et)

	if e.OrderHash, err = readBytes32(r); err != nil {
		return nil, err
	}
	if e.BlockNumber, err = readUint64(r); err != nil {
		return nil, err
	}
	if e.BlockHash, err = readBytes32(r); err != nil {
		return nil, err
	}

	hasOrder, err := readBool(r)
	if err != nil {
		return nil, err
	}
	if hasOrder {
		order, err := DecodeOrder(r)
		if err != nil {
			return nil, fmt.Errorf("order: %w", err)
		}
		e.Order = order
	}

	if e.EventType == types.EventCounterIncremented {
		if e.Offerer, err = readBytes20(r); err != nil {
			return nil, err
		}
		if e.NewCounter, err = readUintBig256(r); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// GossipMessageID derives the receiver-deduplication id for a gossip event:
// topic_bytes ‖ event_code ‖ orderHash ‖ blockHash. It MUST
// yield identical ids on different nodes for the same logical event.
func GossipMessageID(topic string, e *types.GossipsubEvent) []byte {
	buf := bytes.NewBuffer(nil)
	buf.WriteString(topic)
	buf.WriteByte(byte(e.EventType))
	buf.Write(e.OrderHash[:])
	buf.Write(e.BlockHash[:])
	return buf.Bytes()
}
