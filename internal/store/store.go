// Package store provides the relational persistence layer for orders and
// their mutable metadata. Orders are immutable once admitted; metadata rows
// are updated in place by the revalidation loop and the chain listener.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"

	"github.com/ProjectOpenSea/seaport-gossip-sub000/pkg/types"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// Store is a SQLite-backed order store. All methods are safe for concurrent
// use; SQLite's own locking plus the single-writer connection pool serialize
// writes.
type Store struct {
	db *sql.DB
}

// Config configures the underlying SQLite connection.
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// DefaultConfig returns sane defaults for a node-local datadir.
func DefaultConfig(path string) Config {
	return Config{Path: path, BusyTimeout: 5 * time.Second}
}

// Open opens (creating if necessary) the order store at cfg.Path.
func Open(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite has no concurrent-writer story; serialize at the pool
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutOrder inserts an order and its initial metadata in a single transaction.
// The caller (OrderEngine) is responsible for computing the order hash and
// classifying the initial metadata before calling this.
func (s *Store) PutOrder(hash [32]byte, o *types.Order, md *types.OrderMetadata) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	additionalRecipients, err := json.Marshal(addressesToHex(o.AdditionalRecipients))
	if err != nil {
		return fmt.Errorf("marshal additional recipients: %w", err)
	}

	var numerator, denominator *string
	if o.Numerator != nil {
		v := o.Numerator.String()
		numerator = &v
	}
	if o.Denominator != nil {
		v := o.Denominator.String()
		denominator = &v
	}

	_, err = tx.Exec(`
		INSERT INTO orders (order_hash, offerer, order_type, start_time, end_time, counter, salt,
			conduit_key, zone, zone_hash, chain_id, signature, numerator, denominator, extra_data,
			additional_recipients)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		hash[:], o.Offerer.Bytes(), uint8(o.OrderType), o.StartTime, o.EndTime,
		o.Counter.String(), o.Salt.String(), o.ConduitKey[:], o.Zone.Bytes(), o.ZoneHash[:],
		o.ChainID, o.Signature, numerator, denominator, o.ExtraData, string(additionalRecipients))
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range o.Offer {
		_, err = tx.Exec(`
			INSERT INTO offer_items (order_hash, idx, item_type, token, identifier_or_criteria,
				start_amount, end_amount) VALUES (?,?,?,?,?,?,?)`,
			hash[:], i, uint8(item.ItemType), item.Token.Bytes(),
			item.IdentifierOrCriteria.String(), item.StartAmount.String(), item.EndAmount.String())
		if err != nil {
			return fmt.Errorf("insert offer item %d: %w", i, err)
		}
	}
	for i, item := range o.Consideration {
		_, err = tx.Exec(`
			INSERT INTO consideration_items (order_hash, idx, item_type, token, identifier_or_criteria,
				start_amount, end_amount, recipient) VALUES (?,?,?,?,?,?,?,?)`,
			hash[:], i, uint8(item.ItemType), item.Token.Bytes(),
			item.IdentifierOrCriteria.String(), item.StartAmount.String(), item.EndAmount.String(),
			item.Recipient.Bytes())
		if err != nil {
			return fmt.Errorf("insert consideration item %d: %w", i, err)
		}
	}

	if err := insertMetadata(tx, hash, md); err != nil {
		return err
	}

	return tx.Commit()
}

func insertMetadata(exec execer, hash [32]byte, md *types.OrderMetadata) error {
	_, err := exec.Exec(`
		INSERT INTO order_metadata (order_hash, is_valid, is_pinned, is_fully_fulfilled,
			last_validated_block_number, last_validated_block_hash, last_fulfilled_at,
			last_fulfilled_price, auction_type, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		hash[:], md.IsValid, md.IsPinned, md.IsFullyFulfilled,
		md.LastValidatedBlockNumber, md.LastValidatedBlockHash[:], nullIfEmpty(md.LastFulfilledAt),
		nullIfEmpty(md.LastFulfilledPrice), uint8(md.AuctionType), md.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert metadata: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// UpdateMetadata overwrites the metadata row for an existing order. Used by
// the revalidation loop and the chain listener.
func (s *Store) UpdateMetadata(hash [32]byte, md *types.OrderMetadata) error {
	_, err := s.db.Exec(`
		UPDATE order_metadata SET is_valid=?, is_pinned=?, is_fully_fulfilled=?,
			last_validated_block_number=?, last_validated_block_hash=?, last_fulfilled_at=?,
			last_fulfilled_price=?, auction_type=? WHERE order_hash=?`,
		md.IsValid, md.IsPinned, md.IsFullyFulfilled, md.LastValidatedBlockNumber,
		md.LastValidatedBlockHash[:], nullIfEmpty(md.LastFulfilledAt), nullIfEmpty(md.LastFulfilledPrice),
		uint8(md.AuctionType), hash[:])
	if err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	return nil
}

// DeleteOrder removes an order and its items/metadata (ON DELETE CASCADE).
func (s *Store) DeleteOrder(hash [32]byte) error {
	_, err := s.db.Exec(`DELETE FROM orders WHERE order_hash = ?`, hash[:])
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	return nil
}

// GetOrder reconstructs an order and its metadata from their rows.
// Returns (nil, nil, nil) if no such order exists.
func (s *Store) GetOrder(hash [32]byte) (*types.Order, *types.OrderMetadata, error) {
	row := s.db.QueryRow(`
		SELECT offerer, order_type, start_time, end_time, counter, salt, conduit_key, zone,
			zone_hash, chain_id, signature, numerator, denominator, extra_data, additional_recipients
		FROM orders WHERE order_hash = ?`, hash[:])

	var (
		offerer, conduitKey, zone, zoneHash, signature, extraData []byte
		orderType                                                 uint8
		startTime, endTime                                        uint64
		counterStr, saltStr, chainID, additionalRecipientsJSON    string
		numerator, denominator                                    *string
	)
	err := row.Scan(&offerer, &orderType, &startTime, &endTime, &counterStr, &saltStr, &conduitKey,
		&zone, &zoneHash, &chainID, &signature, &numerator, &denominator, &extraData,
		&additionalRecipientsJSON)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("scan order: %w", err)
	}

	o := &types.Order{
		Offerer:    common.BytesToAddress(offerer),
		OrderType:  types.OrderType(orderType),
		StartTime:  startTime,
		EndTime:    endTime,
		Signature:  signature,
		Zone:       common.BytesToAddress(zone),
		ChainID:    chainID,
		ExtraData:  extraData,
	}
	o.Counter, _ = new(big.Int).SetString(counterStr, 10)
	o.Salt, _ = new(big.Int).SetString(saltStr, 10)
	copy(o.ConduitKey[:], conduitKey)
	copy(o.ZoneHash[:], zoneHash)
	if numerator != nil {
		o.Numerator, _ = new(big.Int).SetString(*numerator, 10)
	}
	if denominator != nil {
		o.Denominator, _ = new(big.Int).SetString(*denominator, 10)
	}
	var recipHex []string
	if err := json.Unmarshal([]byte(additionalRecipientsJSON), &recipHex); err != nil {
		return nil, nil, fmt.Errorf("unmarshal additional recipients: %w", err)
	}
	for _, h := range recipHex {
		o.AdditionalRecipients = append(o.AdditionalRecipients, common.HexToAddress(h))
	}

	if o.Offer, err = s.loadOfferItems(hash); err != nil {
		return nil, nil, err
	}
	if o.Consideration, err = s.loadConsiderationItems(hash); err != nil {
		return nil, nil, err
	}

	md, err := s.loadMetadata(hash)
	if err != nil {
		return nil, nil, err
	}
	return o, md, nil
}

func (s *Store) loadOfferItems(hash [32]byte) ([]types.OfferItem, error) {
	rows, err := s.db.Query(`
		SELECT item_type, token, identifier_or_criteria, start_amount, end_amount
		FROM offer_items WHERE order_hash = ? ORDER BY idx`, hash[:])
	if err != nil {
		return nil, fmt.Errorf("query offer items: %w", err)
	}
	defer rows.Close()

	var items []types.OfferItem
	for rows.Next() {
		var itemType uint8
		var token []byte
		var idOrCriteria, startAmt, endAmt string
		if err := rows.Scan(&itemType, &token, &idOrCriteria, &startAmt, &endAmt); err != nil {
			return nil, fmt.Errorf("scan offer item: %w", err)
		}
		item := types.OfferItem{ItemType: types.ItemType(itemType), Token: common.BytesToAddress(token)}
		item.IdentifierOrCriteria, _ = new(big.Int).SetString(idOrCriteria, 10)
		item.StartAmount, _ = new(big.Int).SetString(startAmt, 10)
		item.EndAmount, _ = new(big.Int).SetString(endAmt, 10)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) loadConsiderationItems(hash [32]byte) ([]types.ConsiderationItem, error) {
	rows, err := s.db.Query(`
		SELECT item_type, token, identifier_or_criteria, start_amount, end_amount, recipient
		FROM consideration_items WHERE order_hash = ? ORDER BY idx`, hash[:])
	if err != nil {
		return nil, fmt.Errorf("query consideration items: %w", err)
	}
	defer rows.Close()

	var items []types.ConsiderationItem
	for rows.Next() {
		var itemType uint8
		var token, recipient []byte
		var idOrCriteria, startAmt, endAmt string
		if err := rows.Scan(&itemType, &token, &idOrCriteria, &startAmt, &endAmt, &recipient); err != nil {
			return nil, fmt.Errorf("scan consideration item: %w", err)
		}
		item := types.ConsiderationItem{
			ItemType:  types.ItemType(itemType),
			Token:     common.BytesToAddress(token),
			Recipient: common.BytesToAddress(recipient),
		}
		item.IdentifierOrCriteria, _ = new(big.Int).SetString(idOrCriteria, 10)
		item.StartAmount, _ = new(big.Int).SetString(startAmt, 10)
		item.EndAmount, _ = new(big.Int).SetString(endAmt, 10)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) loadMetadata(hash [32]byte) (*types.OrderMetadata, error) {
	row := s.db.QueryRow(`
		SELECT is_valid, is_pinned, is_fully_fulfilled, last_validated_block_number,
			last_validated_block_hash, last_fulfilled_at, last_fulfilled_price, auction_type, created_at
		FROM order_metadata WHERE order_hash = ?`, hash[:])

	md := &types.OrderMetadata{OrderHash: hash}
	var blockHash []byte
	var lastFulfilledAt, lastFulfilledPrice *string
	var auctionType uint8
	err := row.Scan(&md.IsValid, &md.IsPinned, &md.IsFullyFulfilled, &md.LastValidatedBlockNumber,
		&blockHash, &lastFulfilledAt, &lastFulfilledPrice, &auctionType, &md.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan metadata: %w", err)
	}
	copy(md.LastValidatedBlockHash[:], blockHash)
	md.AuctionType = types.AuctionType(auctionType)
	if lastFulfilledAt != nil {
		md.LastFulfilledAt = *lastFulfilledAt
	}
	if lastFulfilledPrice != nil {
		md.LastFulfilledPrice = *lastFulfilledPrice
	}
	return md, nil
}

// CountTotal returns the number of orders currently stored.
func (s *Store) CountTotal() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM orders`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

// CountByOfferer returns the number of orders currently stored for offerer.
func (s *Store) CountByOfferer(offerer common.Address) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM orders WHERE offerer = ?`, offerer.Bytes()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count orders by offerer: %w", err)
	}
	return n, nil
}

// CountByCollection returns the number of orders referencing token on the
// side selected by side (SideAny counts either side, without double
// counting an order present on both).
func (s *Store) CountByCollection(token common.Address, side types.Side) (uint64, error) {
	var query string
	switch side {
	case types.SideSell:
		query = `SELECT COUNT(DISTINCT order_hash) FROM offer_items WHERE token = ?`
	case types.SideBuy:
		query = `SELECT COUNT(DISTINCT order_hash) FROM consideration_items WHERE token = ?`
	default:
		query = `SELECT COUNT(*) FROM (
			SELECT order_hash FROM offer_items WHERE token = ?
			UNION
			SELECT order_hash FROM consideration_items WHERE token = ?
		)`
	}
	var n uint64
	var err error
	if side == types.SideAny {
		err = s.db.QueryRow(query, token.Bytes(), token.Bytes()).Scan(&n)
	} else {
		err = s.db.QueryRow(query, token.Bytes()).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count by collection: %w", err)
	}
	return n, nil
}

// HashesByCollection returns order hashes referencing token on either the
// offer or consideration side, honoring opts.Side/opts.Count/opts.Offset.
// opts.Sort is resolved by the caller (internal/query) against the rows this
// returns combined with metadata; this method only applies the side filter
// and pagination, ordered by insertion recency.
func (s *Store) HashesByCollection(token common.Address, opts types.QueryOpts) ([][32]byte, error) {
	var query string
	switch opts.Side {
	case types.SideSell:
		query = `SELECT DISTINCT o.order_hash FROM orders o
			JOIN offer_items i ON i.order_hash = o.order_hash
			WHERE i.token = ? ORDER BY o.rowid DESC LIMIT ? OFFSET ?`
	case types.SideBuy:
		query = `SELECT DISTINCT o.order_hash FROM orders o
			JOIN consideration_items i ON i.order_hash = o.order_hash
			WHERE i.token = ? ORDER BY o.rowid DESC LIMIT ? OFFSET ?`
	default:
		query = `SELECT DISTINCT o.order_hash FROM orders o
			WHERE o.order_hash IN (
				SELECT order_hash FROM offer_items WHERE token = ?
				UNION
				SELECT order_hash FROM consideration_items WHERE token = ?
			) ORDER BY o.rowid DESC LIMIT ? OFFSET ?`
	}

	count := opts.Count
	if count == 0 {
		count = types.DefaultPageSize
	}

	var rows *sql.Rows
	var err error
	if opts.Side == types.SideAny {
		rows, err = s.db.Query(query, token.Bytes(), token.Bytes(), count, opts.Offset)
	} else {
		rows, err = s.db.Query(query, token.Bytes(), count, opts.Offset)
	}
	if err != nil {
		return nil, fmt.Errorf("query hashes by collection: %w", err)
	}
	defer rows.Close()

	var out [][32]byte
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("scan hash: %w", err)
		}
		var h [32]byte
		copy(h[:], b)
		out = append(out, h)
	}
	return out, rows.Err()
}

// HashesByOfferer returns every order hash currently stored for offerer,
// used by the counter-increment handler to find orders to invalidate.
func (s *Store) HashesByOfferer(offerer common.Address) ([][32]byte, error) {
	rows, err := s.db.Query(`SELECT order_hash FROM orders WHERE offerer = ?`, offerer.Bytes())
	if err != nil {
		return nil, fmt.Errorf("query hashes by offerer: %w", err)
	}
	defer rows.Close()

	var out [][32]byte
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("scan hash: %w", err)
		}
		var h [32]byte
		copy(h[:], b)
		out = append(out, h)
	}
	return out, rows.Err()
}

// StaleHashes returns order hashes whose metadata predates cutoff, for the
// history-retention cleanup pass (spec maxOrderHistory).
func (s *Store) StaleHashes(cutoff time.Time) ([][32]byte, error) {
	rows, err := s.db.Query(`SELECT order_hash FROM order_metadata WHERE created_at < ? AND is_pinned = 0`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query stale metadata: %w", err)
	}
	defer rows.Close()

	var out [][32]byte
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("scan stale hash: %w", err)
		}
		var h [32]byte
		copy(h[:], b)
		out = append(out, h)
	}
	return out, rows.Err()
}

// RevalidationCandidates returns up to limit order hashes whose
// last_validated_block_number is <= maxBlock, ordered ascending (oldest
// first), for the revalidation loop. Block numbers are stored
// as decimal strings but cast to integers for comparison/ordering; this is
// exact for any block height that fits in a 64-bit signed integer.
func (s *Store) RevalidationCandidates(maxBlock uint64, limit int) ([][32]byte, error) {
	rows, err := s.db.Query(`
		SELECT order_hash FROM order_metadata
		WHERE CAST(last_validated_block_number AS INTEGER) <= ?
		ORDER BY CAST(last_validated_block_number AS INTEGER) ASC
		LIMIT ?`, maxBlock, limit)
	if err != nil {
		return nil, fmt.Errorf("query revalidation candidates: %w", err)
	}
	defer rows.Close()

	var out [][32]byte
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("scan hash: %w", err)
		}
		var h [32]byte
		copy(h[:], b)
		out = append(out, h)
	}
	return out, rows.Err()
}

// AllHashes returns every order hash in the store. It does not hold a
// transaction open across callers.
func (s *Store) AllHashes() ([][32]byte, error) {
	rows, err := s.db.Query(`SELECT order_hash FROM orders`)
	if err != nil {
		return nil, fmt.Errorf("query all hashes: %w", err)
	}
	defer rows.Close()

	var out [][32]byte
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("scan hash: %w", err)
		}
		var h [32]byte
		copy(h[:], b)
		out = append(out, h)
	}
	return out, rows.Err()
}

// PutCriteria stores (or replaces) a criteria set.
func (s *Store) PutCriteria(c *types.Criteria) error {
	ids := make([]string, len(c.TokenIDs))
	for i, id := range c.TokenIDs {
		ids[i] = id.String()
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal token ids: %w", err)
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO criteria (hash, token, token_ids) VALUES (?,?,?)`,
		c.Hash[:], c.Token.Bytes(), string(idsJSON))
	if err != nil {
		return fmt.Errorf("insert criteria: %w", err)
	}
	return nil
}

// GetCriteria retrieves a criteria set by its Merkle root hash. Returns
// (nil, nil) if unknown.
func (s *Store) GetCriteria(hash [32]byte) (*types.Criteria, error) {
	row := s.db.QueryRow(`SELECT token, token_ids FROM criteria WHERE hash = ?`, hash[:])
	var token []byte
	var idsJSON string
	if err := row.Scan(&token, &idsJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan criteria: %w", err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(idsJSON), &ids); err != nil {
		return nil, fmt.Errorf("unmarshal token ids: %w", err)
	}
	c := &types.Criteria{Hash: hash, Token: common.BytesToAddress(token)}
	for _, s := range ids {
		id, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("invalid token id %q", s)
		}
		c.TokenIDs = append(c.TokenIDs, id)
	}
	return c, nil
}

func addressesToHex(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	return out
}
