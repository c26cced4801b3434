// Package ethrpc implements the chain.Source boundary over Ethereum JSON-RPC.
//
// The client speaks the minimal subset of the protocol the indexer needs:
// eth_blockNumber for the head position, eth_getLogs for event retrieval,
// eth_getBlockByNumber for block timestamps, and eth_call to enrich product
// registrations with the contract's stored record. Event payloads are decoded
// once at this boundary into the typed chain.Event variants; everything past
// this package works with named fields, never raw log positions.
package ethrpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/tracefold/tracefold/internal/chain"
)

// Canonical signatures of the tracked contract events.
const (
	sigProductCreated     = "ProductCreated(uint256,string,address)"
	sigBatchCreated       = "BatchCreated(uint256,uint256,address,uint256)"
	sigBatchTransferred   = "BatchTransferred(uint256,address,address,string)"
	sigDocumentAttached   = "DocumentAttached(uint256,string,string,address)"
	sigSensorDataAnchored = "SensorDataAnchored(uint256,bytes32,int256,uint256,string)"
	sigBatchRecalled      = "BatchRecalled(uint256,string,address)"

	sigGetProduct = "getProduct(uint256)"
)

// The contract anchors environmental readings only; the label is fixed at
// the decode boundary.
const environmentalReading = "environmental"

const defaultRequestTimeout = 15 * time.Second

// Client fetches and decodes contract events over JSON-RPC.
type Client struct {
	endpoint   string
	contract   string
	httpClient *http.Client

	topics     []string
	kindByHash map[string]chain.Kind
}

// NewClient creates a Client for the given RPC endpoint and contract address.
func NewClient(endpoint, contract string) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("rpc endpoint is required")
	}
	contract = strings.ToLower(strings.TrimSpace(contract))
	if contract == "" {
		return nil, fmt.Errorf("contract address is required")
	}

	kindBySig := map[string]chain.Kind{
		sigProductCreated:     chain.KindProductCreated,
		sigBatchCreated:       chain.KindBatchCreated,
		sigBatchTransferred:   chain.KindBatchTransferred,
		sigDocumentAttached:   chain.KindDocumentAttached,
		sigSensorDataAnchored: chain.KindSensorDataAnchored,
		sigBatchRecalled:      chain.KindBatchRecalled,
	}
	topics := make([]string, 0, len(kindBySig))
	kindByHash := make(map[string]chain.Kind, len(kindBySig))
	for sig, kind := range kindBySig {
		topic := eventTopic(sig)
		topics = append(topics, topic)
		kindByHash[topic] = kind
	}
	sort.Strings(topics)

	return &Client{
		endpoint:   endpoint,
		contract:   contract,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		topics:     topics,
		kindByHash: kindByHash,
	}, nil
}

// HeadBlock returns the current chain head position.
func (c *Client) HeadBlock(ctx context.Context) (uint64, error) {
	var result string
	if err := c.call(ctx, "eth_blockNumber", []any{}, &result); err != nil {
		return 0, fmt.Errorf("fetch head block: %w", err)
	}
	head, err := decodeHexUint(result)
	if err != nil {
		return 0, fmt.Errorf("decode head block: %w", err)
	}
	return head, nil
}

// FetchRange returns every tracked event in [from, to] in chain order.
// A single filtered log query covers all kinds, so the range either fetches
// whole or fails whole; callers retry without advancing their checkpoint.
func (c *Client) FetchRange(ctx context.Context, from, to uint64) ([]chain.Event, error) {
	if to < from {
		return nil, fmt.Errorf("invalid range [%d, %d]", from, to)
	}

	filter := map[string]any{
		"address":   c.contract,
		"fromBlock": hexQuantity(from),
		"toBlock":   hexQuantity(to),
		"topics":    []any{c.topics},
	}
	var logs []rpcLog
	if err := c.call(ctx, "eth_getLogs", []any{filter}, &logs); err != nil {
		return nil, fmt.Errorf("fetch logs [%d, %d]: %w", from, to, err)
	}

	timestamps := make(map[uint64]time.Time)
	events := make([]chain.Event, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		evt, err := c.decodeLog(ctx, lg)
		if err != nil {
			return nil, fmt.Errorf("decode log at block %s index %s: %w", lg.BlockNumber, lg.LogIndex, err)
		}
		ts, err := c.blockTimestamp(ctx, evt.Position.Block, timestamps)
		if err != nil {
			return nil, err
		}
		evt.Timestamp = ts
		events = append(events, evt)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Position.Less(events[j].Position)
	})
	return events, nil
}

func (c *Client) decodeLog(ctx context.Context, lg rpcLog) (chain.Event, error) {
	if len(lg.Topics) == 0 {
		return chain.Event{}, fmt.Errorf("log has no topics")
	}
	kind, ok := c.kindByHash[strings.ToLower(lg.Topics[0])]
	if !ok {
		return chain.Event{}, fmt.Errorf("unknown event topic %s", lg.Topics[0])
	}

	block, err := decodeHexUint(lg.BlockNumber)
	if err != nil {
		return chain.Event{}, fmt.Errorf("decode block number: %w", err)
	}
	logIndex, err := decodeHexUint(lg.LogIndex)
	if err != nil {
		return chain.Event{}, fmt.Errorf("decode log index: %w", err)
	}

	evt := chain.Event{
		Kind:     kind,
		Position: chain.Position{Block: block, LogIndex: uint32(logIndex)},
		TxHash:   lg.TransactionHash,
	}
	data, err := newWordReader(lg.Data)
	if err != nil {
		return chain.Event{}, err
	}

	switch kind {
	case chain.KindProductCreated:
		if err := c.decodeProductCreated(ctx, lg, &evt); err != nil {
			return chain.Event{}, err
		}
	case chain.KindBatchCreated:
		if err := decodeBatchCreated(lg, data, &evt); err != nil {
			return chain.Event{}, err
		}
	case chain.KindBatchTransferred:
		if err := decodeBatchTransferred(lg, data, &evt); err != nil {
			return chain.Event{}, err
		}
	case chain.KindDocumentAttached:
		if err := decodeDocumentAttached(lg, data, &evt); err != nil {
			return chain.Event{}, err
		}
	case chain.KindSensorDataAnchored:
		if err := decodeSensorDataAnchored(lg, data, &evt); err != nil {
			return chain.Event{}, err
		}
	case chain.KindBatchRecalled:
		if err := decodeBatchRecalled(lg, data, &evt); err != nil {
			return chain.Event{}, err
		}
	}
	return evt, nil
}

func (c *Client) blockTimestamp(ctx context.Context, block uint64, cache map[uint64]time.Time) (time.Time, error) {
	if ts, ok := cache[block]; ok {
		return ts, nil
	}
	var result struct {
		Timestamp string `json:"timestamp"`
	}
	if err := c.call(ctx, "eth_getBlockByNumber", []any{hexQuantity(block), false}, &result); err != nil {
		return time.Time{}, fmt.Errorf("fetch block %d: %w", block, err)
	}
	seconds, err := decodeHexUint(result.Timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode block %d timestamp: %w", block, err)
	}
	ts := time.Unix(int64(seconds), 0).UTC()
	cache[block] = ts
	return ts, nil
}

// decodeProductCreated reads the registration log and enriches it with the
// contract's stored product record, as the source system did.
func (c *Client) decodeProductCreated(ctx context.Context, lg rpcLog, evt *chain.Event) error {
	if len(lg.Topics) < 3 {
		return fmt.Errorf("product created log needs 3 topics, got %d", len(lg.Topics))
	}
	productID, err := topicUint(lg.Topics[1])
	if err != nil {
		return err
	}
	manufacturer, err := topicAddress(lg.Topics[2])
	if err != nil {
		return err
	}

	payload := &chain.ProductCreated{
		ProductID:    productID,
		Manufacturer: manufacturer,
		Active:       true,
	}
	if err := c.getProduct(ctx, productID, payload); err != nil {
		return fmt.Errorf("enrich product %d: %w", productID, err)
	}
	evt.ProductCreated = payload
	return nil
}

// getProduct performs an eth_call against the contract's getProduct view and
// decodes the returned tuple into the payload.
func (c *Client) getProduct(ctx context.Context, productID uint64, payload *chain.ProductCreated) error {
	callData := append(methodSelector(sigGetProduct), encodeUintArg(productID)...)
	params := []any{
		map[string]any{
			"to":   c.contract,
			"data": "0x" + hex.EncodeToString(callData),
		},
		"latest",
	}
	var result string
	if err := c.call(ctx, "eth_call", params, &result); err != nil {
		return err
	}
	reader, err := newWordReader(result)
	if err != nil {
		return err
	}

	// The tuple is returned behind one offset word; field offsets inside the
	// tuple are relative to the tuple start.
	tupleOffset, err := reader.uintWord(0)
	if err != nil {
		return err
	}
	base := int(tupleOffset) / wordSize

	// Tuple layout: id, name, description, manufacturer, metadataURI,
	// createdAt, active.
	name, err := reader.stringAt(base+1, base)
	if err != nil {
		return fmt.Errorf("decode product name: %w", err)
	}
	description, err := reader.stringAt(base+2, base)
	if err != nil {
		return fmt.Errorf("decode product description: %w", err)
	}
	metadataURI, err := reader.stringAt(base+4, base)
	if err != nil {
		return fmt.Errorf("decode product metadata uri: %w", err)
	}
	createdAt, err := reader.uintWord(base + 5)
	if err != nil {
		return fmt.Errorf("decode product created at: %w", err)
	}
	active, err := reader.boolWord(base + 6)
	if err != nil {
		return fmt.Errorf("decode product active flag: %w", err)
	}

	payload.Name = name
	payload.Description = description
	payload.MetadataURI = metadataURI
	payload.CreatedAt = time.Unix(int64(createdAt), 0).UTC()
	payload.Active = active
	return nil
}

type rpcLog struct {
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	BlockNumber     string   `json:"blockNumber"`
	LogIndex        string   `json:"logIndex"`
	TransactionHash string   `json:"transactionHash"`
	Removed         bool     `json:"removed"`
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", method, resp.StatusCode)
	}

	var parsed rpcResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if parsed.Error != nil {
		return fmt.Errorf("%s: %w", method, parsed.Error)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(parsed.Result, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func hexQuantity(value uint64) string {
	return fmt.Sprintf("0x%x", value)
}
