package ethrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"nftsales/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// TransferTopic is keccak256("Transfer(address,address,uint256)"), shared by
// ERC20 and ERC721.
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

var ErrNotFound = errors.New("not found")

type Client struct {
	url        string
	httpClient *http.Client
	idCounter  uint64
	addresses  []string
}

type Config struct {
	URL       string
	Addresses []string
	Timeout   time.Duration
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("rpc url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	addresses := make([]string, 0, len(cfg.Addresses))
	for _, address := range cfg.Addresses {
		addresses = append(addresses, strings.ToLower(address))
	}
	return &Client{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		addresses:  addresses,
	}, nil
}

func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	var result string
	if err := c.call(ctx, "eth_chainId", []any{}, &result); err != nil {
		return 0, err
	}
	return parseHexUint(result)
}

func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var result string
	if err := c.call(ctx, "eth_blockNumber", []any{}, &result); err != nil {
		return 0, err
	}
	return parseHexUint(result)
}

// FetchTransfers returns the Transfer logs of the watched contracts. Logs
// with three topics are ERC20 transfers, logs with four are ERC721.
func (c *Client) FetchTransfers(ctx context.Context, fromBlock, toBlock uint64) ([]domain.TransferLog, error) {
	filter := map[string]any{
		"fromBlock": hexutil.EncodeUint64(fromBlock),
		"toBlock":   hexutil.EncodeUint64(toBlock),
		"topics":    []any{TransferTopic.Hex()},
	}
	if len(c.addresses) > 0 {
		filter["address"] = c.addresses
	}

	var result []rpcLog
	if err := c.call(ctx, "eth_getLogs", []any{filter}, &result); err != nil {
		return nil, err
	}

	logs := make([]domain.TransferLog, 0, len(result))
	for _, log := range result {
		if log.Removed || len(log.Topics) < 3 {
			continue
		}
		if !strings.EqualFold(log.Topics[0], TransferTopic.Hex()) {
			continue
		}
		blockNumber, err := parseHexUint(log.BlockNumber)
		if err != nil {
			return nil, fmt.Errorf("log block number: %w", err)
		}
		logIndex, err := parseHexUint(log.LogIndex)
		if err != nil {
			return nil, fmt.Errorf("log index: %w", err)
		}
		transfer := domain.TransferLog{
			BlockNumber: blockNumber,
			TxHash:      strings.ToLower(log.TxHash),
			LogIndex:    logIndex,
			Contract:    strings.ToLower(log.Address),
			From:        topicAddress(log.Topics[1]),
			To:          topicAddress(log.Topics[2]),
		}
		switch len(log.Topics) {
		case 3:
			transfer.Standard = domain.StandardERC20
			transfer.Value = new(big.Int).SetBytes(common.FromHex(log.Data))
		case 4:
			transfer.Standard = domain.StandardERC721
			transfer.Value = common.HexToHash(log.Topics[3]).Big()
		default:
			continue
		}
		logs = append(logs, transfer)
	}

	return logs, nil
}

func (c *Client) BlockTimestamp(ctx context.Context, blockNumber uint64) (uint64, bool, error) {
	var result *rpcBlock
	if err := c.call(ctx, "eth_getBlockByNumber", []any{hexutil.EncodeUint64(blockNumber), false}, &result); err != nil {
		return 0, false, err
	}
	if result == nil {
		return 0, false, nil
	}
	timestamp, err := parseHexUint(result.Timestamp)
	if err != nil {
		return 0, false, fmt.Errorf("block timestamp: %w", err)
	}
	return timestamp, true, nil
}

func (c *Client) Transaction(ctx context.Context, txHash string) (domain.TransactionInfo, error) {
	var result *rpcTransaction
	if err := c.call(ctx, "eth_getTransactionByHash", []any{txHash}, &result); err != nil {
		return domain.TransactionInfo{}, err
	}
	if result == nil {
		return domain.TransactionInfo{}, fmt.Errorf("%w: transaction %s", ErrNotFound, txHash)
	}
	value := new(big.Int)
	if result.Value != "" {
		parsed, err := hexutil.DecodeBig(result.Value)
		if err != nil {
			return domain.TransactionInfo{}, fmt.Errorf("transaction value: %w", err)
		}
		value = parsed
	}
	info := domain.TransactionInfo{Hash: strings.ToLower(result.Hash), Value: value}
	if result.To != nil && *result.To != "" {
		to := strings.ToLower(*result.To)
		info.To = &to
	}
	return info, nil
}

func topicAddress(topic string) string {
	return strings.ToLower(common.BytesToAddress(common.FromHex(topic)).Hex())
}

type rpcLog struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber string   `json:"blockNumber"`
	TxHash      string   `json:"transactionHash"`
	LogIndex    string   `json:"logIndex"`
	Removed     bool     `json:"removed"`
}

type rpcBlock struct {
	Number    string `json:"number"`
	Timestamp string `json:"timestamp"`
}

type rpcTransaction struct {
	Hash  string  `json:"hash"`
	To    *string `json:"to"`
	Value string  `json:"value"`
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	id := atomic.AddUint64(&c.idCounter, 1)
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: rpc status %d", method, resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("%s: rpc error %d: %s", method, decoded.Error.Code, decoded.Error.Message)
	}
	if result == nil {
		return nil
	}
	if len(decoded.Result) == 0 {
		return fmt.Errorf("%s: rpc result is empty", method)
	}
	return json.Unmarshal(decoded.Result, result)
}

func parseHexUint(value string) (uint64, error) {
	trimmed := strings.TrimPrefix(value, "0x")
	if trimmed == "" {
		return 0, errors.New("empty hex value")
	}
	return strconv.ParseUint(trimmed, 16, 64)
}
