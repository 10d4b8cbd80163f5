package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(EnvMap{})
	require.NoError(t, err)

	assert.Equal(t, "data/nftsales.db", cfg.SQLitePath)
	assert.False(t, cfg.UsesMySQL())
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "nftsales-transfers", cfg.KafkaTopicPrefix)
	assert.Equal(t, "nftsales-indexer", cfg.KafkaGroupID)
	assert.Equal(t, uint64(12), cfg.Confirmations)
	assert.Equal(t, uint64(100), cfg.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, 100, cfg.CommitBatchSize)
	assert.Equal(t, "contracts.yaml", cfg.ContractsFile)
	assert.Empty(t, cfg.ChainIDs)
	assert.Empty(t, cfg.RedisAddr)
	assert.Zero(t, cfg.LogFetchChunk)
	assert.Equal(t, 1, cfg.LogFetchWorkers)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(EnvMap{
		"RPC_URL":              " http://node:8545 ",
		"DB_DSN":               "user:pw@tcp(db:3306)/sales",
		"START_BLOCK":          "11341538",
		"CONFIRMATIONS":        "0",
		"POLL_INTERVAL":        "250ms",
		"KAFKA_BROKERS":        "k1:9092, k2:9092,",
		"CHAIN_IDS":            "1, 137",
		"COMMIT_INTERVAL":      "2s",
		"LOG_LEVEL":            "debug",
		"LOG_FILE":             "logs/indexer.log",
		"LOG_FETCH_CHUNK_SIZE": "20",
		"LOG_FETCH_WORKERS":    "4",
	})
	require.NoError(t, err)

	assert.Equal(t, "http://node:8545", cfg.RPCURL)
	assert.True(t, cfg.UsesMySQL())
	assert.Empty(t, cfg.SQLitePath)
	assert.Equal(t, uint64(11341538), cfg.StartBlock)
	assert.Equal(t, uint64(0), cfg.Confirmations)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []uint64{1, 137}, cfg.ChainIDs)
	assert.Equal(t, 2*time.Second, cfg.CommitInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "logs/indexer.log", cfg.LogFile)
	assert.Equal(t, uint64(20), cfg.LogFetchChunk)
	assert.Equal(t, 4, cfg.LogFetchWorkers)
}

func TestIndexerChainIDRequiresExactlyOneChain(t *testing.T) {
	_, err := Config{}.IndexerChainID()
	require.Error(t, err)

	_, err = Config{ChainIDs: []uint64{1, 137}}.IndexerChainID()
	require.Error(t, err)

	chainID, err := Config{ChainIDs: []uint64{137}}.IndexerChainID()
	require.NoError(t, err)
	assert.Equal(t, uint64(137), chainID)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	for key, value := range map[string]string{
		"START_BLOCK":   "-1",
		"POLL_INTERVAL": "soon",
		"CHAIN_IDS":     "1,x",
		"KAFKA_BROKERS": ",",
	} {
		t.Run(key, func(t *testing.T) {
			_, err := Load(EnvMap{key: value})
			require.Error(t, err)
		})
	}
}

func TestLoadRequiresSource(t *testing.T) {
	_, err := Load(nil)
	require.Error(t, err)
}
