package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	RPCURL           string
	DBDSN            string
	SQLitePath       string
	HTTPAddr         string
	RedisAddr        string
	CacheTTL         time.Duration
	OtelEndpoint     string
	ContractsFile    string
	StartBlock       uint64
	Confirmations    uint64
	BatchSize        uint64
	PollInterval     time.Duration
	LogFetchChunk    uint64
	LogFetchWorkers  int
	KafkaBrokers     []string
	KafkaTopicPrefix string
	KafkaGroupID     string
	ChainIDs         []uint64
	CommitBatchSize  int
	CommitInterval   time.Duration
	LogLevel         string
	LogFile          string
	LogMaxSizeMB     int
	LogMaxBackups    int
}

type EnvSource interface {
	Lookup(key string) (string, bool)
}

type EnvMap map[string]string

func (e EnvMap) Lookup(key string) (string, bool) {
	value, ok := e[key]
	return value, ok
}

func FromEnviron() EnvSource {
	env := make(EnvMap)
	for _, entry := range os.Environ() {
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		env[parts[0]] = parts[1]
	}
	return env
}

// Load reads the configuration shared by the ordering and indexer
// processes. START_BLOCK left unset means the registry decides.
func Load(source EnvSource) (Config, error) {
	if source == nil {
		return Config{}, errors.New("env source is required")
	}

	startBlock, err := parseUintEnv(source, "START_BLOCK", 0)
	if err != nil {
		return Config{}, err
	}
	confirmations, err := parseUintEnv(source, "CONFIRMATIONS", 12)
	if err != nil {
		return Config{}, err
	}
	batchSize, err := parseUintEnv(source, "BATCH_SIZE", 100)
	if err != nil {
		return Config{}, err
	}
	logFetchChunk, err := parseUintEnv(source, "LOG_FETCH_CHUNK_SIZE", 0)
	if err != nil {
		return Config{}, err
	}
	logFetchWorkers, err := parseUintEnv(source, "LOG_FETCH_WORKERS", 1)
	if err != nil {
		return Config{}, err
	}
	pollInterval, err := parseDurationEnv(source, "POLL_INTERVAL", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	cacheTTL, err := parseDurationEnv(source, "CACHE_TTL", time.Hour)
	if err != nil {
		return Config{}, err
	}
	commitInterval, err := parseDurationEnv(source, "COMMIT_INTERVAL", time.Second)
	if err != nil {
		return Config{}, err
	}
	commitBatchSize, err := parseUintEnv(source, "COMMIT_BATCH_SIZE", 100)
	if err != nil {
		return Config{}, err
	}
	logMaxSize, err := parseUintEnv(source, "LOG_MAX_SIZE_MB", 100)
	if err != nil {
		return Config{}, err
	}
	logMaxBackups, err := parseUintEnv(source, "LOG_MAX_BACKUPS", 5)
	if err != nil {
		return Config{}, err
	}

	rpcURL, _ := source.Lookup("RPC_URL")
	dbDSN, _ := source.Lookup("DB_DSN")
	sqlitePath, _ := source.Lookup("SQLITE_PATH")
	if strings.TrimSpace(dbDSN) == "" && strings.TrimSpace(sqlitePath) == "" {
		sqlitePath = "data/nftsales.db"
	}

	httpAddr := ":8080"
	if raw, ok := source.Lookup("HTTP_ADDR"); ok && raw != "" {
		httpAddr = raw
	}

	redisAddr, _ := source.Lookup("REDIS_ADDR")

	otelEndpoint, _ := source.Lookup("OTEL_EXPORTER_OTLP_ENDPOINT")

	contractsFile, ok := source.Lookup("CONTRACTS_FILE")
	if !ok || strings.TrimSpace(contractsFile) == "" {
		contractsFile = "contracts.yaml"
	}

	kafkaBrokers, err := parseList(source, "KAFKA_BROKERS", "localhost:9092")
	if err != nil {
		return Config{}, err
	}
	kafkaTopicPrefix, ok := source.Lookup("KAFKA_TOPIC_PREFIX")
	if !ok || kafkaTopicPrefix == "" {
		kafkaTopicPrefix = "nftsales-transfers"
	}
	kafkaGroupID, ok := source.Lookup("KAFKA_GROUP_ID")
	if !ok || kafkaGroupID == "" {
		kafkaGroupID = "nftsales-indexer"
	}
	chainIDs, err := parseUintList(source, "CHAIN_IDS")
	if err != nil {
		return Config{}, err
	}

	logLevel, _ := source.Lookup("LOG_LEVEL")
	logFile, _ := source.Lookup("LOG_FILE")

	return Config{
		RPCURL:           strings.TrimSpace(rpcURL),
		DBDSN:            strings.TrimSpace(dbDSN),
		SQLitePath:       strings.TrimSpace(sqlitePath),
		HTTPAddr:         httpAddr,
		RedisAddr:        strings.TrimSpace(redisAddr),
		CacheTTL:         cacheTTL,
		OtelEndpoint:     strings.TrimSpace(otelEndpoint),
		ContractsFile:    contractsFile,
		StartBlock:       startBlock,
		Confirmations:    confirmations,
		BatchSize:        batchSize,
		PollInterval:     pollInterval,
		LogFetchChunk:    logFetchChunk,
		LogFetchWorkers:  int(logFetchWorkers),
		KafkaBrokers:     kafkaBrokers,
		KafkaTopicPrefix: kafkaTopicPrefix,
		KafkaGroupID:     kafkaGroupID,
		ChainIDs:         chainIDs,
		CommitBatchSize:  int(commitBatchSize),
		CommitInterval:   commitInterval,
		LogLevel:         strings.TrimSpace(logLevel),
		LogFile:          strings.TrimSpace(logFile),
		LogMaxSizeMB:     int(logMaxSize),
		LogMaxBackups:    int(logMaxBackups),
	}, nil
}

// IndexerChainID returns the single chain an indexer store belongs to. The
// engine keeps one ProcessState per store, so one indexer serves one chain.
func (c Config) IndexerChainID() (uint64, error) {
	if len(c.ChainIDs) != 1 {
		return 0, fmt.Errorf("CHAIN_IDS must name exactly one chain per indexer, got %d", len(c.ChainIDs))
	}
	return c.ChainIDs[0], nil
}

// UsesMySQL reports whether DB_DSN selects the MySQL store over SQLite.
func (c Config) UsesMySQL() bool {
	return c.DBDSN != ""
}

func parseUintEnv(source EnvSource, key string, defaultValue uint64) (uint64, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseDurationEnv(source EnvSource, key string, defaultValue time.Duration) (time.Duration, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	duration, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return duration, nil
}

func parseList(source EnvSource, key string, defaultValue string) ([]string, error) {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		raw = defaultValue
	}
	items := strings.Split(raw, ",")
	var values []string
	for _, item := range items {
		value := strings.TrimSpace(item)
		if value == "" {
			continue
		}
		values = append(values, value)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s is required", key)
	}
	return values, nil
}

func parseUintList(source EnvSource, key string) ([]uint64, error) {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	items := strings.Split(raw, ",")
	values := make([]uint64, 0, len(items))
	for _, item := range items {
		value := strings.TrimSpace(item)
		if value == "" {
			continue
		}
		parsed, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		values = append(values, parsed)
	}
	return values, nil
}
