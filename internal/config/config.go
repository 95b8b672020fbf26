package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lumenwallet/custody/internal/core/application"
	"github.com/lumenwallet/custody/internal/core/domain"
	"github.com/lumenwallet/custody/internal/core/ports"
	"github.com/lumenwallet/custody/internal/infrastructure/connectivity"
	"github.com/lumenwallet/custody/internal/infrastructure/cypher"
	"github.com/lumenwallet/custody/internal/infrastructure/db"
	badgerdb "github.com/lumenwallet/custody/internal/infrastructure/db/badger"
	"github.com/lumenwallet/custody/internal/infrastructure/ledger"
	"github.com/lumenwallet/custody/internal/infrastructure/metrics"
	inmemorylocker "github.com/lumenwallet/custody/internal/infrastructure/row-locker/inmemory"
	redislocker "github.com/lumenwallet/custody/internal/infrastructure/row-locker/redis"
	scheduler "github.com/lumenwallet/custody/internal/infrastructure/scheduler/gocron"
	txbuilder "github.com/lumenwallet/custody/internal/infrastructure/tx-builder"
	envunlocker "github.com/lumenwallet/custody/internal/infrastructure/unlocker/env"
	fileunlocker "github.com/lumenwallet/custody/internal/infrastructure/unlocker/file"
	filestore "github.com/lumenwallet/custody/internal/infrastructure/walletstore/file"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var (
	supportedOfflineStores = supportedType{
		"badger": {},
	}
	supportedScheduleStores = supportedType{
		"sqlite": {},
	}
	supportedWalletStores = supportedType{
		"file":   {},
		"badger": {},
	}
	supportedUnlockers = supportedType{
		"env":  {},
		"file": {},
	}
	supportedRowLockers = supportedType{
		"inmemory": {},
		"redis":    {},
	}
)

type Config struct {
	Datadir  string
	LogLevel int
	WalletId string

	OfflineStoreType  string
	ScheduleStoreType string
	WalletStoreType   string
	DbDir             string

	LedgerURL         string
	LedgerTimeout     time.Duration
	NetworkPassphrase string

	KdfIterations     uint32
	SessionTTL        time.Duration
	MaxAttempts       uint32
	BackoffBase       time.Duration
	DrainInterval     int64
	SchedulerInterval int64

	UnlockerType     string
	UnlockerFilePath string // file unlocker
	UnlockerPassword string `json:"-"` // env unlocker

	RowLockerType string
	RedisUrl      string `json:"-"`
	RowLockTTL    time.Duration

	MetricsPort   uint32
	ProbeAddr     string
	ProbeInterval time.Duration

	repo        ports.RepoManager
	walletStore domain.WalletStore
	custody     ports.KeyCustody
	ledger      ports.LedgerClient
	txBuilder   ports.TxBuilder
	scheduler   ports.SchedulerService
	unlocker    ports.Unlocker
	locker      ports.RowLocker
	redis       *redis.Client
	monitor     *connectivity.Monitor
	registry    *prometheus.Registry
	metrics     ports.Metrics
	session     *application.SessionKeyCache

	syncEngine  *application.SyncEngine
	executor    *application.Executor
	scheduleSvc *application.ScheduleService
	wallet      *application.Wallet
}

func (c *Config) String() string {
	json, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("error while marshalling config JSON: %s", err)
	}
	return string(json)
}

var (
	Datadir           = "DATADIR"
	LogLevel          = "LOG_LEVEL"
	WalletId          = "WALLET_ID"
	OfflineStoreType  = "OFFLINE_STORE_TYPE"
	ScheduleStoreType = "SCHEDULE_STORE_TYPE"
	WalletStoreType   = "WALLET_STORE_TYPE"
	LedgerURL         = "LEDGER_URL"
	LedgerTimeout     = "LEDGER_TIMEOUT"
	NetworkPassphrase = "NETWORK_PASSPHRASE"
	KdfIterations     = "KDF_ITERATIONS"
	SessionTTL        = "SESSION_TTL"
	MaxAttempts       = "MAX_ATTEMPTS"
	BackoffBase       = "BACKOFF_BASE"
	DrainInterval     = "DRAIN_INTERVAL"
	SchedulerInterval = "SCHEDULER_INTERVAL"
	UnlockerType      = "UNLOCKER_TYPE"
	UnlockerFilePath  = "UNLOCKER_FILE_PATH"
	UnlockerPassword  = "UNLOCKER_PASSWORD"
	RowLockerType     = "ROW_LOCKER_TYPE"
	RedisUrl          = "REDIS_URL"
	RowLockTTL        = "ROW_LOCK_TTL"
	MetricsPort       = "METRICS_PORT"
	ProbeAddr         = "PROBE_ADDR"
	ProbeInterval     = "PROBE_INTERVAL"

	defaultDatadir           = btcutil.AppDataDir("custody", false)
	defaultLogLevel          = 4
	defaultWalletId          = "default"
	defaultOfflineStoreType  = "badger"
	defaultScheduleStoreType = "sqlite"
	defaultWalletStoreType   = "file"
	defaultLedgerURL         = "http://localhost:8000"
	defaultLedgerTimeout     = 15 * time.Second
	defaultNetworkPassphrase = "Test Network"
	defaultKdfIterations     = cypher.DefaultIterations
	defaultSessionTTL        = application.DefaultSessionTTL
	defaultMaxAttempts       = application.DefaultMaxAttempts
	defaultBackoffBase       = application.DefaultBackoffBase
	defaultDrainInterval     = 60
	defaultSchedulerInterval = 300
	defaultRowLockerType     = "inmemory"
	defaultRowLockTTL        = application.DefaultRowLockTTL
	defaultMetricsPort       = 9090
	defaultProbeInterval     = 10 * time.Second
)

func LoadConfig() (*Config, error) {
	viper.SetEnvPrefix("CUSTODY")
	viper.AutomaticEnv()

	viper.SetDefault(Datadir, defaultDatadir)
	viper.SetDefault(LogLevel, defaultLogLevel)
	viper.SetDefault(WalletId, defaultWalletId)
	viper.SetDefault(OfflineStoreType, defaultOfflineStoreType)
	viper.SetDefault(ScheduleStoreType, defaultScheduleStoreType)
	viper.SetDefault(WalletStoreType, defaultWalletStoreType)
	viper.SetDefault(LedgerURL, defaultLedgerURL)
	viper.SetDefault(LedgerTimeout, defaultLedgerTimeout)
	viper.SetDefault(NetworkPassphrase, defaultNetworkPassphrase)
	viper.SetDefault(KdfIterations, defaultKdfIterations)
	viper.SetDefault(SessionTTL, defaultSessionTTL)
	viper.SetDefault(MaxAttempts, defaultMaxAttempts)
	viper.SetDefault(BackoffBase, defaultBackoffBase)
	viper.SetDefault(DrainInterval, defaultDrainInterval)
	viper.SetDefault(SchedulerInterval, defaultSchedulerInterval)
	viper.SetDefault(RowLockerType, defaultRowLockerType)
	viper.SetDefault(RowLockTTL, defaultRowLockTTL)
	viper.SetDefault(MetricsPort, defaultMetricsPort)
	viper.SetDefault(ProbeInterval, defaultProbeInterval)

	if err := initDatadir(); err != nil {
		return nil, fmt.Errorf("error while creating datadir: %s", err)
	}

	return &Config{
		Datadir:           viper.GetString(Datadir),
		LogLevel:          viper.GetInt(LogLevel),
		WalletId:          viper.GetString(WalletId),
		OfflineStoreType:  viper.GetString(OfflineStoreType),
		ScheduleStoreType: viper.GetString(ScheduleStoreType),
		WalletStoreType:   viper.GetString(WalletStoreType),
		DbDir:             filepath.Join(viper.GetString(Datadir), "db"),
		LedgerURL:         viper.GetString(LedgerURL),
		LedgerTimeout:     viper.GetDuration(LedgerTimeout),
		NetworkPassphrase: viper.GetString(NetworkPassphrase),
		KdfIterations:     viper.GetUint32(KdfIterations),
		SessionTTL:        viper.GetDuration(SessionTTL),
		MaxAttempts:       viper.GetUint32(MaxAttempts),
		BackoffBase:       viper.GetDuration(BackoffBase),
		DrainInterval:     viper.GetInt64(DrainInterval),
		SchedulerInterval: viper.GetInt64(SchedulerInterval),
		UnlockerType:      viper.GetString(UnlockerType),
		UnlockerFilePath:  viper.GetString(UnlockerFilePath),
		UnlockerPassword:  viper.GetString(UnlockerPassword),
		RowLockerType:     viper.GetString(RowLockerType),
		RedisUrl:          viper.GetString(RedisUrl),
		RowLockTTL:        viper.GetDuration(RowLockTTL),
		MetricsPort:       viper.GetUint32(MetricsPort),
		ProbeAddr:         viper.GetString(ProbeAddr),
		ProbeInterval:     viper.GetDuration(ProbeInterval),
	}, nil
}

func initDatadir() error {
	datadir := viper.GetString(Datadir)
	return makeDirectoryIfNotExists(datadir)
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}

// Validate checks the settings and prepares the infrastructure services.
func (c *Config) Validate() error {
	if !supportedOfflineStores.supports(c.OfflineStoreType) {
		return fmt.Errorf("offline store type not supported, please select one of: %s", supportedOfflineStores)
	}
	if !supportedScheduleStores.supports(c.ScheduleStoreType) {
		return fmt.Errorf("schedule store type not supported, please select one of: %s", supportedScheduleStores)
	}
	if !supportedWalletStores.supports(c.WalletStoreType) {
		return fmt.Errorf("wallet store type not supported, please select one of: %s", supportedWalletStores)
	}
	if len(c.UnlockerType) > 0 && !supportedUnlockers.supports(c.UnlockerType) {
		return fmt.Errorf("unlocker type not supported, please select one of: %s", supportedUnlockers)
	}
	if !supportedRowLockers.supports(c.RowLockerType) {
		return fmt.Errorf("row locker type not supported, please select one of: %s", supportedRowLockers)
	}
	if c.RowLockerType == "redis" && len(c.RedisUrl) <= 0 {
		return fmt.Errorf("missing redis url")
	}
	if len(c.WalletId) <= 0 {
		return fmt.Errorf("missing wallet id")
	}
	if len(c.LedgerURL) <= 0 {
		return fmt.Errorf("missing ledger url")
	}
	if c.KdfIterations < cypher.MinIterations || c.KdfIterations > cypher.MaxIterations {
		return fmt.Errorf(
			"invalid kdf iterations, must be between %d and %d",
			cypher.MinIterations, cypher.MaxIterations,
		)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("invalid session ttl, must be greater than 0")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("invalid max attempts, must be greater than 0")
	}
	if c.BackoffBase <= 0 {
		return fmt.Errorf("invalid backoff base, must be greater than 0")
	}
	if c.DrainInterval < 0 {
		return fmt.Errorf("invalid drain interval, must not be negative")
	}
	if c.SchedulerInterval < 1 {
		return fmt.Errorf("invalid scheduler interval, must be at least 1 second")
	}
	if c.RowLockTTL <= 0 {
		return fmt.Errorf("invalid row lock ttl, must be greater than 0")
	}
	if len(c.ProbeAddr) > 0 && c.ProbeInterval <= 0 {
		return fmt.Errorf("invalid probe interval, must be greater than 0")
	}

	if err := c.repoManager(); err != nil {
		return err
	}
	if err := c.walletStoreService(); err != nil {
		return err
	}
	if err := c.custodyService(); err != nil {
		return err
	}
	if err := c.ledgerService(); err != nil {
		return err
	}
	if err := c.txBuilderService(); err != nil {
		return err
	}
	if err := c.metricsService(); err != nil {
		return err
	}
	if err := c.rowLockerService(); err != nil {
		return err
	}
	if err := c.unlockerService(); err != nil {
		return err
	}
	c.schedulerService()
	c.monitorService()
	c.sessionService()
	return nil
}

func (c *Config) SyncEngine() *application.SyncEngine {
	if c.syncEngine == nil {
		c.syncEngine = application.NewSyncEngine(
			c.repo.OfflineStore(), c.monitor, c.ledger, c.txBuilder, c.session,
			c.scheduler, c.metrics, application.SyncEngineConfig{
				MaxAttempts:   c.MaxAttempts,
				BackoffBase:   c.BackoffBase,
				DrainInterval: c.DrainInterval,
			},
		)
	}
	return c.syncEngine
}

func (c *Config) Executor() (*application.Executor, error) {
	if c.executor == nil {
		if c.unlocker == nil {
			return nil, fmt.Errorf("missing unlocker, the executor needs the master password")
		}
		c.executor = application.NewExecutor(
			c.repo.ScheduledPayments(), c.custody, c.ledger, c.txBuilder,
			c.unlocker, c.locker, domain.NewAuditLog(domain.DefaultAuditLogSize),
			c.metrics, c.RowLockTTL,
		)
	}
	return c.executor, nil
}

func (c *Config) ScheduleService() (*application.ScheduleService, error) {
	if c.scheduleSvc == nil {
		if c.unlocker == nil {
			return nil, fmt.Errorf("missing unlocker, scheduled payments need the master password")
		}
		c.scheduleSvc = application.NewScheduleService(
			c.repo.ScheduledPayments(), c.custody, c.txBuilder, c.session, c.unlocker,
		)
	}
	return c.scheduleSvc, nil
}

func (c *Config) Wallet() *application.Wallet {
	if c.wallet == nil {
		c.wallet = application.NewWallet(
			c.WalletId, c.walletStore, c.custody, c.txBuilder, c.session,
		)
	}
	return c.wallet
}

func (c *Config) Monitor() *connectivity.Monitor {
	return c.monitor
}

func (c *Config) SchedulerService() ports.SchedulerService {
	return c.scheduler
}

func (c *Config) MetricsRegistry() *prometheus.Registry {
	return c.registry
}

// StartProbing keeps the connectivity state up to date, if a probe address
// is configured.
func (c *Config) StartProbing(ctx context.Context) {
	if len(c.ProbeAddr) <= 0 {
		return
	}
	c.monitor.StartProbing(ctx, c.ProbeAddr, c.ProbeInterval)
}

func (c *Config) Close() {
	if c.syncEngine != nil {
		c.syncEngine.Stop()
	}
	if c.session != nil {
		c.session.Clear()
	}
	if c.monitor != nil {
		c.monitor.Stop()
	}
	if c.repo != nil {
		c.repo.Close()
	}
	if c.walletStore != nil {
		c.walletStore.Close()
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			log.WithError(err).Warn("failed to close redis client")
		}
	}
}

func (c *Config) repoManager() error {
	var offlineStoreConfig []interface{}
	var scheduleStoreConfig []interface{}

	if err := makeDirectoryIfNotExists(c.DbDir); err != nil {
		return fmt.Errorf("error while creating db dir: %s", err)
	}
	logger := log.StandardLogger()

	switch c.OfflineStoreType {
	case "badger":
		offlineStoreConfig = []interface{}{c.DbDir, logger}
	default:
		return fmt.Errorf("unknown offline store type")
	}

	switch c.ScheduleStoreType {
	case "sqlite":
		scheduleStoreConfig = []interface{}{c.DbDir}
	default:
		return fmt.Errorf("unknown schedule store type")
	}

	svc, err := db.NewService(db.ServiceConfig{
		OfflineStoreType:    c.OfflineStoreType,
		ScheduleStoreType:   c.ScheduleStoreType,
		OfflineStoreConfig:  offlineStoreConfig,
		ScheduleStoreConfig: scheduleStoreConfig,
	})
	if err != nil {
		return err
	}
	c.repo = svc
	return nil
}

func (c *Config) walletStoreService() error {
	var svc domain.WalletStore
	var err error
	switch c.WalletStoreType {
	case "file":
		svc, err = filestore.NewWalletStore(c.Datadir)
	case "badger":
		svc, err = badgerdb.NewWalletStore(c.DbDir, log.StandardLogger())
	default:
		err = fmt.Errorf("unknown wallet store type")
	}
	if err != nil {
		return err
	}
	c.walletStore = svc
	return nil
}

func (c *Config) custodyService() error {
	svc, err := cypher.NewService(c.KdfIterations)
	if err != nil {
		return err
	}
	c.custody = svc
	return nil
}

func (c *Config) ledgerService() error {
	svc, err := ledger.NewClient(c.LedgerURL, c.LedgerTimeout)
	if err != nil {
		return err
	}
	c.ledger = svc
	return nil
}

func (c *Config) txBuilderService() error {
	svc, err := txbuilder.NewTxBuilder(c.NetworkPassphrase)
	if err != nil {
		return err
	}
	c.txBuilder = svc
	return nil
}

func (c *Config) metricsService() error {
	c.registry = prometheus.NewRegistry()
	svc, err := metrics.NewService(c.registry)
	if err != nil {
		return err
	}
	c.metrics = svc
	return nil
}

func (c *Config) rowLockerService() error {
	switch c.RowLockerType {
	case "inmemory":
		c.locker = inmemorylocker.NewRowLocker()
	case "redis":
		opts, err := redis.ParseURL(c.RedisUrl)
		if err != nil {
			return fmt.Errorf("invalid redis url: %s", err)
		}
		c.redis = redis.NewClient(opts)
		c.locker = redislocker.NewRowLocker(c.redis)
	default:
		return fmt.Errorf("unknown row locker type")
	}
	return nil
}

func (c *Config) unlockerService() error {
	if len(c.UnlockerType) <= 0 {
		return nil
	}

	var svc ports.Unlocker
	var err error
	switch c.UnlockerType {
	case "file":
		svc, err = fileunlocker.NewService(c.UnlockerFilePath)
	case "env":
		svc, err = envunlocker.NewService(c.UnlockerPassword)
	default:
		err = fmt.Errorf("unknown unlocker type")
	}
	if err != nil {
		return err
	}
	c.unlocker = svc
	return nil
}

func (c *Config) schedulerService() {
	c.scheduler = scheduler.NewScheduler()
}

// monitorService assumes the ledger is reachable unless a probe address says
// otherwise.
func (c *Config) monitorService() {
	if len(c.ProbeAddr) <= 0 {
		c.monitor = connectivity.NewMonitor(true)
		return
	}
	c.monitor = connectivity.NewMonitor(false)
	ctx, cancel := context.WithTimeout(context.Background(), c.ProbeInterval)
	defer cancel()
	c.monitor.Check(ctx, c.ProbeAddr)
}

func (c *Config) sessionService() {
	c.session = application.NewSessionKeyCache(
		c.custody, domain.NewAuditLog(domain.DefaultAuditLogSize), c.SessionTTL,
	)
}

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	return strings.Join(types, " | ")
}

func (t supportedType) supports(typeStr string) bool {
	_, ok := t[typeStr]
	return ok
}
