package common

// Component names used as logger.WithComponent() labels and metrics labels
// throughout the indexer.
const (
	ComponentRPCClient     = "rpc-client"
	ComponentFetcher       = "fetcher"
	ComponentReorgDetector = "reorg-detector"
	ComponentProcessor     = "processor"
	ComponentCoordinator   = "coordinator"
	ComponentLockManager   = "lock-manager"
	ComponentStore         = "store"
)

var AllComponents = map[string]struct{}{
	ComponentRPCClient:     {},
	ComponentFetcher:       {},
	ComponentReorgDetector: {},
	ComponentProcessor:     {},
	ComponentCoordinator:   {},
	ComponentLockManager:   {},
	ComponentStore:         {},
}
