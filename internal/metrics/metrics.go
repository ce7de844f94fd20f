// Package metrics holds the Prometheus collectors shared by the keychain
// layers. Collectors register on the default registry at init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RegistryLookups counts handle lookups by result ("hit" or "miss").
	RegistryLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keyring_registry_lookups_total",
		Help: "Keychain handle lookups served from or added to the registry cache",
	}, []string{"result"})

	// CursorDatabaseFailures counts databases skipped during a cursor walk.
	CursorDatabaseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keyring_cursor_database_failures_total",
		Help: "Per-database failures swallowed while walking a search cursor",
	})

	// SearchListSaves counts persisted search list writes by scope.
	SearchListSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keyring_searchlist_saves_total",
		Help: "Search list preference files written",
	}, []string{"scope"})

	// PreferenceLookups counts identity preference lookups by result
	// ("found" or "not_found").
	PreferenceLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keyring_identity_preference_lookups_total",
		Help: "Identity preference resolutions",
	}, []string{"result"})
)
