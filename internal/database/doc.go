// Package database opens the session store database and manages its
// connection pool: health checks, pool statistics and retried
// transactions.
package database
