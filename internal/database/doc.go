// Package database opens the PostgreSQL pool backing usage history.
package database
