//go:build !sqlite3_cgo

package db

import (
	// pure-go driver, the default so release builds stay CGO_ENABLED=0
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const (
	driverID   = "ncruces/go-sqlite3"
	driverName = "sqlite3"
)
