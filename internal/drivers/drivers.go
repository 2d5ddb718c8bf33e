// Package drivers registers every backend.
package drivers

import (
	_ "github.com/shopmonkeyus/entitydb/internal/drivers/memory"
	_ "github.com/shopmonkeyus/entitydb/internal/drivers/mysql"
	_ "github.com/shopmonkeyus/entitydb/internal/drivers/postgresql"
	_ "github.com/shopmonkeyus/entitydb/internal/drivers/sqlite"
	_ "github.com/shopmonkeyus/entitydb/internal/drivers/sqlserver"
)
