package mysql

import (
	sqldriver "database/sql/driver"
	"errors"

	driver "github.com/go-sql-driver/mysql"
)

var transientNumbers = map[uint16]bool{
	1040: true, // too many connections
	1205: true, // lock wait timeout
	1213: true, // deadlock
	1158: true, // network read error
	1159: true, // network read timeout
	1160: true, // network write error
	1161: true, // network write timeout
	2006: true, // server has gone away
	2013: true, // lost connection during query
}

var badInputNumbers = map[uint16]bool{
	1048: true, // column cannot be null
	1062: true, // duplicate entry
	1264: true, // out of range
	1292: true, // incorrect value
	1364: true, // field has no default
	1366: true, // incorrect value for column
	1406: true, // data too long
	1451: true, // row is referenced
	1452: true, // foreign key fails
	3819: true, // check constraint
}

func IsTransient(err error) bool {
	if errors.Is(err, sqldriver.ErrBadConn) || errors.Is(err, driver.ErrInvalidConn) {
		return true
	}
	var myErr *driver.MySQLError
	return errors.As(err, &myErr) && transientNumbers[myErr.Number]
}

func IsBadInput(err error) bool {
	var myErr *driver.MySQLError
	return errors.As(err, &myErr) && badInputNumbers[myErr.Number]
}
