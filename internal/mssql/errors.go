package mssql

import (
	sqldriver "database/sql/driver"
	"errors"

	driver "github.com/microsoft/go-mssqldb"
)

// Error numbers of faults a retry can clear.
var transientNumbers = map[int32]bool{
	20:    true, // instance does not support encryption
	64:    true, // connection closed by the remote host
	121:   true, // semaphore timeout
	233:   true, // no process on the other end of the pipe
	1205:  true, // deadlock victim
	4060:  true, // cannot open database
	4221:  true, // login to read-secondary failed
	10053: true, // transport-level error
	10054: true, // connection reset
	10060: true, // network timeout
	10928: true, // resource limit
	10929: true, // resource limit
	40143: true,
	40197: true, // service error processing request
	40501: true, // service busy
	40540: true,
	40613: true, // database unavailable
	49918: true,
	49919: true,
	49920: true,
}

var badInputNumbers = map[int32]bool{
	206:  true, // operand type clash
	241:  true, // date conversion failed
	245:  true, // conversion failed
	515:  true, // cannot insert null
	547:  true, // constraint conflict
	2601: true, // duplicate key row
	2627: true, // unique constraint
	2628: true, // string truncated
	8114: true, // error converting data type
	8115: true, // arithmetic overflow
	8152: true, // string would be truncated
}

func number(err error) (int32, bool) {
	var e driver.Error
	if errors.As(err, &e) {
		return e.Number, true
	}
	var pe *driver.Error
	if errors.As(err, &pe) {
		return pe.Number, true
	}
	return 0, false
}

func IsTransient(err error) bool {
	if errors.Is(err, sqldriver.ErrBadConn) {
		return true
	}
	n, ok := number(err)
	return ok && transientNumbers[n]
}

func IsBadInput(err error) bool {
	n, ok := number(err)
	return ok && badInputNumbers[n]
}
