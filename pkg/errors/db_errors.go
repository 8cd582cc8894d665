// Package errors provides database error classification used by the query
// router to label replica failures before falling back to the primary.
package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// DatabaseErrorType represents the type of database error.
type DatabaseErrorType int

const (
	// ErrorTypeUnknown represents an unknown database error.
	ErrorTypeUnknown DatabaseErrorType = iota
	// ErrorTypeNotFound represents a record not found error.
	ErrorTypeNotFound
	// ErrorTypeDuplicateKey represents a duplicate key violation (MySQL 1062).
	ErrorTypeDuplicateKey
	// ErrorTypeDeadlock represents a deadlock error (MySQL 1213).
	ErrorTypeDeadlock
	// ErrorTypeReadOnly represents a write rejected by a read-only server
	// (MySQL 1290/1836), the signature of a statement routed to a replica.
	ErrorTypeReadOnly
	// ErrorTypeConnection represents a connection-level failure.
	ErrorTypeConnection
	// ErrorTypeTimeout represents a query or dial timeout.
	ErrorTypeTimeout
)

// String implements fmt.Stringer.
func (t DatabaseErrorType) String() string {
	switch t {
	case ErrorTypeNotFound:
		return "not_found"
	case ErrorTypeDuplicateKey:
		return "duplicate_key"
	case ErrorTypeDeadlock:
		return "deadlock"
	case ErrorTypeReadOnly:
		return "read_only"
	case ErrorTypeConnection:
		return "connection"
	case ErrorTypeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// DatabaseError wraps a database error with classification information.
type DatabaseError struct {
	Type         DatabaseErrorType
	OriginalErr  error
	MySQLErrCode uint16
	Message      string
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.MySQLErrCode > 0 {
		return fmt.Sprintf("%s (MySQL error %d): %v", e.Message, e.MySQLErrCode, e.OriginalErr)
	}
	return fmt.Sprintf("%s: %v", e.Message, e.OriginalErr)
}

// Unwrap returns the underlying error for errors.Is and errors.As.
func (e *DatabaseError) Unwrap() error {
	return e.OriginalErr
}

// Classify classifies a database error. The router uses the result to label
// replica failures in logs; classification never changes fallback behavior.
func Classify(err error) *DatabaseError {
	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &DatabaseError{
			Type:        ErrorTypeNotFound,
			OriginalErr: err,
			Message:     "record not found",
		}
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return classifyMySQLError(mysqlErr)
	}

	msg := err.Error()
	switch {
	case isTimeoutError(msg):
		return &DatabaseError{
			Type:        ErrorTypeTimeout,
			OriginalErr: err,
			Message:     "database timeout",
		}
	case isConnectionError(msg):
		return &DatabaseError{
			Type:        ErrorTypeConnection,
			OriginalErr: err,
			Message:     "database connection error",
		}
	}

	return &DatabaseError{
		Type:        ErrorTypeUnknown,
		OriginalErr: err,
		Message:     "unknown database error",
	}
}

// classifyMySQLError classifies a MySQL-specific error by server error code.
func classifyMySQLError(err *mysql.MySQLError) *DatabaseError {
	switch err.Number {
	case 1062: // ER_DUP_ENTRY
		return &DatabaseError{
			Type:         ErrorTypeDuplicateKey,
			OriginalErr:  err,
			MySQLErrCode: err.Number,
			Message:      "duplicate key constraint violation",
		}
	case 1213: // ER_LOCK_DEADLOCK
		return &DatabaseError{
			Type:         ErrorTypeDeadlock,
			OriginalErr:  err,
			MySQLErrCode: err.Number,
			Message:      "deadlock detected",
		}
	case 1290, 1836: // ER_OPTION_PREVENTS_STATEMENT, ER_READ_ONLY_MODE
		return &DatabaseError{
			Type:         ErrorTypeReadOnly,
			OriginalErr:  err,
			MySQLErrCode: err.Number,
			Message:      "statement rejected by read-only server",
		}
	case 1040, 1042, 1043, 1053, 2002, 2003, 2006, 2013:
		// Too many connections, bad handshake, server shutdown,
		// can't connect, server gone away, lost connection.
		return &DatabaseError{
			Type:         ErrorTypeConnection,
			OriginalErr:  err,
			MySQLErrCode: err.Number,
			Message:      "database connection error",
		}
	default:
		return &DatabaseError{
			Type:         ErrorTypeUnknown,
			OriginalErr:  err,
			MySQLErrCode: err.Number,
			Message:      "MySQL error",
		}
	}
}

// IsTransient reports whether the error is connection- or timeout-class:
// the kind recovered locally by falling back to the primary.
func IsTransient(err error) bool {
	dbErr := Classify(err)
	if dbErr == nil {
		return false
	}
	switch dbErr.Type {
	case ErrorTypeConnection, ErrorTypeTimeout, ErrorTypeDeadlock:
		return true
	default:
		return false
	}
}

// IsNotFound reports whether the error is a record not found error.
func IsNotFound(err error) bool {
	dbErr := Classify(err)
	return dbErr != nil && dbErr.Type == ErrorTypeNotFound
}

// IsDuplicateKey reports whether the error is a duplicate key violation.
func IsDuplicateKey(err error) bool {
	dbErr := Classify(err)
	return dbErr != nil && dbErr.Type == ErrorTypeDuplicateKey
}

func isConnectionError(msg string) bool {
	keywords := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"connection lost",
		"can't connect",
		"dial tcp",
		"bad connection",
	}
	lower := strings.ToLower(msg)
	for _, keyword := range keywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

func isTimeoutError(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded")
}
