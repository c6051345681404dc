package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringList represents a JSON-encoded string array stored in a text column.
type StringList []string

// Value implements the driver.Valuer interface for StringList
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for StringList
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = StringList{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}

	return json.Unmarshal(bytes, l)
}

// Contains reports whether the list holds the exact token.
func (l StringList) Contains(token string) bool {
	for _, s := range l {
		if s == token {
			return true
		}
	}
	return false
}

// CorrelationID formats the message identity used on log lines.
func CorrelationID(mailbox string, uidvalidity, uid uint32) string {
	return fmt.Sprintf("%s|%d|%d", mailbox, uidvalidity, uid)
}
