package models

import (
	"fmt"
	"strings"
)

// ConnectionString is the decoded database connection descriptor.
// An empty field means the key was absent from the input.
type ConnectionString struct {
	Server   string
	Port     string
	Database string
	UserID   string
	Password string
}

// Missing returns the keys that were not present in the decoded input.
func (c ConnectionString) Missing() []string {
	var missing []string
	if c.Server == "" {
		missing = append(missing, "Server")
	}
	if c.Port == "" {
		missing = append(missing, "Port")
	}
	if c.Database == "" {
		missing = append(missing, "Database")
	}
	if c.UserID == "" {
		missing = append(missing, "User Id")
	}
	if c.Password == "" {
		missing = append(missing, "Password")
	}
	return missing
}

// String renders the descriptor with the password masked.
func (c ConnectionString) String() string {
	password := ""
	if c.Password != "" {
		password = "****"
	}
	return strings.Join([]string{
		fmt.Sprintf("Server=%s", c.Server),
		fmt.Sprintf("Port=%s", c.Port),
		fmt.Sprintf("Database=%s", c.Database),
		fmt.Sprintf("User Id=%s", c.UserID),
		fmt.Sprintf("Password=%s", password),
	}, ";")
}
