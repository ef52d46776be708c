package config

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/fgeck/psql2dropbox/internal/models"
)

// Recognised connection string keys.
const (
	keyServer   = "Server="
	keyPort     = "Port="
	keyDatabase = "Database="
	keyUserID   = "User Id="
	keyPassword = "Password="
)

// DecodeConnectionString base64-decodes a semicolon-delimited connection string
// such as "Server=db;Port=5432;Database=app;User Id=admin;Password=secret".
func DecodeConnectionString(encoded string) (*models.ConnectionString, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding connection string: %w", err)
	}

	return ParseConnectionString(string(raw)), nil
}

// ParseConnectionString splits a plain connection string into its fields.
// Keys match case-insensitively and the first occurrence wins; a key that
// does not appear leaves its field empty.
func ParseConnectionString(s string) *models.ConnectionString {
	segments := strings.Split(s, ";")
	for i := range segments {
		segments[i] = strings.TrimSpace(segments[i])
	}

	return &models.ConnectionString{
		Server:   lookup(segments, keyServer),
		Port:     lookup(segments, keyPort),
		Database: lookup(segments, keyDatabase),
		UserID:   lookup(segments, keyUserID),
		Password: lookup(segments, keyPassword),
	}
}

func lookup(segments []string, key string) string {
	for _, seg := range segments {
		if len(seg) >= len(key) && strings.EqualFold(seg[:len(key)], key) {
			return seg[len(key):]
		}
	}
	return ""
}
