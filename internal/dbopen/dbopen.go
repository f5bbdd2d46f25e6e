// Copyright (C) 2025-2026 CartaHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package dbopen

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// ErrDatabaseNotConfigured indicates that none of the HIERDB_* connection
// variables are set.
var ErrDatabaseNotConfigured = errors.New("database connection configuration is unavailable")

// hierDBURLFromEnv builds the hierarchy-database connection URL. HIERDB_URL
// wins outright; otherwise the URL is assembled from HIERDB_HOST,
// HIERDB_DBNAME (both required), HIERDB_PORT (default 5432), HIERDB_USER,
// HIERDB_PASSWORD, and HIERDB_SSLMODE.
func hierDBURLFromEnv() (string, error) {
	if u := os.Getenv("HIERDB_URL"); u != "" {
		return u, nil
	}

	host := os.Getenv("HIERDB_HOST")
	dbname := os.Getenv("HIERDB_DBNAME")
	var missing []string
	if host == "" {
		missing = append(missing, "HIERDB_HOST")
	}
	if dbname == "" {
		missing = append(missing, "HIERDB_DBNAME")
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	port := os.Getenv("HIERDB_PORT")
	if port == "" {
		port = "5432"
	}

	u := &url.URL{
		Scheme: "postgresql",
		Host:   host + ":" + port,
		Path:   dbname,
	}
	if user := os.Getenv("HIERDB_USER"); user != "" {
		if pass := os.Getenv("HIERDB_PASSWORD"); pass != "" {
			u.User = url.UserPassword(user, pass)
		} else {
			u.User = url.User(user)
		}
	}

	q := u.Query()
	if sslmode := os.Getenv("HIERDB_SSLMODE"); sslmode != "" {
		q.Set("sslmode", sslmode)
	}
	if appName := applicationNameFromEnv(); appName != "" && q.Get("application_name") == "" {
		q.Set("application_name", appName)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// applicationNameFromEnv derives a Postgres application_name from
// OTEL_SERVICE_NAME, sanitized to the identifier characters Postgres
// accepts and clipped to its 63-byte limit.
func applicationNameFromEnv() string {
	name := os.Getenv("OTEL_SERVICE_NAME")
	if name == "" {
		return ""
	}
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, name)
	if len(name) > 63 {
		name = name[:63]
	}
	return name
}
