package postgres

import "net/url"

func redact(dsn string) string {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "postgres"
	}
	if parsed.User != nil {
		parsed.User = url.User(parsed.User.Username())
	}
	return parsed.String()
}
