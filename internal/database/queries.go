package database

import "strings"

var GetSlotQuery = strings.Join([]string{
	"SELECT value",
	"FROM slots",
	"WHERE name = $1",
}, " ")

var PutSlotQuery = strings.Join([]string{
	"INSERT INTO slots (name, value, updated_at)",
	"VALUES ($1, $2, now())",
	"ON CONFLICT (name) DO UPDATE",
	"SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at",
}, " ")

var DeleteSlotQuery = strings.Join([]string{
	"DELETE FROM slots",
	"WHERE name = $1",
}, " ")
