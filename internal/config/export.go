package config

import (
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ParserExport is the human-readable snapshot spec.md §4.7's `export`
// operation produces (SPEC_FULL §2: serialized via go-toml/v2 and printed
// by `morphoparse export --parser-id <id> ...`). It mirrors the value snapshot
// a Recompile freezes, not the live upstream objects.
type ParserExport struct {
	ObjectID         int64     `toml:"object_id"`
	State            string    `toml:"state"`
	CompileAttempt   string    `toml:"compile_attempt"`
	CompileSucceeded bool      `toml:"compile_succeeded"`
	CompileMessage   string    `toml:"compile_message"`
	RareDelimiter    string    `toml:"rare_delimiter"`
	RichMorphemes    bool      `toml:"rich_morphemes"`
	Categorial       bool      `toml:"categorial"`
	RuleCount        int       `toml:"rule_count"`
	ExportedAt       time.Time `toml:"exported_at"`
}

// ToTOML serializes e as human-readable TOML for inspection/debugging.
func (e ParserExport) ToTOML() ([]byte, error) {
	return toml.Marshal(e)
}
