package model

// WUState is the projection of a single work unit derived by folding its
// ordered event sequence. It is never persisted; the event log is the only
// durable record and state is recomputed from it whenever needed.
type WUState struct {
	ID                 string
	Status             Status
	Lane               string
	Title              string
	Agent              string
	LastEventTimestamp string
}

// WUSpec is the on-disk YAML description of a work unit
// (wus/<id>.yaml under the state dir). The detector cross-checks its
// status field against the event-derived state.
type WUSpec struct {
	SchemaVersion int    `yaml:"schema_version"`
	FileType      string `yaml:"file_type"`
	ID            string `yaml:"id"`
	Title         string `yaml:"title"`
	Lane          string `yaml:"lane"`
	Status        Status `yaml:"status"`
	CreatedAt     string `yaml:"created_at"`
	UpdatedAt     string `yaml:"updated_at"`
}

// WUSpecFileType is the schema header tag for WU spec files.
const WUSpecFileType = "wu_spec"
