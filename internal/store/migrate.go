package store

import (
	"github.com/google/uuid"

	"chatd/internal/chat"
	"chatd/internal/config"
)

// CurrentVersion is the snapshot schema version written on every save.
const CurrentVersion = 3.3

type migration struct {
	version float64
	apply   func(col *chat.Collection, global config.ModelConfig)
}

// migrations 按版本升序排列，每步幂等。快照版本低于某步版本时执行该步。
// Migrations run in ascending order; each step is idempotent. A step runs
// when the loaded snapshot's version is below the step's version.
var migrations = []migration{
	{2, migrateMasks},
	{3, migrateIDs},
	{3.1, migrateSystemPromptFlag},
	{3.2, migrateDefaultCompressModel},
	{3.3, migrateClearCompressModel},
}

// Migrate upgrades a loaded snapshot in place from its persisted version.
func Migrate(col *chat.Collection, from float64, global config.ModelConfig) {
	for _, m := range migrations {
		if from < m.version {
			m.apply(col, global)
		}
	}
}

// migrateMasks gives pre-mask sessions an empty mask seeded with the global
// model config, and defaults their kind to direct completion.
func migrateMasks(col *chat.Collection, global config.ModelConfig) {
	for _, s := range col.Sessions {
		if s.Mask.ID == "" {
			s.Mask = chat.Mask{
				ID:          uuid.NewString(),
				ModelConfig: global,
			}
		}
		if s.Kind == "" {
			s.Kind = chat.KindDirect
		}
	}
}

// migrateIDs replaces legacy numeric ids with uuids.
func migrateIDs(col *chat.Collection, _ config.ModelConfig) {
	for _, s := range col.Sessions {
		s.ID = uuid.NewString()
		for i := range s.Messages {
			s.Messages[i].ID = uuid.NewString()
		}
	}
}

// migrateSystemPromptFlag enables system prompt injection on sessions that
// predate the flag.
func migrateSystemPromptFlag(col *chat.Collection, global config.ModelConfig) {
	for _, s := range col.Sessions {
		s.Mask.ModelConfig.EnableInjectSystemPrompts = global.EnableInjectSystemPrompts
	}
}

// migrateDefaultCompressModel pins the summarization model explicitly.
func migrateDefaultCompressModel(col *chat.Collection, _ config.ModelConfig) {
	for _, s := range col.Sessions {
		if s.Mask.ModelConfig.CompressModel == "" {
			s.Mask.ModelConfig.CompressModel = "gpt-4o-mini"
		}
	}
}

// migrateClearCompressModel reverts the pinned summarization model so
// sessions follow the per-family mapping again.
func migrateClearCompressModel(col *chat.Collection, _ config.ModelConfig) {
	for _, s := range col.Sessions {
		s.Mask.ModelConfig.CompressModel = ""
		s.Mask.ModelConfig.CompressProvider = ""
	}
}
