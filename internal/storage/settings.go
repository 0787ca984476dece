package storage

import "context"

// Runtime keys kept in bot_config.
const (
	KeyPaused             = "paused"
	KeySignatureEnabled   = "signature_enabled"
	KeySignatureText      = "signature_text"
	KeySignatureURL       = "signature_url"
	KeyEditRedistribution = "edit_redistribution"
)

type SettingsRepo struct{ base }

func (r *SettingsRepo) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := r.g.get(ctx, &v, `SELECT value FROM bot_config WHERE key = ?`, key)
	return found(v, err)
}

func (r *SettingsRepo) Set(ctx context.Context, key, value string) error {
	_, err := r.g.exec(ctx, `
		INSERT INTO bot_config (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, r.now())
	return err
}

func (r *SettingsRepo) All(ctx context.Context) (map[string]string, error) {
	var rows []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}
	if err := r.g.sel(ctx, &rows, `SELECT key, value FROM bot_config ORDER BY key`); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Value
	}
	return out, nil
}
