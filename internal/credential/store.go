package credential

import "context"

// Key names the persisted Replicate API token.
const Key = "replicate_api_key"

// Store persists a single credential value. Load reports ok=false when no
// value was ever saved; err is only for a backend that cannot be read.
type Store interface {
	Load(context.Context) (value string, ok bool, err error)
	Save(context.Context, string) error
}
